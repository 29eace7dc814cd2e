package model

import "time"

// InstrumentPair links a share with the futures contract written on it.
// ScaleFactor converts the raw futures quote into share-comparable units:
// contracts may quote in points, lots, or already in currency.
type InstrumentPair struct {
	Underlying  string  `json:"underlying" toml:"underlying"`
	Derivative  string  `json:"derivative" toml:"derivative"`
	ScaleFactor float64 `json:"scale_factor" toml:"scale_factor"`

	// Shares per exchange lot / shares per contract. Used for leg sizing.
	UnderlyingLot int `json:"underlying_lot" toml:"underlying_lot"`
	DerivativeLot int `json:"derivative_lot" toml:"derivative_lot"`
}

// Key identifies the pair in position maps and storage.
func (p InstrumentPair) Key() string {
	return p.Underlying + "_" + p.Derivative
}

// Quote is one observed price. Never persisted; lives for a single cycle.
type Quote struct {
	Ticker     string    `json:"ticker"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// QuotePair holds both legs of one fetch. A nil leg means the upstream had
// no usable price this cycle.
type QuotePair struct {
	Underlying *Quote `json:"underlying"`
	Derivative *Quote `json:"derivative"`
}

// Complete reports whether both legs carry a positive price.
func (q QuotePair) Complete() bool {
	return q.Underlying != nil && q.Derivative != nil &&
		q.Underlying.Price > 0 && q.Derivative.Price > 0
}
