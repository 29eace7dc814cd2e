package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignalAction is the closed set of things a signal can ask for.
type SignalAction uint8

const (
	ActionOpen SignalAction = iota + 1
	ActionClose
)

func (a SignalAction) String() string {
	switch a {
	case ActionOpen:
		return "OPEN"
	case ActionClose:
		return "CLOSE"
	}
	return fmt.Sprintf("SignalAction(%d)", uint8(a))
}

func (a SignalAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *SignalAction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "OPEN":
		*a = ActionOpen
	case "CLOSE":
		*a = ActionClose
	default:
		return fmt.Errorf("unknown signal action %q", s)
	}
	return nil
}

// Side is the direction of one leg.
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v {
	case "BUY":
		*s = SideBuy
	case "SELL":
		*s = SideSell
	default:
		return fmt.Errorf("unknown side %q", v)
	}
	return nil
}

// Urgency tiers for open signals. Tier 3 is the loudest.
const (
	UrgencyNormal = 1
	UrgencyHigh   = 2
	UrgencyMax    = 3
)

// Signal is an immutable event record produced by the spread engine.
// The two legs are always on opposite sides.
type Signal struct {
	Pair            InstrumentPair `json:"pair"`
	Action          SignalAction   `json:"action"`
	UnderlyingPrice float64        `json:"underlying_price"`
	DerivativePrice float64        `json:"derivative_price"`
	SpreadPercent   float64        `json:"spread_percent"`
	UnderlyingSide  Side           `json:"underlying_side"`
	DerivativeSide  Side           `json:"derivative_side"`
	UnderlyingLots  int            `json:"underlying_lots"`
	DerivativeLots  int            `json:"derivative_lots"`
	Urgency         int            `json:"urgency"`
	Timestamp       time.Time      `json:"ts"`
}

// Position is an open arbitrage position. At most one exists per pair;
// the spread engine owns the map exclusively.
type Position struct {
	Pair           InstrumentPair `json:"pair"`
	UnderlyingSide Side           `json:"underlying_side"`
	DerivativeSide Side           `json:"derivative_side"`
	EntrySpread    float64        `json:"entry_spread"`
	UnderlyingLots int            `json:"underlying_lots"`
	DerivativeLots int            `json:"derivative_lots"`
	OpenedAt       time.Time      `json:"opened_at"`
}
