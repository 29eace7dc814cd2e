package model

// MaxSelectedInstruments caps a subscriber's explicit instrument selection.
const MaxSelectedInstruments = 10

// Subscriber is one notification recipient with personal polling settings.
// Persisted by the storage collaborator; the core treats it as read-mostly
// configuration refreshed every scheduler tick.
type Subscriber struct {
	ID              int64    `json:"id"`
	CadenceSeconds  int      `json:"cadence_seconds"`
	SpreadThreshold float64  `json:"spread_threshold"`
	MaxSignals      int      `json:"max_signals"`
	Instruments     []string `json:"instruments,omitempty"` // underlying tickers; empty = full universe
	Active          bool     `json:"active"`
}

// WantsPair reports whether the subscriber follows the given underlying.
// An empty selection follows the whole monitored universe.
func (s *Subscriber) WantsPair(underlying string) bool {
	if len(s.Instruments) == 0 {
		return true
	}
	for _, t := range s.Instruments {
		if t == underlying {
			return true
		}
	}
	return false
}
