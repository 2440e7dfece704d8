package domain

// Status is the closed internal connection state vocabulary. Each
// adapter owns the mapping from its gateway's native status strings;
// anything an adapter cannot map lands on StatusFailed, never on
// StatusStopped.
type Status string

const (
	StatusStopped         Status = "STOPPED"
	StatusAwaitingPairing Status = "AWAITING_PAIRING"
	StatusConnected       Status = "CONNECTED"
	StatusFailed          Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusStopped, StatusAwaitingPairing, StatusConnected, StatusFailed:
		return true
	}
	return false
}
