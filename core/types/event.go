package types

// Event represents a typed event emitted during state transitions. Sequence
// is assigned by the ledger when the originating unit of work commits.
type Event struct {
	Type       string            `json:"type"`
	Sequence   uint64            `json:"sequence,omitempty"`
	Attributes map[string]string `json:"attributes"`
}
