package types

// Event is a structured record of a completed state change, suitable for
// logging or forwarding to downstream consumers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
