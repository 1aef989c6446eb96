package engine

// Message is a single broken-rule complaint attached to a property.
// Messages are immutable; rules produce them, nothing else does.
type Message struct {
	Property string `json:"property"`
	Text     string `json:"text"`
}

// CancelledText is the message text recorded when a rule observes a
// cancellation signal instead of finishing.
const CancelledText = "validation cancelled"
