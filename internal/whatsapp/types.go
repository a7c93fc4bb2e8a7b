// Package whatsapp provides the Cloud API transport: sending text and
// audio messages, and the typed webhook envelope for inbound events.
package whatsapp

// WebhookPayload is the top-level structure the Cloud API posts to the
// webhook for each batch of events.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one account-level event group.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change wraps one value payload.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the messages and statuses of one change.
type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Contacts         []Contact        `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []Status         `json:"statuses,omitempty"`
}

// Contact identifies the sender.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is one received message. Only text messages are
// processed; other types are acknowledged and dropped.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"` // text, audio, image, ...
	Text      *Text  `json:"text,omitempty"`
}

// Text is the text body of an inbound message.
type Text struct {
	Body string `json:"body"`
}

// Status is a delivery/read receipt for an outbound message.
type Status struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
