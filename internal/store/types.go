package store

import "github.com/matheus3301/chatsync/internal/model"

// SendRecord is one row of the send log: the last known pipeline state of a
// locally originated message.
type SendRecord struct {
	ID           int64
	MessageID    string
	Context      model.MessageContext
	Event        model.Event
	State        string
	ErrorMessage string
	EventIndex   int // server-assigned index once confirmed, -1 before
	CreatedAt    int64
	UpdatedAt    int64
}

// FailedMessage is a send that failed with a retryable reason. The original
// event is kept so a manual retry can re-enter the pipeline.
type FailedMessage struct {
	MessageID string
	Context   model.MessageContext
	Event     model.Event
	Reason    string
	FailedAt  int64
}
