package synchub

import "github.com/JonMunkholm/moneyfest/internal/model"

// Message types. The first three are sent by observers, the rest by the hub.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"

	TypeSubscribed      = "subscribed"
	TypeUnsubscribed    = "unsubscribed"
	TypeRecordMutated   = "record-mutated"
	TypeProgressChanged = "progress-changed"
	TypeGroupComplete   = "group-complete"
	TypePong            = "pong"
	TypeError           = "error"
)

// Message is the logical unit exchanged with observers. Which fields are set
// depends on Type.
type Message struct {
	Type    string        `json:"type"`
	Group   int64         `json:"group,omitempty"`
	Record  *model.Record `json:"record,omitempty"`
	Done    *int          `json:"done,omitempty"`
	Total   *int          `json:"total,omitempty"`
	Message string        `json:"message,omitempty"`
}

// RecordMutated carries the full updated record.
func RecordMutated(rec model.Record) Message {
	return Message{Type: TypeRecordMutated, Group: rec.BatchID, Record: &rec}
}

// ProgressChanged carries the categorised and total counts for a group.
func ProgressChanged(p model.Progress) Message {
	done, total := p.Done, p.Total
	return Message{Type: TypeProgressChanged, Group: p.BatchID, Done: &done, Total: &total}
}

// GroupComplete announces that every record in the group is categorised.
func GroupComplete(group int64) Message {
	return Message{Type: TypeGroupComplete, Group: group}
}

// ErrorMessage reports a protocol problem to one observer.
func ErrorMessage(text string) Message {
	return Message{Type: TypeError, Message: text}
}
