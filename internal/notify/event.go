package notify

import "github.com/rolledback/cloudbridge/internal/apperror"

// Kind distinguishes progress events from terminal results.
type Kind string

const (
	KindProgress Kind = "progress"
	KindResult   Kind = "result"
)

// Event is a single message to the caller. Progress events carry byte counts;
// result events carry the outcome and are the last event of their task.
type Event struct {
	Kind             Kind          `json:"kind"`
	TaskID           int64         `json:"taskId"`
	BytesTransferred int64         `json:"bytesTransferred,omitempty"`
	TotalBytes       *int64        `json:"totalBytes,omitempty"`
	Success          bool          `json:"success,omitempty"`
	Message          string        `json:"message,omitempty"`
	Code             apperror.Code `json:"code,omitempty"`
}

// Progress builds a progress event. total is nil when the size is unknown.
func Progress(taskID, bytes int64, total *int64) Event {
	return Event{Kind: KindProgress, TaskID: taskID, BytesTransferred: bytes, TotalBytes: total}
}

// Result builds a terminal event.
func Result(taskID int64, success bool, message string, code apperror.Code) Event {
	return Event{Kind: KindResult, TaskID: taskID, Success: success, Message: message, Code: code}
}

// Notifier delivers events to the caller. Implementations must be safe for
// concurrent use; events of one task arrive from a single goroutine.
type Notifier interface {
	Notify(Event)
}

// Func adapts a function to Notifier.
type Func func(Event)

func (f Func) Notify(e Event) {
	f(e)
}
