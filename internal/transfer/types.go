package transfer

// Direction is the way bytes move for a task.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// State is a task's lifecycle position. Succeeded and Failed are terminal.
type State string

const (
	Pending   State = "pending"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Request describes a transfer to submit.
type Request struct {
	ID         int64
	Direction  Direction
	LocalPath  string
	RemotePath string
	// Mute suppresses the store's change notification for uploads.
	Mute bool
}

// Snapshot is a point-in-time view of a live task.
type Snapshot struct {
	ID               int64     `json:"taskId"`
	RunID            string    `json:"runId"`
	Direction        Direction `json:"direction"`
	State            State     `json:"state"`
	LocalPath        string    `json:"localPath"`
	RemotePath       string    `json:"remotePath"`
	BytesTransferred int64     `json:"bytesTransferred"`
	TotalBytes       *int64    `json:"totalBytes,omitempty"`
}
