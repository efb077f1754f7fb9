package models

import (
	"strconv"
	"time"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/provider"
)

// TimestampLayout renders remote timestamps for the channel (yyyyMMdd HHmmss).
const TimestampLayout = "20060102 150405"

// MethodCall is one request on the channel.
type MethodCall struct {
	Method    string                 `json:"method"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// String returns the named argument, or "" when it is missing or not a string.
func (c MethodCall) String(name string) string {
	s, _ := c.Arguments[name].(string)
	return s
}

// Int returns the named argument as an integer. JSON numbers decode as
// float64 and some callers send IDs as strings, so all three are accepted.
func (c MethodCall) Int(name string) (int64, bool) {
	switch v := c.Arguments[name].(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Response is the reply to every MethodCall.
type Response struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Code    apperror.Code `json:"code,omitempty"`
	Data    interface{}   `json:"data,omitempty"`
}

func OK(message string, data interface{}) Response {
	return Response{Success: true, Message: message, Data: data}
}

// Fail builds a failed Response whose code comes from err.
func Fail(message string, err error) Response {
	resp := Response{Success: false, Message: message, Code: apperror.CodeOf(err)}
	if err != nil {
		resp.Message = message + err.Error()
	}
	return resp
}

// FolderEntry is one listed item in the wire shape callers expect.
type FolderEntry struct {
	Name           string `json:"name"`
	PathLower      string `json:"pathLower"`
	PathDisplay    string `json:"pathDisplay"`
	IsFile         bool   `json:"isFile"`
	Filesize       uint64 `json:"filesize,omitempty"`
	ClientModified string `json:"clientModified,omitempty"`
	ServerModified string `json:"serverModified,omitempty"`
}

// NewFolderEntry converts provider metadata. Size and timestamps are only set
// for files.
func NewFolderEntry(m provider.Metadata) FolderEntry {
	e := FolderEntry{
		Name:        m.Name,
		PathLower:   m.PathLower,
		PathDisplay: m.PathDisplay,
		IsFile:      m.IsFile(),
	}
	if e.IsFile {
		e.Filesize = m.Size
		e.ClientModified = formatTime(m.ClientModified)
		e.ServerModified = formatTime(m.ServerModified)
	}
	return e
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// FolderListing is the data of a successful listFolder call.
type FolderListing struct {
	Paths []FolderEntry `json:"paths"`
}

// TaskAccepted is the data of a successful upload or download call.
type TaskAccepted struct {
	TaskID int64  `json:"taskId"`
	RunID  string `json:"runId"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
