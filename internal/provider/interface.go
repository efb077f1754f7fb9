package provider

import (
	"context"
	"io"
)

// ProgressFunc receives the cumulative number of bytes moved so far.
type ProgressFunc func(bytes int64)

// RemoteStore defines the primitives a cloud storage provider must supply.
// Providers implement ONLY these; task orchestration, pagination and event
// delivery live in the callers.
//
// Errors are treated opaquely by callers: only the message is surfaced.
type RemoteStore interface {
	// Identity
	ID() string // Unique provider ID (e.g., "dropbox", "onedrive")

	// Listing. A page with HasMore set must be followed by ListFolderContinue
	// using that page's cursor.
	ListFolder(ctx context.Context, path string) (ListPage, error)
	ListFolderContinue(ctx context.Context, cursor string) (ListPage, error)

	GetMetadata(ctx context.Context, path string) (Metadata, error)

	// Transfers. onProgress may be nil. Implementations must stop at the next
	// I/O checkpoint once ctx is done.
	Upload(ctx context.Context, content io.Reader, path string, opts UploadOptions, onProgress ProgressFunc) (Metadata, error)
	Download(ctx context.Context, path string, sink io.Writer, onProgress ProgressFunc) (Metadata, error)
}
