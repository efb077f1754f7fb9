package provider

import "time"

// EntryKind distinguishes files from folders in a listing.
type EntryKind int

const (
	KindUnknown EntryKind = iota
	KindFile
	KindFolder
	KindDeleted
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Metadata describes a single remote entry. Size and the modification times
// are only meaningful for files.
type Metadata struct {
	Kind           EntryKind
	ID             string
	Name           string
	PathLower      string
	PathDisplay    string
	Size           uint64
	ClientModified time.Time
	ServerModified time.Time
	Rev            string
}

// IsFile reports whether the entry is a file.
func (m Metadata) IsFile() bool {
	return m.Kind == KindFile
}

// ListPage is one page of a folder listing.
type ListPage struct {
	Entries []Metadata
	Cursor  string
	HasMore bool
}

// WriteMode selects what happens when the upload destination already exists.
type WriteMode int

const (
	WriteModeOverwrite WriteMode = iota
	WriteModeAdd
)

// UploadOptions controls how a provider commits an upload.
type UploadOptions struct {
	Mode WriteMode
	// Autorename asks the provider to pick a free name on conflict instead of failing.
	Autorename bool
	// Mute suppresses the provider's user-facing change notification.
	Mute bool
	// Size is the content length when known, 0 otherwise. Providers use it to
	// choose between a single request and a chunked session.
	Size int64
}

// DefaultUploadOptions is the fixed upload policy: overwrite with autorename.
func DefaultUploadOptions() UploadOptions {
	return UploadOptions{
		Mode:       WriteModeOverwrite,
		Autorename: true,
	}
}

// Settings is the per-provider configuration read from settings.json or
// supplied at runtime when a caller authorizes with a token.
type Settings struct {
	ClientID    string `json:"clientId,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	BaseURL     string `json:"baseUrl,omitempty"`
}

// RootSettings is the optional settings.json at the root of the storage directory.
type RootSettings struct {
	DefaultProvider string `json:"defaultProvider,omitempty"`
}

// Factory creates a RemoteStore. providerDir is the provider's directory under
// the storage root; it may be empty when the store is created at runtime.
type Factory func(providerDir string, settings Settings) (RemoteStore, error)
