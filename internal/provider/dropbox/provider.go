package dropbox

import (
	"context"
	"fmt"
	"io"
	"strings"

	sdk "github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/provider"
)

const (
	// ProviderID is the registry key and storage folder name for Dropbox.
	ProviderID = "dropbox"

	// DefaultChunkSize is the upload session chunk size.
	DefaultChunkSize int64 = 8 << 20

	// MaxSingleUpload is the largest body the single-request upload accepts.
	MaxSingleUpload int64 = 150 << 20
)

// Client defines the subset of Dropbox SDK methods this provider uses.
// files.Client from the SDK satisfies it.
type Client interface {
	GetMetadata(arg *files.GetMetadataArg) (files.IsMetadata, error)
	ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error)
	ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
	UploadSessionStart(arg *files.UploadSessionStartArg, content io.Reader) (*files.UploadSessionStartResult, error)
	UploadSessionAppendV2(arg *files.UploadSessionAppendArg, content io.Reader) error
	UploadSessionFinish(arg *files.UploadSessionFinishArg, content io.Reader) (*files.FileMetadata, error)
}

// Provider implements provider.RemoteStore on the Dropbox files API
type Provider struct {
	client    Client
	chunkSize int64
}

// NewProvider creates a Dropbox provider. Uploads larger than chunkSize go
// through an upload session; chunkSize <= 0 selects DefaultChunkSize.
func NewProvider(client Client, chunkSize int64) *Provider {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize > MaxSingleUpload {
		chunkSize = MaxSingleUpload
	}
	return &Provider{client: client, chunkSize: chunkSize}
}

// Factory returns a provider.Factory building SDK-backed providers from settings.
func Factory(chunkSize int64) provider.Factory {
	return func(providerDir string, settings provider.Settings) (provider.RemoteStore, error) {
		if settings.AccessToken == "" {
			return nil, apperror.New(apperror.CodeUnauthorized, "dropbox: access token is missing")
		}
		client := files.New(sdk.Config{
			Token:    settings.AccessToken,
			LogLevel: sdk.LogOff,
		})
		return NewProvider(client, chunkSize), nil
	}
}

// ============ IDENTITY ============

func (p *Provider) ID() string {
	return ProviderID
}

// ============ LISTING ============

func (p *Provider) ListFolder(ctx context.Context, path string) (provider.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return provider.ListPage{}, err
	}
	res, err := p.client.ListFolder(files.NewListFolderArg(apiPath(path)))
	if err != nil {
		return provider.ListPage{}, wrap(err, "list_folder")
	}
	return toPage(res), nil
}

func (p *Provider) ListFolderContinue(ctx context.Context, cursor string) (provider.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return provider.ListPage{}, err
	}
	res, err := p.client.ListFolderContinue(files.NewListFolderContinueArg(cursor))
	if err != nil {
		return provider.ListPage{}, wrap(err, "list_folder/continue")
	}
	return toPage(res), nil
}

func (p *Provider) GetMetadata(ctx context.Context, path string) (provider.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return provider.Metadata{}, err
	}
	res, err := p.client.GetMetadata(files.NewGetMetadataArg(apiPath(path)))
	if err != nil {
		return provider.Metadata{}, wrap(err, "get_metadata")
	}
	return toMetadata(res), nil
}

// ============ TRANSFERS ============

func (p *Provider) Upload(ctx context.Context, content io.Reader, path string, opts provider.UploadOptions, onProgress provider.ProgressFunc) (provider.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return provider.Metadata{}, err
	}
	r := provider.NewProgressReader(ctx, content, onProgress)

	if opts.Size <= p.chunkSize {
		arg := files.NewUploadArg(path)
		arg.CommitInfo = *commitInfo(path, opts)
		res, err := p.client.Upload(arg, r)
		if err != nil {
			return provider.Metadata{}, p.transferError(ctx, err, "upload")
		}
		return toMetadata(res), nil
	}

	return p.uploadSession(ctx, r, path, opts)
}

// uploadSession sends content as start, append... and finish requests of at
// most chunkSize bytes each.
func (p *Provider) uploadSession(ctx context.Context, r *provider.ProgressReader, path string, opts provider.UploadOptions) (provider.Metadata, error) {
	start, err := p.client.UploadSessionStart(files.NewUploadSessionStartArg(), io.LimitReader(r, p.chunkSize))
	if err != nil {
		return provider.Metadata{}, p.transferError(ctx, err, "upload_session/start")
	}
	if err := p.checkOffset(r, p.chunkSize); err != nil {
		return provider.Metadata{}, err
	}

	for opts.Size-r.N() > p.chunkSize {
		expected := r.N() + p.chunkSize
		cursor := files.NewUploadSessionCursor(start.SessionId, uint64(r.N()))
		if err := p.client.UploadSessionAppendV2(files.NewUploadSessionAppendArg(cursor), io.LimitReader(r, p.chunkSize)); err != nil {
			return provider.Metadata{}, p.transferError(ctx, err, "upload_session/append")
		}
		if err := p.checkOffset(r, expected); err != nil {
			return provider.Metadata{}, err
		}
	}

	cursor := files.NewUploadSessionCursor(start.SessionId, uint64(r.N()))
	finish := files.NewUploadSessionFinishArg(cursor, commitInfo(path, opts))
	res, err := p.client.UploadSessionFinish(finish, r)
	if err != nil {
		return provider.Metadata{}, p.transferError(ctx, err, "upload_session/finish")
	}
	return toMetadata(res), nil
}

func (p *Provider) checkOffset(r *provider.ProgressReader, expected int64) error {
	if r.N() != expected {
		return apperror.Wrap(apperror.CodeIO, io.ErrUnexpectedEOF,
			fmt.Sprintf("dropbox: content ended at %d bytes, expected %d", r.N(), expected))
	}
	return nil
}

func (p *Provider) Download(ctx context.Context, path string, sink io.Writer, onProgress provider.ProgressFunc) (provider.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return provider.Metadata{}, err
	}
	res, body, err := p.client.Download(files.NewDownloadArg(apiPath(path)))
	if err != nil {
		return provider.Metadata{}, wrap(err, "download")
	}
	defer body.Close()

	w := provider.NewProgressWriter(ctx, sink, onProgress)
	if _, err := io.Copy(w, body); err != nil {
		return provider.Metadata{}, p.transferError(ctx, err, "download")
	}
	return toMetadata(res), nil
}

// ============ HELPERS ============

func commitInfo(path string, opts provider.UploadOptions) *files.CommitInfo {
	info := files.NewCommitInfo(path)
	tag := files.WriteModeOverwrite
	if opts.Mode == provider.WriteModeAdd {
		tag = files.WriteModeAdd
	}
	info.Mode = &files.WriteMode{Tagged: sdk.Tagged{Tag: tag}}
	info.Autorename = opts.Autorename
	info.Mute = opts.Mute
	return info
}

// transferError prefers the context error when a transfer was aborted by
// cancellation, since the SDK only sees the failed read.
func (p *Provider) transferError(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return wrap(err, op)
}

func wrap(err error, op string) error {
	code := apperror.CodeStore
	msg := err.Error()
	if strings.Contains(msg, "invalid_access_token") || strings.Contains(msg, "expired_access_token") {
		code = apperror.CodeUnauthorized
	}
	return apperror.Wrap(code, err, "dropbox "+op)
}

// apiPath maps the root to the empty path the API expects.
func apiPath(path string) string {
	if path == "/" {
		return ""
	}
	return path
}

func toPage(res *files.ListFolderResult) provider.ListPage {
	page := provider.ListPage{
		Entries: make([]provider.Metadata, 0, len(res.Entries)),
		Cursor:  res.Cursor,
		HasMore: res.HasMore,
	}
	for _, e := range res.Entries {
		page.Entries = append(page.Entries, toMetadata(e))
	}
	return page
}

func toMetadata(m files.IsMetadata) provider.Metadata {
	switch v := m.(type) {
	case *files.FileMetadata:
		return provider.Metadata{
			Kind:           provider.KindFile,
			ID:             v.Id,
			Name:           v.Name,
			PathLower:      v.PathLower,
			PathDisplay:    v.PathDisplay,
			Size:           v.Size,
			ClientModified: v.ClientModified,
			ServerModified: v.ServerModified,
			Rev:            v.Rev,
		}
	case *files.FolderMetadata:
		return provider.Metadata{
			Kind:        provider.KindFolder,
			ID:          v.Id,
			Name:        v.Name,
			PathLower:   v.PathLower,
			PathDisplay: v.PathDisplay,
		}
	case *files.DeletedMetadata:
		return provider.Metadata{
			Kind:        provider.KindDeleted,
			Name:        v.Name,
			PathLower:   v.PathLower,
			PathDisplay: v.PathDisplay,
		}
	default:
		return provider.Metadata{Kind: provider.KindUnknown}
	}
}
