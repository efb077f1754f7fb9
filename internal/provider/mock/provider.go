package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rolledback/cloudbridge/internal/provider"
)

const defaultChunkSize = 64 * 1024

type entry struct {
	meta    provider.Metadata
	content []byte
}

type cursorState struct {
	pages [][]provider.Metadata
	next  int
}

// Provider is an in-memory provider.RemoteStore for testing
type Provider struct {
	id string

	mu      sync.Mutex
	entries map[string]*entry // lower-cased path -> entry
	pages   map[string][][]provider.Metadata
	cursors map[string]*cursorState
	cursorN int

	// PageSize splits computed listings into pages; 0 returns one page.
	PageSize int
	// ChunkSize is the copy granularity, and so the progress granularity, of transfers.
	ChunkSize int

	// Error simulation
	ListError     error
	ContinueError error
	MetadataError error
	UploadError   error
	DownloadError error
	// DownloadFailAfter makes Download fail once this many bytes were written.
	DownloadFailAfter int64

	// Gate, when set, holds every transfer before its first byte until it is
	// closed or the transfer's context is done.
	Gate chan struct{}

	// Call tracking
	ListedPaths     []string
	ContinueCursors []string
	UploadedPaths   []string
	DownloadedPaths []string
	UploadOptions   []provider.UploadOptions
}

// NewProvider creates a new mock provider for testing
func NewProvider(id string) *Provider {
	p := &Provider{
		id:        id,
		entries:   make(map[string]*entry),
		pages:     make(map[string][][]provider.Metadata),
		cursors:   make(map[string]*cursorState),
		ChunkSize: defaultChunkSize,
	}
	p.entries[""] = &entry{meta: provider.Metadata{Kind: provider.KindFolder, Name: "", PathDisplay: "", PathLower: ""}}
	return p
}

// AddFile stores content at remotePath, creating parent folders.
func (p *Provider) AddFile(remotePath string, content []byte) provider.Metadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.putFile(remotePath, content)
}

// AddFolder creates a folder and its parents.
func (p *Provider) AddFolder(remotePath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mkdirAll(remotePath)
}

// SetPages scripts the listing of folderPath: ListFolder returns pages[0]
// and each continuation returns the next page.
func (p *Provider) SetPages(folderPath string, pages [][]provider.Metadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[key(folderPath)] = pages
}

// Content returns the stored bytes at remotePath.
func (p *Provider) Content(remotePath string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key(remotePath)]
	if !ok || e.meta.Kind != provider.KindFile {
		return nil, false
	}
	return append([]byte(nil), e.content...), true
}

// ============ IDENTITY ============

func (p *Provider) ID() string {
	return p.id
}

// ============ LISTING ============

func (p *Provider) ListFolder(ctx context.Context, folderPath string) (provider.ListPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ListedPaths = append(p.ListedPaths, folderPath)
	if p.ListError != nil {
		return provider.ListPage{}, p.ListError
	}

	pages, ok := p.pages[key(folderPath)]
	if !ok {
		folder, exists := p.entries[key(folderPath)]
		if !exists || folder.meta.Kind != provider.KindFolder {
			return provider.ListPage{}, fmt.Errorf("path/not_found/: %s", folderPath)
		}
		pages = paginate(p.children(key(folderPath)), p.PageSize)
	}
	if len(pages) == 0 {
		return provider.ListPage{}, nil
	}

	return p.pageAt(&cursorState{pages: pages}), nil
}

func (p *Provider) ListFolderContinue(ctx context.Context, cursor string) (provider.ListPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ContinueCursors = append(p.ContinueCursors, cursor)
	if p.ContinueError != nil {
		return provider.ListPage{}, p.ContinueError
	}

	state, ok := p.cursors[cursor]
	if !ok {
		return provider.ListPage{}, fmt.Errorf("reset: unknown cursor %q", cursor)
	}
	delete(p.cursors, cursor)
	return p.pageAt(state), nil
}

func (p *Provider) GetMetadata(ctx context.Context, remotePath string) (provider.Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.MetadataError != nil {
		return provider.Metadata{}, p.MetadataError
	}
	e, ok := p.entries[key(remotePath)]
	if !ok {
		return provider.Metadata{}, fmt.Errorf("path/not_found/: %s", remotePath)
	}
	return e.meta, nil
}

// ============ TRANSFERS ============

func (p *Provider) Upload(ctx context.Context, content io.Reader, remotePath string, opts provider.UploadOptions, onProgress provider.ProgressFunc) (provider.Metadata, error) {
	p.mu.Lock()
	p.UploadedPaths = append(p.UploadedPaths, remotePath)
	p.UploadOptions = append(p.UploadOptions, opts)
	uploadErr := p.UploadError
	p.mu.Unlock()

	if err := p.wait(ctx); err != nil {
		return provider.Metadata{}, err
	}

	var buf bytes.Buffer
	r := provider.NewProgressReader(ctx, content, onProgress)
	if _, err := io.CopyBuffer(&buf, r, make([]byte, p.chunkSize())); err != nil {
		return provider.Metadata{}, err
	}
	if uploadErr != nil {
		return provider.Metadata{}, uploadErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	target := remotePath
	if existing, ok := p.entries[key(remotePath)]; ok {
		switch {
		case existing.meta.Kind != provider.KindFile || opts.Mode == provider.WriteModeAdd:
			if !opts.Autorename {
				return provider.Metadata{}, fmt.Errorf("path/conflict/file/: %s", remotePath)
			}
			target = p.freeName(remotePath)
		}
	}
	return p.putFile(target, buf.Bytes()), nil
}

func (p *Provider) Download(ctx context.Context, remotePath string, sink io.Writer, onProgress provider.ProgressFunc) (provider.Metadata, error) {
	p.mu.Lock()
	p.DownloadedPaths = append(p.DownloadedPaths, remotePath)
	e, ok := p.entries[key(remotePath)]
	downloadErr := p.DownloadError
	failAfter := p.DownloadFailAfter
	p.mu.Unlock()

	if !ok {
		return provider.Metadata{}, fmt.Errorf("path/not_found/: %s", remotePath)
	}
	if e.meta.Kind != provider.KindFile {
		return provider.Metadata{}, fmt.Errorf("path/not_file/: %s", remotePath)
	}
	if downloadErr != nil && failAfter <= 0 {
		return provider.Metadata{}, downloadErr
	}

	if err := p.wait(ctx); err != nil {
		return provider.Metadata{}, err
	}

	w := provider.NewProgressWriter(ctx, sink, onProgress)
	chunk := p.chunkSize()
	for off := 0; off < len(e.content); off += chunk {
		if failAfter > 0 && w.N() >= failAfter {
			if downloadErr == nil {
				downloadErr = fmt.Errorf("connection reset after %d bytes", w.N())
			}
			return provider.Metadata{}, downloadErr
		}
		end := off + chunk
		if end > len(e.content) {
			end = len(e.content)
		}
		if _, err := w.Write(e.content[off:end]); err != nil {
			return provider.Metadata{}, err
		}
	}

	return e.meta, nil
}

// ============ HELPERS ============

func (p *Provider) wait(ctx context.Context) error {
	if p.Gate == nil {
		return ctx.Err()
	}
	select {
	case <-p.Gate:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) chunkSize() int {
	if p.ChunkSize <= 0 {
		return defaultChunkSize
	}
	return p.ChunkSize
}

// pageAt returns the next page of state, registering a cursor for the rest.
func (p *Provider) pageAt(state *cursorState) provider.ListPage {
	page := provider.ListPage{Entries: state.pages[state.next]}
	state.next++
	if state.next < len(state.pages) {
		p.cursorN++
		page.Cursor = fmt.Sprintf("cursor-%d", p.cursorN)
		page.HasMore = true
		p.cursors[page.Cursor] = state
	}
	return page
}

func (p *Provider) children(folderKey string) []provider.Metadata {
	var out []provider.Metadata
	for k, e := range p.entries {
		if k == "" || parent(k) != folderKey {
			continue
		}
		out = append(out, e.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PathLower < out[j].PathLower })
	return out
}

func (p *Provider) putFile(remotePath string, content []byte) provider.Metadata {
	p.mkdirAll(parent(clean(remotePath)))
	display := clean(remotePath)
	now := time.Now().UTC().Truncate(time.Second)
	meta := provider.Metadata{
		Kind:           provider.KindFile,
		ID:             "id:" + strings.ToLower(display),
		Name:           path.Base(display),
		PathLower:      strings.ToLower(display),
		PathDisplay:    display,
		Size:           uint64(len(content)),
		ClientModified: now,
		ServerModified: now,
		Rev:            fmt.Sprintf("%x", now.UnixNano()),
	}
	p.entries[key(display)] = &entry{meta: meta, content: append([]byte(nil), content...)}
	return meta
}

func (p *Provider) mkdirAll(folderPath string) {
	display := clean(folderPath)
	for display != "" {
		k := key(display)
		if _, ok := p.entries[k]; !ok {
			p.entries[k] = &entry{meta: provider.Metadata{
				Kind:        provider.KindFolder,
				ID:          "id:" + k,
				Name:        path.Base(display),
				PathLower:   k,
				PathDisplay: display,
			}}
		}
		display = parent(display)
	}
}

func (p *Provider) freeName(remotePath string) string {
	display := clean(remotePath)
	ext := path.Ext(display)
	base := strings.TrimSuffix(display, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, ok := p.entries[key(candidate)]; !ok {
			return candidate
		}
	}
}

func paginate(entries []provider.Metadata, size int) [][]provider.Metadata {
	if size <= 0 || len(entries) <= size {
		return [][]provider.Metadata{entries}
	}
	var pages [][]provider.Metadata
	for len(entries) > 0 {
		n := size
		if n > len(entries) {
			n = len(entries)
		}
		pages = append(pages, entries[:n])
		entries = entries[n:]
	}
	return pages
}

func clean(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	return path.Clean("/" + p)
}

func key(p string) string {
	return strings.ToLower(clean(p))
}

func parent(p string) string {
	dir := path.Dir(p)
	if dir == "/" || dir == "." {
		return ""
	}
	return dir
}
