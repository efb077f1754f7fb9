package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/provider"
)

const (
	// ProviderID is the registry key and storage folder name for OneDrive.
	ProviderID = "onedrive"

	msGraphURL      = "https://graph.microsoft.com/v1.0"
	defaultPageSize = 200
	tokensFile      = ".tokens.json"
)

// Config holds the OneDrive provider settings that come from application config.
type Config struct {
	BaseURL    string
	PageSize   int
	RPS        float64
	Burst      int
	HTTPClient *http.Client
}

// tokens is the stored credential written by an external sign-in
type tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt"`
	AccountName  string `json:"accountName"`
	AccountEmail string `json:"accountEmail"`
}

// Provider implements provider.RemoteStore on Microsoft Graph
type Provider struct {
	storageDir  string // The provider's directory (e.g., {storageDir}/onedrive)
	accessToken string
	baseURL     string
	pageSize    int
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// Factory returns a provider.Factory for OneDrive. A token in settings wins
// over one stored in the provider directory; settings.BaseURL overrides cfg.
func Factory(cfg Config) provider.Factory {
	return func(providerDir string, settings provider.Settings) (provider.RemoteStore, error) {
		if settings.BaseURL != "" {
			cfg.BaseURL = settings.BaseURL
		}
		p := NewProvider(providerDir, settings.AccessToken, cfg)
		if _, err := p.getValidAccessToken(); err != nil {
			return nil, err
		}
		return p, nil
	}
}

// NewProvider creates a new OneDrive provider
// storageDir is the provider's directory where a stored token may live
func NewProvider(storageDir, accessToken string, cfg Config) *Provider {
	p := &Provider{
		storageDir:  storageDir,
		accessToken: accessToken,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		pageSize:    cfg.PageSize,
		httpClient:  cfg.HTTPClient,
		limiter:     rate.NewLimiter(rate.Inf, 0),
	}
	if p.baseURL == "" {
		p.baseURL = msGraphURL
	}
	if p.pageSize <= 0 {
		p.pageSize = defaultPageSize
	}
	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return p
}

// ============ IDENTITY ============

func (p *Provider) ID() string {
	return ProviderID
}

// ============ LISTING ============

func (p *Provider) ListFolder(ctx context.Context, path string) (provider.ListPage, error) {
	u := p.childrenURL(path) + "?$top=" + strconv.Itoa(p.pageSize)
	return p.listPage(ctx, u)
}

// ListFolderContinue follows an @odata.nextLink cursor. Only links on the
// configured Graph host are followed so the token never leaves it.
func (p *Provider) ListFolderContinue(ctx context.Context, cursor string) (provider.ListPage, error) {
	if !strings.HasPrefix(cursor, p.baseURL+"/") {
		return provider.ListPage{}, apperror.Newf(apperror.CodeInvalidArgument, "onedrive: cursor is not a Graph link: %q", cursor)
	}
	return p.listPage(ctx, cursor)
}

func (p *Provider) listPage(ctx context.Context, u string) (provider.ListPage, error) {
	resp, err := p.do(ctx, http.MethodGet, u, nil, 0)
	if err != nil {
		return provider.ListPage{}, err
	}
	defer resp.Body.Close()

	var listResp struct {
		Value    []driveItem `json:"value"`
		NextLink string      `json:"@odata.nextLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return provider.ListPage{}, apperror.Wrap(apperror.CodeStore, err, "onedrive: failed to decode children response")
	}

	page := provider.ListPage{
		Entries: make([]provider.Metadata, 0, len(listResp.Value)),
		Cursor:  listResp.NextLink,
		HasMore: listResp.NextLink != "",
	}
	for _, item := range listResp.Value {
		page.Entries = append(page.Entries, item.toMetadata())
	}
	return page, nil
}

func (p *Provider) GetMetadata(ctx context.Context, path string) (provider.Metadata, error) {
	resp, err := p.do(ctx, http.MethodGet, p.itemURL(path), nil, 0)
	if err != nil {
		return provider.Metadata{}, err
	}
	defer resp.Body.Close()

	var item driveItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return provider.Metadata{}, apperror.Wrap(apperror.CodeStore, err, "onedrive: failed to decode item response")
	}
	return item.toMetadata(), nil
}

// ============ TRANSFERS ============

func (p *Provider) Upload(ctx context.Context, content io.Reader, path string, opts provider.UploadOptions, onProgress provider.ProgressFunc) (provider.Metadata, error) {
	u := p.itemURL(path) + "/content?@microsoft.graph.conflictBehavior=" + conflictBehavior(opts)

	body := provider.NewProgressReader(ctx, content, onProgress)
	resp, err := p.do(ctx, http.MethodPut, u, body, opts.Size)
	if err != nil {
		return provider.Metadata{}, err
	}
	defer resp.Body.Close()

	var item driveItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return provider.Metadata{}, apperror.Wrap(apperror.CodeStore, err, "onedrive: failed to decode upload response")
	}
	return item.toMetadata(), nil
}

func (p *Provider) Download(ctx context.Context, path string, sink io.Writer, onProgress provider.ProgressFunc) (provider.Metadata, error) {
	meta, err := p.GetMetadata(ctx, path)
	if err != nil {
		return provider.Metadata{}, err
	}
	if !meta.IsFile() {
		return provider.Metadata{}, apperror.Newf(apperror.CodeStore, "onedrive: %s is not a file", path)
	}

	resp, err := p.do(ctx, http.MethodGet, p.itemURL(path)+"/content", nil, 0)
	if err != nil {
		return provider.Metadata{}, err
	}
	defer resp.Body.Close()

	w := provider.NewProgressWriter(ctx, sink, onProgress)
	if _, err := io.Copy(w, resp.Body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return provider.Metadata{}, ctxErr
		}
		return provider.Metadata{}, apperror.Wrap(apperror.CodeStore, err, "onedrive: download interrupted")
	}
	return meta, nil
}

// ============ PRIVATE HELPERS (requests) ============

// do sends an authorized request, paced by the limiter, and turns non-2xx
// responses into coded errors. The caller closes the body on success.
func (p *Provider) do(ctx context.Context, method, u string, body io.Reader, contentLength int64) (*http.Response, error) {
	accessToken, err := p.getValidAccessToken()
	if err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperror.Wrap(apperror.CodeStore, err, "onedrive: rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
		if contentLength > 0 {
			req.ContentLength = contentLength
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperror.Wrap(apperror.CodeStore, err, "onedrive: request failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		code := apperror.CodeStore
		if resp.StatusCode == http.StatusUnauthorized {
			code = apperror.CodeUnauthorized
		}
		return nil, apperror.Newf(code, "onedrive: %s failed with status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp, nil
}

func (p *Provider) itemURL(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return p.baseURL + "/me/drive/root"
	}
	segs := strings.Split(trimmed, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return p.baseURL + "/me/drive/root:/" + strings.Join(segs, "/") + ":"
}

func (p *Provider) childrenURL(path string) string {
	return p.itemURL(path) + "/children"
}

func conflictBehavior(opts provider.UploadOptions) string {
	switch {
	case opts.Mode == provider.WriteModeOverwrite:
		return "replace"
	case opts.Autorename:
		return "rename"
	default:
		return "fail"
	}
}

// ============ PRIVATE HELPERS (token) ============

func (p *Provider) tokensPath() string {
	return filepath.Join(p.storageDir, tokensFile)
}

func (p *Provider) loadTokens() (*tokens, error) {
	data, err := os.ReadFile(p.tokensPath())
	if err != nil {
		return nil, err
	}
	var t tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Provider) getValidAccessToken() (string, error) {
	if p.accessToken != "" {
		return p.accessToken, nil
	}
	if p.storageDir == "" {
		return "", apperror.New(apperror.CodeUnauthorized, "onedrive: access token is missing")
	}

	t, err := p.loadTokens()
	if err != nil {
		return "", apperror.Wrap(apperror.CodeUnauthorized, err, "onedrive: no stored token")
	}
	if t.AccessToken == "" {
		return "", apperror.New(apperror.CodeUnauthorized, "onedrive: no access token")
	}

	if t.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, t.ExpiresAt)
		if err != nil {
			return "", apperror.New(apperror.CodeUnauthorized, "onedrive: invalid expiry time")
		}
		if !time.Now().Before(expiresAt) {
			return "", apperror.New(apperror.CodeUnauthorized, "onedrive: stored token expired")
		}
	}

	return t.AccessToken, nil
}

// ============ GRAPH TYPES ============

type driveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	ETag                 string    `json:"eTag"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	File                 *struct{} `json:"file"`
	Folder               *struct{} `json:"folder"`
	Deleted              *struct{} `json:"deleted"`
	ParentReference      struct {
		Path string `json:"path"`
	} `json:"parentReference"`
	FileSystemInfo struct {
		LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	} `json:"fileSystemInfo"`
}

func (item driveItem) toMetadata() provider.Metadata {
	// Extract path, removing the "/drive/root:" prefix
	parent := item.ParentReference.Path
	if idx := strings.Index(parent, ":"); idx != -1 {
		parent = parent[idx+1:]
	} else {
		parent = ""
	}
	// URL-decode the path (Graph API returns URL-encoded paths)
	if decoded, err := url.PathUnescape(parent); err == nil {
		parent = decoded
	}
	display := strings.TrimSuffix(parent, "/") + "/" + item.Name
	if item.ParentReference.Path == "" {
		// the drive root itself
		display = "/"
	}

	meta := provider.Metadata{
		ID:          item.ID,
		Name:        item.Name,
		PathLower:   strings.ToLower(display),
		PathDisplay: display,
		Rev:         item.ETag,
	}
	switch {
	case item.Deleted != nil:
		meta.Kind = provider.KindDeleted
	case item.File != nil:
		meta.Kind = provider.KindFile
		if item.Size > 0 {
			meta.Size = uint64(item.Size)
		}
		meta.ClientModified = item.FileSystemInfo.LastModifiedDateTime
		meta.ServerModified = item.LastModifiedDateTime
	case item.Folder != nil:
		meta.Kind = provider.KindFolder
	default:
		meta.Kind = provider.KindUnknown
	}
	return meta
}
