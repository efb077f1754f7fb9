// Package s3 stores transfers in an S3-compatible bucket through minio-go.
// Folders are key prefixes ending in "/".
package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/provider"
)

const (
	// ProviderID is the registry key and storage folder name for S3.
	ProviderID = "s3"

	defaultPageSize = 1000
)

// Client is the bucket-scoped object API the provider needs.
type Client interface {
	// ListObjects lists at most limit entries directly under prefix whose keys
	// sort after startAfter. Sub-prefixes are returned with a trailing "/".
	ListObjects(ctx context.Context, prefix, startAfter string, limit int) ([]minio.ObjectInfo, error)
	StatObject(ctx context.Context, key string) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, key string, content io.Reader, size int64) (minio.UploadInfo, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
}

type bucketClient struct {
	client *minio.Client
	bucket string
}

// NewBucketClient adapts a minio client to Client for one bucket.
func NewBucketClient(client *minio.Client, bucket string) Client {
	return &bucketClient{client: client, bucket: bucket}
}

func (b *bucketClient) ListObjects(ctx context.Context, prefix, startAfter string, limit int) ([]minio.ObjectInfo, error) {
	// stops the lister goroutine once enough entries were read
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []minio.ObjectInfo
	opts := minio.ListObjectsOptions{Prefix: prefix, StartAfter: startAfter, MaxKeys: limit}
	for obj := range b.client.ListObjects(ctx, b.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out = append(out, obj)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (b *bucketClient) StatObject(ctx context.Context, key string) (minio.ObjectInfo, error) {
	return b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
}

func (b *bucketClient) PutObject(ctx context.Context, key string, content io.Reader, size int64) (minio.UploadInfo, error) {
	return b.client.PutObject(ctx, b.bucket, key, content, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
}

func (b *bucketClient) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	return b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
}

// Provider implements provider.RemoteStore over a bucket
type Provider struct {
	client   Client
	prefix   string // root key prefix, "" or ending in "/"
	pageSize int
}

// NewProvider creates an S3 provider rooted at prefix inside the client's bucket.
func NewProvider(client Client, prefix string, pageSize int) *Provider {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Provider{client: client, prefix: prefix, pageSize: pageSize}
}

// Factory builds providers from settings: BaseURL is the endpoint followed by
// the bucket and an optional root prefix (https://host/bucket/prefix),
// ClientID is the access key and AccessToken the secret key.
func Factory(pageSize int) provider.Factory {
	return func(providerDir string, settings provider.Settings) (provider.RemoteStore, error) {
		if settings.ClientID == "" || settings.AccessToken == "" {
			return nil, apperror.New(apperror.CodeUnauthorized, "s3: access key or secret key is missing")
		}
		u, err := url.Parse(settings.BaseURL)
		if err != nil || u.Host == "" {
			return nil, apperror.Newf(apperror.CodeInvalidArgument, "s3: invalid endpoint %q", settings.BaseURL)
		}
		bucket, prefix, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
		if bucket == "" {
			return nil, apperror.Newf(apperror.CodeInvalidArgument, "s3: endpoint %q names no bucket", settings.BaseURL)
		}

		client, err := minio.New(u.Host, &minio.Options{
			Creds:  credentials.NewStaticV4(settings.ClientID, settings.AccessToken, ""),
			Secure: u.Scheme == "https",
		})
		if err != nil {
			return nil, apperror.Wrap(apperror.CodeStore, err, "s3: failed to create client")
		}
		return NewProvider(NewBucketClient(client, bucket), prefix, pageSize), nil
	}
}

// ============ IDENTITY ============

func (p *Provider) ID() string {
	return ProviderID
}

// ============ LISTING ============

func (p *Provider) ListFolder(ctx context.Context, folder string) (provider.ListPage, error) {
	return p.list(ctx, p.folderKey(folder), "")
}

func (p *Provider) ListFolderContinue(ctx context.Context, cursor string) (provider.ListPage, error) {
	values, err := url.ParseQuery(cursor)
	if err != nil || values.Get("after") == "" {
		return provider.ListPage{}, apperror.Newf(apperror.CodeInvalidArgument, "s3: malformed cursor %q", cursor)
	}
	return p.list(ctx, values.Get("prefix"), values.Get("after"))
}

func (p *Provider) list(ctx context.Context, folderKey, startAfter string) (provider.ListPage, error) {
	objects, err := p.client.ListObjects(ctx, folderKey, startAfter, p.pageSize+1)
	if err != nil {
		return provider.ListPage{}, p.wrap(ctx, err, "list")
	}

	var page provider.ListPage
	if len(objects) > p.pageSize {
		objects = objects[:p.pageSize]
		page.HasMore = true
		page.Cursor = url.Values{
			"prefix": {folderKey},
			"after":  {objects[len(objects)-1].Key},
		}.Encode()
	}

	page.Entries = make([]provider.Metadata, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == folderKey {
			// folder marker object
			continue
		}
		page.Entries = append(page.Entries, p.toMetadata(obj))
	}
	return page, nil
}

func (p *Provider) GetMetadata(ctx context.Context, remotePath string) (provider.Metadata, error) {
	if strings.Trim(remotePath, "/") == "" {
		return p.toMetadata(minio.ObjectInfo{Key: p.prefix}), nil
	}
	key := p.key(remotePath)

	obj, err := p.client.StatObject(ctx, key)
	if err == nil {
		return p.toMetadata(obj), nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return provider.Metadata{}, p.wrap(ctx, err, "stat")
	}

	children, listErr := p.client.ListObjects(ctx, key+"/", "", 1)
	if listErr != nil {
		return provider.Metadata{}, p.wrap(ctx, listErr, "stat")
	}
	if len(children) == 0 {
		return provider.Metadata{}, p.wrap(ctx, err, "stat")
	}
	return p.toMetadata(minio.ObjectInfo{Key: key + "/"}), nil
}

// ============ TRANSFERS ============

func (p *Provider) Upload(ctx context.Context, content io.Reader, remotePath string, opts provider.UploadOptions, onProgress provider.ProgressFunc) (provider.Metadata, error) {
	key := p.key(remotePath)

	if opts.Mode == provider.WriteModeAdd {
		free, err := p.freeKey(ctx, key, opts.Autorename)
		if err != nil {
			return provider.Metadata{}, err
		}
		key = free
	}

	size := opts.Size
	if size <= 0 {
		size = -1
	}
	info, err := p.client.PutObject(ctx, key, provider.NewProgressReader(ctx, content, onProgress), size)
	if err != nil {
		return provider.Metadata{}, p.wrap(ctx, err, "put")
	}

	return p.toMetadata(minio.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}), nil
}

func (p *Provider) Download(ctx context.Context, remotePath string, sink io.Writer, onProgress provider.ProgressFunc) (provider.Metadata, error) {
	key := p.key(remotePath)
	obj, err := p.client.StatObject(ctx, key)
	if err != nil {
		return provider.Metadata{}, p.wrap(ctx, err, "stat")
	}

	body, err := p.client.GetObject(ctx, key)
	if err != nil {
		return provider.Metadata{}, p.wrap(ctx, err, "get")
	}
	defer body.Close()

	w := provider.NewProgressWriter(ctx, sink, onProgress)
	if _, err := io.Copy(w, body); err != nil {
		return provider.Metadata{}, p.wrap(ctx, err, "get")
	}
	return p.toMetadata(obj), nil
}

// ============ HELPERS ============

// freeKey returns key when nothing is stored there, otherwise the first free
// "name (n).ext" variant when autorename is set.
func (p *Provider) freeKey(ctx context.Context, key string, autorename bool) (string, error) {
	candidate := key
	ext := path.Ext(key)
	base := strings.TrimSuffix(key, ext)
	for i := 1; ; i++ {
		_, err := p.client.StatObject(ctx, candidate)
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				return candidate, nil
			}
			return "", p.wrap(ctx, err, "stat")
		}
		if !autorename {
			return "", apperror.Newf(apperror.CodeStore, "s3: %s already exists", key)
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
	}
}

func (p *Provider) key(remotePath string) string {
	return p.prefix + strings.Trim(remotePath, "/")
}

func (p *Provider) folderKey(folder string) string {
	key := p.key(folder)
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

func (p *Provider) toMetadata(obj minio.ObjectInfo) provider.Metadata {
	rel := strings.TrimPrefix(obj.Key, p.prefix)
	isFolder := rel == "" || strings.HasSuffix(rel, "/")
	display := "/" + strings.TrimSuffix(rel, "/")

	meta := provider.Metadata{
		ID:          obj.Key,
		Name:        path.Base(display),
		PathLower:   strings.ToLower(display),
		PathDisplay: display,
	}
	if display == "/" {
		meta.Name = ""
	}
	if isFolder {
		meta.Kind = provider.KindFolder
		return meta
	}

	meta.Kind = provider.KindFile
	if obj.Size > 0 {
		meta.Size = uint64(obj.Size)
	}
	meta.ClientModified = obj.LastModified
	meta.ServerModified = obj.LastModified
	meta.Rev = strings.Trim(obj.ETag, `"`)
	return meta
}

func (p *Provider) wrap(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	code := apperror.CodeStore
	switch minio.ToErrorResponse(err).Code {
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		code = apperror.CodeUnauthorized
	}
	return apperror.Wrap(code, err, "s3 "+op)
}
