package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/provider"
)

// fakeBucket emulates delimiter listing over an in-memory key space.
type fakeBucket struct {
	objects map[string][]byte
	listErr error
	lists   []string // startAfter values seen
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (f *fakeBucket) ListObjects(ctx context.Context, prefix, startAfter string, limit int) ([]minio.ObjectInfo, error) {
	f.lists = append(f.lists, startAfter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []minio.ObjectInfo
	seen := make(map[string]bool)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		entry := k
		if idx := strings.Index(k[len(prefix):], "/"); idx >= 0 && len(prefix)+idx+1 < len(k) {
			entry = k[:len(prefix)+idx+1]
		}
		if entry <= startAfter || seen[entry] {
			continue
		}
		seen[entry] = true
		info := minio.ObjectInfo{Key: entry}
		if entry == k {
			info.Size = int64(len(f.objects[k]))
			info.ETag = `"etag"`
			info.LastModified = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
		}
		out = append(out, info)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeBucket) StatObject(ctx context.Context, key string) (minio.ObjectInfo, error) {
	data, ok := f.objects[key]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	return minio.ObjectInfo{Key: key, Size: int64(len(data)), ETag: `"etag"`}, nil
}

func (f *fakeBucket) PutObject(ctx context.Context, key string, content io.Reader, size int64) (minio.UploadInfo, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[key] = data
	return minio.UploadInfo{Key: key, Size: int64(len(data)), ETag: "etag"}, nil
}

func (f *fakeBucket) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey"}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestProvider_ImplementsInterface(t *testing.T) {
	var _ provider.RemoteStore = (*Provider)(nil)
}

func TestProvider_ListFolder_Pages(t *testing.T) {
	bucket := newFakeBucket()
	for _, k := range []string{"root/docs/a.txt", "root/docs/b.txt", "root/docs/c.txt", "root/docs/sub/d.txt", "root/other.txt"} {
		bucket.objects[k] = []byte(k)
	}
	p := NewProvider(bucket, "/root/", 2)

	entries, err := provider.ListAll(context.Background(), p, "/docs")
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.PathDisplay)
	}
	assert.Equal(t, []string{"/docs/a.txt", "/docs/b.txt", "/docs/c.txt", "/docs/sub"}, paths)
	assert.Equal(t, provider.KindFolder, entries[3].Kind)
	assert.Equal(t, []string{"", "root/docs/b.txt"}, bucket.lists)
	assert.Equal(t, "etag", entries[0].Rev)
}

func TestProvider_ListFolder_SkipsMarker(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["docs/"] = nil
	bucket.objects["docs/a.txt"] = []byte("a")
	p := NewProvider(bucket, "", 10)

	page, err := p.ListFolder(context.Background(), "/docs")
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "a.txt", page.Entries[0].Name)
	assert.False(t, page.HasMore)
}

func TestProvider_ListFolderContinue_MalformedCursor(t *testing.T) {
	p := NewProvider(newFakeBucket(), "", 10)

	_, err := p.ListFolderContinue(context.Background(), "%zz")
	assert.Equal(t, apperror.CodeInvalidArgument, apperror.CodeOf(err))
}

func TestProvider_GetMetadata(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["docs/a.txt"] = []byte("abc")
	p := NewProvider(bucket, "", 10)
	ctx := context.Background()

	file, err := p.GetMetadata(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.True(t, file.IsFile())
	assert.Equal(t, uint64(3), file.Size)

	folder, err := p.GetMetadata(ctx, "/docs")
	require.NoError(t, err)
	assert.Equal(t, provider.KindFolder, folder.Kind)
	assert.Equal(t, "/docs", folder.PathDisplay)

	root, err := p.GetMetadata(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, provider.KindFolder, root.Kind)

	_, err = p.GetMetadata(ctx, "/missing")
	assert.Equal(t, apperror.CodeStore, apperror.CodeOf(err))
}

func TestProvider_Upload(t *testing.T) {
	bucket := newFakeBucket()
	p := NewProvider(bucket, "root", 10)

	var last int64
	meta, err := p.Upload(context.Background(), strings.NewReader("hello"), "/up/a.txt", provider.DefaultUploadOptions(), func(n int64) { last = n })
	require.NoError(t, err)

	assert.Equal(t, []byte("hello"), bucket.objects["root/up/a.txt"])
	assert.Equal(t, int64(5), last)
	assert.Equal(t, "/up/a.txt", meta.PathDisplay)
	assert.Equal(t, uint64(5), meta.Size)
}

func TestProvider_Upload_AddMode(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["a.txt"] = []byte("old")
	p := NewProvider(bucket, "", 10)
	ctx := context.Background()

	meta, err := p.Upload(ctx, strings.NewReader("new"), "/a.txt", provider.UploadOptions{Mode: provider.WriteModeAdd, Autorename: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/a (1).txt", meta.PathDisplay)
	assert.Equal(t, []byte("old"), bucket.objects["a.txt"])

	_, err = p.Upload(ctx, strings.NewReader("new"), "/a.txt", provider.UploadOptions{Mode: provider.WriteModeAdd}, nil)
	assert.Equal(t, apperror.CodeStore, apperror.CodeOf(err))
}

func TestProvider_Download(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["doc.txt"] = []byte("file content")
	p := NewProvider(bucket, "", 10)

	var out bytes.Buffer
	meta, err := p.Download(context.Background(), "/doc.txt", &out, nil)
	require.NoError(t, err)
	assert.Equal(t, "file content", out.String())
	assert.Equal(t, uint64(12), meta.Size)
}

func TestProvider_ErrorCodes(t *testing.T) {
	bucket := newFakeBucket()
	bucket.listErr = minio.ErrorResponse{Code: "InvalidAccessKeyId"}
	p := NewProvider(bucket, "", 10)

	_, err := p.ListFolder(context.Background(), "/")
	assert.Equal(t, apperror.CodeUnauthorized, apperror.CodeOf(err))

	bucket.listErr = errors.New("connection refused")
	_, err = p.ListFolder(context.Background(), "/")
	assert.Equal(t, apperror.CodeStore, apperror.CodeOf(err))
}

func TestFactory(t *testing.T) {
	_, err := Factory(0)("", provider.Settings{BaseURL: "https://s3.example.com/bucket"})
	assert.Equal(t, apperror.CodeUnauthorized, apperror.CodeOf(err))

	_, err = Factory(0)("", provider.Settings{ClientID: "key", AccessToken: "secret", BaseURL: "https://s3.example.com"})
	assert.Equal(t, apperror.CodeInvalidArgument, apperror.CodeOf(err))

	store, err := Factory(0)("", provider.Settings{ClientID: "key", AccessToken: "secret", BaseURL: "https://s3.example.com/bucket/backups"})
	require.NoError(t, err)
	assert.Equal(t, ProviderID, store.ID())
	assert.Equal(t, "backups/", store.(*Provider).prefix)
}
