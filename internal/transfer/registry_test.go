package transfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/logger"
	"github.com/rolledback/cloudbridge/internal/notify"
	"github.com/rolledback/cloudbridge/internal/provider/mock"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) forTask(id int64) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.TaskID == id {
			out = append(out, e)
		}
	}
	return out
}

func waitDone(t *testing.T, task *Task) notify.Event {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("task %d did not finish", task.ID)
	}
	return task.Result()
}

func newTestRegistry(t *testing.T) (*Registry, *recorder) {
	t.Helper()
	rec := &recorder{}
	r := NewRegistry(context.Background(), rec, logger.Discard())
	t.Cleanup(r.Stop)
	return r, rec
}

func writeFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, size), 0644))
	return path
}

func TestRegistry_Upload_ProgressReachesFileLength(t *testing.T) {
	const size = 10 * 1024 * 1024
	r, rec := newTestRegistry(t)
	store := mock.NewProvider("mock")
	local := writeFile(t, size)

	task, err := r.Submit(store, Request{ID: 1, Direction: Upload, LocalPath: local, RemotePath: "/up/payload.bin"})
	require.NoError(t, err)
	result := waitDone(t, task)

	assert.True(t, result.Success)
	assert.Equal(t, "Upload completed successfully.", result.Message)
	assert.Equal(t, Succeeded, task.State())

	events := rec.forTask(1)
	require.GreaterOrEqual(t, len(events), 2)
	var last int64 = -1
	for _, e := range events[:len(events)-1] {
		require.Equal(t, notify.KindProgress, e.Kind)
		assert.GreaterOrEqual(t, e.BytesTransferred, last)
		assert.Nil(t, e.TotalBytes)
		last = e.BytesTransferred
	}
	assert.Equal(t, int64(size), last)
	assert.Equal(t, notify.KindResult, events[len(events)-1].Kind)

	content, ok := store.Content("/up/payload.bin")
	require.True(t, ok)
	assert.Len(t, content, size)
	require.Len(t, store.UploadOptions, 1)
	assert.True(t, store.UploadOptions[0].Autorename)
	assert.Equal(t, int64(size), store.UploadOptions[0].Size)
}

func TestRegistry_Upload_Mute(t *testing.T) {
	r, _ := newTestRegistry(t)
	store := mock.NewProvider("mock")

	task, err := r.Submit(store, Request{ID: 1, Direction: Upload, LocalPath: writeFile(t, 10), RemotePath: "/a", Mute: true})
	require.NoError(t, err)
	waitDone(t, task)

	require.Len(t, store.UploadOptions, 1)
	assert.True(t, store.UploadOptions[0].Mute)
}

func TestRegistry_Upload_MissingLocalFile(t *testing.T) {
	r, rec := newTestRegistry(t)
	store := mock.NewProvider("mock")

	task, err := r.Submit(store, Request{ID: 3, Direction: Upload, LocalPath: filepath.Join(t.TempDir(), "nope"), RemotePath: "/a"})
	require.NoError(t, err)
	result := waitDone(t, task)

	assert.False(t, result.Success)
	assert.Equal(t, apperror.CodeIO, result.Code)
	assert.Contains(t, result.Message, "Upload failed: ")
	assert.Empty(t, store.UploadedPaths)
	assert.Len(t, rec.forTask(3), 1)
}

func TestRegistry_Upload_StoreError(t *testing.T) {
	r, _ := newTestRegistry(t)
	store := mock.NewProvider("mock")
	store.UploadError = assert.AnError

	task, err := r.Submit(store, Request{ID: 1, Direction: Upload, LocalPath: writeFile(t, 10), RemotePath: "/a"})
	require.NoError(t, err)
	result := waitDone(t, task)

	assert.Equal(t, apperror.CodeStore, result.Code)
	assert.Equal(t, "Upload failed: "+assert.AnError.Error(), result.Message)
	assert.Equal(t, Failed, task.State())
}

func TestRegistry_DuplicateID(t *testing.T) {
	r, _ := newTestRegistry(t)
	store := mock.NewProvider("mock")
	store.Gate = make(chan struct{})
	local := writeFile(t, 100)

	first, err := r.Submit(store, Request{ID: 7, Direction: Upload, LocalPath: local, RemotePath: "/a"})
	require.NoError(t, err)

	_, err = r.Submit(store, Request{ID: 7, Direction: Upload, LocalPath: local, RemotePath: "/b"})
	assert.Equal(t, apperror.CodeDuplicateID, apperror.CodeOf(err))
	assert.Equal(t, 1, r.Len())

	close(store.Gate)
	assert.True(t, waitDone(t, first).Success)

	// the ID is free again once the first task is terminal
	second, err := r.Submit(store, Request{ID: 7, Direction: Upload, LocalPath: local, RemotePath: "/b"})
	require.NoError(t, err)
	assert.True(t, waitDone(t, second).Success)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRegistry_Download(t *testing.T) {
	r, rec := newTestRegistry(t)
	store := mock.NewProvider("mock")
	store.ChunkSize = 1024
	payload := bytes.Repeat([]byte("x"), 5000)
	store.AddFile("/docs/report.pdf", payload)
	local := filepath.Join(t.TempDir(), "report.pdf")

	task, err := r.Submit(store, Request{ID: 2, Direction: Download, LocalPath: local, RemotePath: "/docs/report.pdf"})
	require.NoError(t, err)
	result := waitDone(t, task)

	assert.True(t, result.Success)
	assert.Equal(t, "Download completed successfully.", result.Message)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.NoFileExists(t, local+partSuffix)

	events := rec.forTask(2)
	require.GreaterOrEqual(t, len(events), 2)
	progress := events[len(events)-2]
	assert.Equal(t, int64(5000), progress.BytesTransferred)
	require.NotNil(t, progress.TotalBytes)
	assert.Equal(t, int64(5000), *progress.TotalBytes)
}

func TestRegistry_Download_FolderIsInvalidTarget(t *testing.T) {
	r, rec := newTestRegistry(t)
	store := mock.NewProvider("mock")
	store.AddFolder("/docs")
	local := filepath.Join(t.TempDir(), "docs")

	task, err := r.Submit(store, Request{ID: 4, Direction: Download, LocalPath: local, RemotePath: "/docs"})
	require.NoError(t, err)
	result := waitDone(t, task)

	assert.False(t, result.Success)
	assert.Equal(t, apperror.CodeInvalidTarget, result.Code)
	assert.NoFileExists(t, local)
	assert.NoFileExists(t, local+partSuffix)
	assert.Empty(t, store.DownloadedPaths)
	assert.Len(t, rec.forTask(4), 1)
}

func TestRegistry_Download_FailsMidStream(t *testing.T) {
	r, rec := newTestRegistry(t)
	store := mock.NewProvider("mock")
	store.ChunkSize = 64 * 1024
	store.AddFile("/big.bin", bytes.Repeat([]byte("z"), 1024*1024))
	store.DownloadFailAfter = 256 * 1024
	local := filepath.Join(t.TempDir(), "big.bin")

	task, err := r.Submit(store, Request{ID: 5, Direction: Download, LocalPath: local, RemotePath: "/big.bin"})
	require.NoError(t, err)
	result := waitDone(t, task)

	assert.False(t, result.Success)
	assert.Equal(t, apperror.CodeStore, result.Code)
	assert.Contains(t, result.Message, "Download failed: ")
	assert.NoFileExists(t, local)
	assert.NoFileExists(t, local+partSuffix)

	events := rec.forTask(5)
	require.NotEmpty(t, events)
	assert.Equal(t, notify.KindResult, events[len(events)-1].Kind)
	for _, e := range events[:len(events)-1] {
		assert.LessOrEqual(t, e.BytesTransferred, int64(256*1024))
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Download_MissingRemote(t *testing.T) {
	r, _ := newTestRegistry(t)
	store := mock.NewProvider("mock")
	local := filepath.Join(t.TempDir(), "x")

	task, err := r.Submit(store, Request{ID: 1, Direction: Download, LocalPath: local, RemotePath: "/missing"})
	require.NoError(t, err)
	result := waitDone(t, task)

	assert.Equal(t, apperror.CodeStore, result.Code)
	assert.NoFileExists(t, local)
}

func TestRegistry_Cancel(t *testing.T) {
	r, _ := newTestRegistry(t)
	store := mock.NewProvider("mock")
	store.Gate = make(chan struct{})

	task, err := r.Submit(store, Request{ID: 9, Direction: Upload, LocalPath: writeFile(t, 100), RemotePath: "/a"})
	require.NoError(t, err)

	assert.True(t, r.Cancel(9))
	result := waitDone(t, task)

	assert.False(t, result.Success)
	assert.Equal(t, apperror.CodeCancelled, result.Code)
	assert.Equal(t, "Upload failed: cancelled", result.Message)
	assert.False(t, r.Cancel(9))
	assert.False(t, r.Cancel(12345))
}

func TestRegistry_Active(t *testing.T) {
	r, _ := newTestRegistry(t)
	store := mock.NewProvider("mock")
	store.Gate = make(chan struct{})
	store.AddFile("/f", []byte("data"))
	dir := t.TempDir()

	_, err := r.Submit(store, Request{ID: 20, Direction: Download, LocalPath: filepath.Join(dir, "f"), RemotePath: "/f"})
	require.NoError(t, err)
	_, err = r.Submit(store, Request{ID: 10, Direction: Upload, LocalPath: writeFile(t, 1), RemotePath: "/g"})
	require.NoError(t, err)

	active := r.Active()
	require.Len(t, active, 2)
	assert.Equal(t, int64(10), active[0].ID)
	assert.Equal(t, Upload, active[0].Direction)
	assert.Equal(t, int64(20), active[1].ID)
	assert.NotEmpty(t, active[1].RunID)
	assert.False(t, active[1].State.Terminal())

	task, ok := r.Get(20)
	require.True(t, ok)
	assert.Equal(t, "/f", task.RemotePath)

	close(store.Gate)
}

func TestRegistry_Stop(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(context.Background(), rec, logger.Discard())
	store := mock.NewProvider("mock")
	store.Gate = make(chan struct{})
	local := writeFile(t, 10)

	a, err := r.Submit(store, Request{ID: 1, Direction: Upload, LocalPath: local, RemotePath: "/a"})
	require.NoError(t, err)
	b, err := r.Submit(store, Request{ID: 2, Direction: Upload, LocalPath: local, RemotePath: "/b"})
	require.NoError(t, err)

	r.Stop()

	assert.Equal(t, apperror.CodeCancelled, a.Result().Code)
	assert.Equal(t, apperror.CodeCancelled, b.Result().Code)
	assert.Equal(t, 0, r.Len())

	_, err = r.Submit(store, Request{ID: 3, Direction: Upload, LocalPath: local, RemotePath: "/c"})
	assert.Equal(t, apperror.CodeCancelled, apperror.CodeOf(err))
}

func TestRegistry_Submit_InvalidArguments(t *testing.T) {
	r, _ := newTestRegistry(t)
	store := mock.NewProvider("mock")

	_, err := r.Submit(nil, Request{ID: 1, Direction: Upload, LocalPath: "a", RemotePath: "/a"})
	assert.Equal(t, apperror.CodeInvalidArgument, apperror.CodeOf(err))

	_, err = r.Submit(store, Request{ID: 1, Direction: Upload, RemotePath: "/a"})
	assert.Equal(t, apperror.CodeInvalidArgument, apperror.CodeOf(err))

	_, err = r.Submit(store, Request{ID: 1, Direction: "sideways", LocalPath: "a", RemotePath: "/a"})
	assert.Equal(t, apperror.CodeInvalidArgument, apperror.CodeOf(err))

	assert.Equal(t, 0, r.Len())
}

func TestRegistry_TasksAreIsolated(t *testing.T) {
	r, rec := newTestRegistry(t)
	failing := mock.NewProvider("failing")
	failing.UploadError = assert.AnError
	healthy := mock.NewProvider("healthy")
	local := writeFile(t, 1000)

	var tasks []*Task
	for i := int64(1); i <= 6; i++ {
		store := healthy
		if i%2 == 0 {
			store = failing
		}
		task, err := r.Submit(store, Request{ID: i, Direction: Upload, LocalPath: local, RemotePath: "/f"})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	for _, task := range tasks {
		result := waitDone(t, task)
		assert.Equal(t, task.ID%2 == 1, result.Success, "task %d", task.ID)

		events := rec.forTask(task.ID)
		results := 0
		for _, e := range events {
			if e.Kind == notify.KindResult {
				results++
			}
		}
		assert.Equal(t, 1, results, "task %d", task.ID)
		assert.Equal(t, notify.KindResult, events[len(events)-1].Kind)
	}
}
