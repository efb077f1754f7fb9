package transfer

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/notify"
	"github.com/rolledback/cloudbridge/internal/provider"
)

const partSuffix = ".part"

// Task is one upload or download. Its fields are fixed at submission; state
// and progress change only on the task's own goroutine.
type Task struct {
	ID         int64
	RunID      string
	Direction  Direction
	LocalPath  string
	RemotePath string
	mute       bool

	store    provider.RemoteStore
	notifier notify.Notifier
	log      logrus.FieldLogger
	ctx      context.Context
	cancel   context.CancelFunc
	guard    *progressGuard

	mu     sync.Mutex
	state  State
	total  *int64
	result notify.Event
	done   chan struct{}
}

func newTask(parent context.Context, store provider.RemoteStore, req Request, notifier notify.Notifier, log logrus.FieldLogger) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		ID:         req.ID,
		RunID:      uuid.NewString(),
		Direction:  req.Direction,
		LocalPath:  req.LocalPath,
		RemotePath: req.RemotePath,
		mute:       req.Mute,
		store:      store,
		notifier:   notifier,
		ctx:        ctx,
		cancel:     cancel,
		state:      Pending,
		done:       make(chan struct{}),
	}
	t.log = log.WithFields(logrus.Fields{
		"task_id":   t.ID,
		"run_id":    t.RunID,
		"direction": t.Direction,
		"provider":  store.ID(),
	})
	t.guard = newProgressGuard(t.emitProgress)
	return t
}

// Done is closed once the task's result has been published.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the published result. It is only meaningful after Done.
func (t *Task) Result() notify.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot returns a point-in-time view of the task.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	state, total := t.state, t.total
	t.mu.Unlock()

	return Snapshot{
		ID:               t.ID,
		RunID:            t.RunID,
		Direction:        t.Direction,
		State:            state,
		LocalPath:        t.LocalPath,
		RemotePath:       t.RemotePath,
		BytesTransferred: t.guard.bytes(),
		TotalBytes:       total,
	}
}

// run executes the transfer, calls release and then publishes the result.
func (t *Task) run(release func(*Task)) {
	defer t.cancel()

	t.setState(Running)
	t.log.WithFields(logrus.Fields{"local": t.LocalPath, "remote": t.RemotePath}).Info("transfer started")

	var err error
	switch t.Direction {
	case Upload:
		err = t.upload()
	case Download:
		err = t.download()
	default:
		err = apperror.Newf(apperror.CodeInvalidArgument, "unknown direction %q", t.Direction)
	}
	t.guard.close()

	result := t.buildResult(err)
	if result.Success {
		t.setState(Succeeded)
		t.log.WithField("bytes", t.guard.bytes()).Info("transfer completed")
	} else {
		t.setState(Failed)
		t.log.WithError(err).WithField("code", result.Code).Warn("transfer failed")
	}

	release(t)
	t.notifier.Notify(result)

	t.mu.Lock()
	t.result = result
	t.mu.Unlock()
	close(t.done)
}

func (t *Task) upload() error {
	file, err := os.Open(t.LocalPath)
	if err != nil {
		return apperror.Wrap(apperror.CodeIO, err, "cannot open local file")
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return apperror.Wrap(apperror.CodeIO, err, "cannot stat local file")
	}
	if info.IsDir() {
		return apperror.Newf(apperror.CodeIO, "%s is a directory", t.LocalPath)
	}

	opts := provider.DefaultUploadOptions()
	opts.Mute = t.mute
	opts.Size = info.Size()

	if _, err := t.store.Upload(t.ctx, file, t.RemotePath, opts, t.guard.report); err != nil {
		return t.storeError(err)
	}
	t.guard.report(info.Size())
	return nil
}

func (t *Task) download() error {
	meta, err := t.store.GetMetadata(t.ctx, t.RemotePath)
	if err != nil {
		return t.storeError(err)
	}
	if !meta.IsFile() {
		return apperror.Newf(apperror.CodeInvalidTarget, "%s is not a file", t.RemotePath)
	}

	total := int64(meta.Size)
	t.mu.Lock()
	t.total = &total
	t.mu.Unlock()

	// Write to a part file first and rename on success
	partPath := t.LocalPath + partSuffix
	file, err := os.Create(partPath)
	if err != nil {
		return apperror.Wrap(apperror.CodeIO, err, "cannot create local file")
	}

	_, err = t.store.Download(t.ctx, t.RemotePath, file, t.guard.report)
	closeErr := file.Close()
	if err != nil {
		os.Remove(partPath)
		return t.storeError(err)
	}
	if closeErr != nil {
		os.Remove(partPath)
		return apperror.Wrap(apperror.CodeIO, closeErr, "failed to write local file")
	}

	if err := os.Rename(partPath, t.LocalPath); err != nil {
		os.Remove(partPath)
		return apperror.Wrap(apperror.CodeIO, err, "failed to finalize local file")
	}

	if info, err := os.Stat(t.LocalPath); err == nil {
		t.guard.report(info.Size())
	}
	return nil
}

// storeError codes an error returned by the store. Coded errors keep their
// code and cancellation wins over whatever the store reported.
func (t *Task) storeError(err error) error {
	if ctxErr := t.ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return ctxErr
	}
	var coded *apperror.Error
	if errors.As(err, &coded) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperror.Wrap(apperror.CodeStore, err, "")
}

func (t *Task) buildResult(err error) notify.Event {
	verb := "Upload"
	if t.Direction == Download {
		verb = "Download"
	}
	if err == nil {
		return notify.Result(t.ID, true, verb+" completed successfully.", "")
	}

	code := apperror.CodeOf(err)
	msg := err.Error()
	if code == apperror.CodeCancelled {
		msg = "cancelled"
	}
	return notify.Result(t.ID, false, verb+" failed: "+msg, code)
}

func (t *Task) emitProgress(bytes int64) {
	t.mu.Lock()
	total := t.total
	t.mu.Unlock()
	t.notifier.Notify(notify.Progress(t.ID, bytes, total))
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}
