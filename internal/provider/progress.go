package provider

import (
	"context"
	"io"
)

// ProgressReader reports cumulative bytes read and refuses to read once its
// context is done. Each Read is a cancellation checkpoint.
type ProgressReader struct {
	ctx        context.Context
	r          io.Reader
	n          int64
	onProgress ProgressFunc
}

// NewProgressReader wraps r. onProgress may be nil.
func NewProgressReader(ctx context.Context, r io.Reader, onProgress ProgressFunc) *ProgressReader {
	return &ProgressReader{ctx: ctx, r: r, onProgress: onProgress}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.n)
		}
	}
	return n, err
}

// N returns the bytes read so far.
func (p *ProgressReader) N() int64 {
	return p.n
}

// ProgressWriter is the write-side counterpart of ProgressReader.
type ProgressWriter struct {
	ctx        context.Context
	w          io.Writer
	n          int64
	onProgress ProgressFunc
}

// NewProgressWriter wraps w. onProgress may be nil.
func NewProgressWriter(ctx context.Context, w io.Writer, onProgress ProgressFunc) *ProgressWriter {
	return &ProgressWriter{ctx: ctx, w: w, onProgress: onProgress}
}

func (p *ProgressWriter) Write(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.w.Write(b)
	if n > 0 {
		p.n += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.n)
		}
	}
	return n, err
}

// N returns the bytes written so far.
func (p *ProgressWriter) N() int64 {
	return p.n
}
