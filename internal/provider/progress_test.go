package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestProgressReader_ReportsCumulativeBytes(t *testing.T) {
	var reports []int64
	r := NewProgressReader(context.Background(), strings.NewReader("hello world"), func(n int64) {
		reports = append(reports, n)
	})

	buf := make([]byte, 4)
	var out bytes.Buffer
	if _, err := io.CopyBuffer(&out, r, buf); err != nil {
		t.Fatalf("copy failed: %v", err)
	}

	if out.String() != "hello world" {
		t.Errorf("Expected 'hello world', got %q", out.String())
	}
	want := []int64{4, 8, 11}
	if len(reports) != len(want) {
		t.Fatalf("Expected reports %v, got %v", want, reports)
	}
	for i := range want {
		if reports[i] != want[i] {
			t.Errorf("report %d: expected %d, got %d", i, want[i], reports[i])
		}
	}
	if r.N() != 11 {
		t.Errorf("Expected N()=11, got %d", r.N())
	}
}

func TestProgressReader_NilCallback(t *testing.T) {
	r := NewProgressReader(context.Background(), strings.NewReader("abc"), nil)
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("Expected 'abc', got %q", data)
	}
}

func TestProgressReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewProgressReader(ctx, strings.NewReader("abcdef"), nil)

	buf := make([]byte, 2)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	cancel()
	if _, err := r.Read(buf); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if r.N() != 2 {
		t.Errorf("Expected N()=2, got %d", r.N())
	}
}

func TestProgressWriter_ReportsCumulativeBytes(t *testing.T) {
	var last int64
	var out bytes.Buffer
	w := NewProgressWriter(context.Background(), &out, func(n int64) { last = n })

	w.Write([]byte("abc"))
	w.Write([]byte("defg"))

	if last != 7 || w.N() != 7 {
		t.Errorf("Expected 7 bytes reported, got last=%d N=%d", last, w.N())
	}
	if out.String() != "abcdefg" {
		t.Errorf("Expected 'abcdefg', got %q", out.String())
	}
}

func TestProgressWriter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	w := NewProgressWriter(ctx, &out, nil)
	if _, err := w.Write([]byte("abc")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("Expected nothing written, got %q", out.String())
	}
}
