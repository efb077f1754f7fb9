package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/provider"
)

func TestMethodCall_Int(t *testing.T) {
	call := MethodCall{Arguments: map[string]interface{}{
		"float":    float64(7),
		"fraction": 7.5,
		"int":      3,
		"string":   "12",
		"bad":      "x",
	}}

	tests := []struct {
		name string
		want int64
		ok   bool
	}{
		{"float", 7, true},
		{"fraction", 0, false},
		{"int", 3, true},
		{"string", 12, true},
		{"bad", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		got, ok := call.Int(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
	assert.Equal(t, "12", call.String("string"))
	assert.Equal(t, "", call.String("float"))
}

func TestNewFolderEntry(t *testing.T) {
	ts := time.Date(2023, 12, 31, 23, 59, 1, 0, time.FixedZone("CET", 3600))

	file := NewFolderEntry(provider.Metadata{
		Kind: provider.KindFile, Name: "a.txt", PathLower: "/a.txt", PathDisplay: "/A.txt",
		Size: 42, ClientModified: ts, ServerModified: ts,
	})
	assert.True(t, file.IsFile)
	assert.Equal(t, uint64(42), file.Filesize)
	assert.Equal(t, "20231231 225901", file.ClientModified)

	folder := NewFolderEntry(provider.Metadata{Kind: provider.KindFolder, Name: "Docs", Size: 99, ServerModified: ts})
	assert.False(t, folder.IsFile)
	assert.Zero(t, folder.Filesize)
	assert.Empty(t, folder.ServerModified)
}

func TestFail(t *testing.T) {
	resp := Fail("Failed to list folder: ", apperror.New(apperror.CodeStore, "path/not_found/"))
	assert.False(t, resp.Success)
	assert.Equal(t, "Failed to list folder: path/not_found/", resp.Message)
	assert.Equal(t, apperror.CodeStore, resp.Code)

	resp = Fail("Upload failed: ", errors.New("boom"))
	assert.Equal(t, apperror.CodeInternal, resp.Code)
}
