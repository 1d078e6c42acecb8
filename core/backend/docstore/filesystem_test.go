package docstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	key := "invoice/01JD5W9VXCJ3M0F7YB4N2QRTKZ"
	require.NoError(t, store.Put(ctx, key, "application/pdf", strings.NewReader("%PDF-1.7")))

	body, contentType, err := store.Get(ctx, key)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
	assert.Equal(t, "application/pdf", contentType)

	// replacing keeps a single version
	require.NoError(t, store.Put(ctx, key, "text/plain", strings.NewReader("v2")))
	body, contentType, err = store.Get(ctx, key)
	require.NoError(t, err)
	defer body.Close()
	data, _ = io.ReadAll(body)
	assert.Equal(t, "v2", string(data))
	assert.Equal(t, "text/plain", contentType)

	require.NoError(t, store.Delete(ctx, key))
	_, _, err = store.Get(ctx, key)
	assert.Equal(t, ErrNoDocument, err)
}

func TestFilesystemPrefixDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "invoice/a", "text/plain", strings.NewReader("a")))
	require.NoError(t, store.Put(ctx, "invoice/b", "text/plain", strings.NewReader("b")))
	require.NoError(t, store.DeleteAllWithPrefix(ctx, "invoice"))

	_, _, err = store.Get(ctx, "invoice/a")
	assert.Equal(t, ErrNoDocument, err)
	_, _, err = store.Get(ctx, "invoice/b")
	assert.Equal(t, ErrNoDocument, err)
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Put(ctx, "../escape", "text/plain", strings.NewReader("x")))
	_, _, err = store.Get(ctx, "../escape")
	assert.Error(t, err)
}
