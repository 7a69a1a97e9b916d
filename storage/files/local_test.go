package filestore

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bhorti/testutil"
)

func pngBytes(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	conf := testutil.Config(t)
	store := NewLocalStore(conf)
	data := pngBytes(t)

	sf, err := store.Save(ctx, bytes.NewReader(data), "me.jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sf.Path, "photos/"))
	assert.True(t, strings.HasSuffix(sf.Path, ".png"), "the extension follows the content")
	assert.Equal(t, "/media/"+sf.Path, sf.URL)
	assert.Equal(t, "image/png", sf.ContentType)
	assert.Equal(t, int64(len(data)), sf.Size)

	rc, err := store.Open(ctx, sf.Path)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	require.NoError(t, store.Delete(ctx, sf.Path))
	_, err = store.Open(ctx, sf.Path)
	assert.Equal(t, ErrNotFound, err)
	assert.NoError(t, store.Delete(ctx, sf.Path), "deleting twice is fine")
}

func TestLocalStore_Rejects(t *testing.T) {
	ctx := context.Background()
	conf := testutil.Config(t)
	conf.Media.MaxPhotoSize = 64
	store := NewLocalStore(conf)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "text", data: []byte("hello, not a photo"), want: ErrUnsupportedType},
		{name: "pdf", data: []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), want: ErrUnsupportedType},
		{name: "too large", data: append([]byte("\xff\xd8\xff\xe0"), make([]byte, 100)...), want: ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Save(ctx, bytes.NewReader(tt.data), "file")
			assert.Equal(t, tt.want, err)
		})
	}

	for _, p := range []string{"", "../secret", "photos/../../x", "/etc/passwd"} {
		_, err := store.Open(ctx, p)
		assert.Equal(t, ErrInvalidPath, err, p)
	}
}
