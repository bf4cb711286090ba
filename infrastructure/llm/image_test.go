package llm

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImage(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantMIME string
		wantErr  error
	}{
		{name: "png", data: pngMagic, wantMIME: "image/png"},
		{name: "jpeg", data: jpegMagic, wantMIME: "image/jpeg"},
		{name: "gif", data: []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00"), wantMIME: "image/gif"},
		{name: "empty", data: nil, wantErr: ErrNoImages},
		{name: "plain text", data: []byte("definitely not a photo"), wantErr: ErrUnsupportedImage},
		{name: "pdf", data: []byte("%PDF-1.7\n"), wantErr: ErrUnsupportedImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := NewImage(tt.data)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMIME, img.MIMEType)
			assert.Equal(t, tt.data, img.Data)
		})
	}
}

func TestNewImage_TooLarge(t *testing.T) {
	data := make([]byte, MaxImageBytes+1)
	copy(data, pngMagic)

	_, err := NewImage(data)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lunch.jpg")
	require.NoError(t, os.WriteFile(path, jpegMagic, 0o600))

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIMEType)

	_, err = LoadImage(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)
}

func TestParseDataURL(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngMagic)

	t.Run("round trip", func(t *testing.T) {
		img, err := ParseDataURL("data:image/png;base64," + encoded)
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.MIMEType)
		assert.Equal(t, "data:image/png;base64,"+encoded, img.DataURL())
	})

	t.Run("media type omitted", func(t *testing.T) {
		img, err := ParseDataURL("data:;base64," + encoded)
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.MIMEType)
	})

	badInputs := map[string]string{
		"not a data url":  "https://example.com/meal.png",
		"not base64 flag": "data:image/png," + encoded,
		"bad payload":     "data:image/png;base64,!!!",
		"type mismatch":   "data:image/jpeg;base64," + encoded,
	}
	for name, in := range badInputs {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDataURL(in)
			assert.ErrorIs(t, err, ErrUnsupportedImage)
		})
	}
}
