package llm

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

// MaxImageBytes bounds the size of a single meal photo. The vision APIs
// reject larger inline payloads.
const MaxImageBytes = 20 << 20

// supportedImageTypes are the media types accepted by all three providers.
var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// NewImage sniffs the media type of data and returns a ports.Image.
// It fails with ErrUnsupportedImage for anything other than JPEG, PNG,
// GIF, or WebP.
func NewImage(data []byte) (ports.Image, error) {
	if len(data) == 0 {
		return ports.Image{}, ErrNoImages
	}
	if len(data) > MaxImageBytes {
		return ports.Image{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrUnsupportedImage, len(data), MaxImageBytes)
	}

	mtype := mimetype.Detect(data)
	// Detect may report parameters, e.g. "image/png; charset=binary".
	mediaType, _, _ := strings.Cut(mtype.String(), ";")
	if !supportedImageTypes[mediaType] {
		return ports.Image{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, mediaType)
	}

	return ports.Image{MIMEType: mediaType, Data: data}, nil
}

// LoadImage reads the file at path and returns it as a ports.Image.
func LoadImage(path string) (ports.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ports.Image{}, fmt.Errorf("read image %s: %w", path, err)
	}
	return NewImage(data)
}

// ParseDataURL decodes a "data:<mime>;base64,<payload>" URL. The declared
// media type is verified against the decoded bytes.
func ParseDataURL(dataURL string) (ports.Image, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return ports.Image{}, fmt.Errorf("%w: not a data URL", ErrUnsupportedImage)
	}

	header, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return ports.Image{}, fmt.Errorf("%w: data URL must be base64 encoded", ErrUnsupportedImage)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return ports.Image{}, fmt.Errorf("%w: decode base64: %v", ErrUnsupportedImage, err)
	}

	img, err := NewImage(data)
	if err != nil {
		return ports.Image{}, err
	}

	declared := strings.TrimSuffix(header, ";base64")
	if declared != "" && declared != img.MIMEType {
		return ports.Image{}, fmt.Errorf("%w: declared %s but content is %s", ErrUnsupportedImage, declared, img.MIMEType)
	}
	return img, nil
}
