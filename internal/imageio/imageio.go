// Package imageio loads the source image a run decomposes.
package imageio

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"

	"partforge/internal/services"
	"partforge/internal/services/llm"
)

// Source is a decoded source image together with its encoded bytes.
type Source struct {
	Path   string
	MIME   string
	Data   []byte
	Width  int
	Height int
	Image  image.Image
}

// Load reads and decodes the image at path.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, services.Wrap(services.ErrNotFound, "imageio", "load", fmt.Sprintf("image %q not found", path), err)
		}
		return nil, services.Wrap(services.ErrValidation, "imageio", "load", "read image", err)
	}
	src, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	src.Path = path
	return src, nil
}

// Decode decodes encoded PNG, JPEG or GIF bytes.
func Decode(data []byte) (*Source, error) {
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrValidation, "imageio", "decode", "image is empty", nil)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "imageio", "decode", "unsupported or corrupt image", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, services.Wrap(services.ErrValidation, "imageio", "decode", "image has no pixels", nil)
	}
	mimeType := http.DetectContentType(data)
	if format != "" {
		mimeType = "image/" + format
	}
	return &Source{
		MIME:   mimeType,
		Data:   data,
		Width:  b.Dx(),
		Height: b.Dy(),
		Image:  img,
	}, nil
}

// Attachment returns the image in the form the reasoning client sends.
func (s *Source) Attachment() llm.Image {
	return llm.Image{MIME: s.MIME, Data: s.Data}
}

// Digest fingerprints the encoded bytes.
func (s *Source) Digest() string {
	sum := sha256.Sum256(s.Data)
	return hex.EncodeToString(sum[:])
}
