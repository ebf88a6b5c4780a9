package models

import (
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ImageFile is a source image selected for submission.
// ID is generated at selection time and threads a batch item through request and response.
type ImageFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// NewImageFile wraps in-memory image bytes, sniffing the MIME type from content.
func NewImageFile(name string, data []byte) ImageFile {
	return ImageFile{
		ID:       uuid.New().String(),
		Name:     name,
		Size:     int64(len(data)),
		MIMEType: http.DetectContentType(data),
		Data:     data,
	}
}

// ReadImageFile loads an image from disk.
func ReadImageFile(path string) (ImageFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, err
	}
	return NewImageFile(filepath.Base(path), data), nil
}

// Validate checks the image can be submitted.
func (f *ImageFile) Validate() error {
	if f.Name == "" {
		return errors.New("image name must not be empty")
	}
	if len(f.Data) == 0 {
		return errors.New("image data must not be empty")
	}
	return nil
}

// PreviewURL renders the image as a data URL for local preview.
func (f *ImageFile) PreviewURL() string {
	mime := f.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}
