package media

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindJPEG
	KindPNG
	KindWebP
	KindSQLite
)

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	case KindWebP:
		return "webp"
	case KindSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// SQLiteHeader opens every SQLite database file.
var SQLiteHeader = []byte("SQLite format 3\x00")

var (
	jpegStart = []byte{0xff, 0xd8, 0xff}
	jpegEnd   = []byte{0xff, 0xd9}
	pngStart  = []byte("\x89PNG\r\n\x1a\n")
)

var ErrUnexpectedFormat = errors.New("unexpected file format")

// Sniff classifies data by its leading bytes.
func Sniff(data []byte) Kind {
	switch {
	case bytes.HasPrefix(data, jpegStart):
		return KindJPEG
	case bytes.HasPrefix(data, pngStart):
		return KindPNG
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return KindWebP
	case bytes.HasPrefix(data, SQLiteHeader):
		return KindSQLite
	default:
		return KindUnknown
	}
}

// ValidateJPEG checks the start and end markers. Evidence blobs are always
// re-encoded to JPEG before they get here, so anything else is a truncated
// or foreign file.
func ValidateJPEG(data []byte) error {
	if k := Sniff(data); k != KindJPEG {
		return fmt.Errorf("%w: want jpeg, got %s", ErrUnexpectedFormat, k)
	}
	// Some encoders pad after EOI.
	if !bytes.HasSuffix(bytes.TrimRight(data, "\x00"), jpegEnd) {
		return fmt.Errorf("%w: jpeg is truncated", ErrUnexpectedFormat)
	}
	return nil
}

// JPEGSize returns the pixel dimensions stored in the JPEG header.
func JPEGSize(data []byte) (width, height int, err error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read jpeg header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// ValidateSQLite checks the database file header.
func ValidateSQLite(data []byte) error {
	if !bytes.HasPrefix(data, SQLiteHeader) {
		return fmt.Errorf("%w: missing sqlite header", ErrUnexpectedFormat)
	}
	return nil
}
