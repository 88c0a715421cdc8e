package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/flate"
)

// SharePath is the route that accepts an encoded payload in its p parameter.
const SharePath = "/import/confirm"

// Codec encodes and decodes payloads within size ceilings.
type Codec struct {
	MaxCompressedBytes   int
	MaxDecompressedBytes int
}

// DefaultCodec carries the production ceilings.
var DefaultCodec = Codec{MaxCompressedBytes: 4096, MaxDecompressedBytes: 16384}

// Decoded is a successfully decoded payload and the text it came from.
type Decoded struct {
	Payload Payload
	RawText string
}

// Encode normalizes p and returns its transport text.
func Encode(p Payload) (string, error) { return DefaultCodec.Encode(p) }

// Decode parses transport text with the default ceilings.
func Decode(text string, opts Options) (Decoded, error) { return DefaultCodec.Decode(text, opts) }

// Encode normalizes p and returns base64url(raw DEFLATE(JSON)). Charts keep
// the order they were given in.
func (c Codec) Encode(p Payload) (string, error) {
	n, err := Normalize(p, Options{})
	if err != nil {
		return "", err
	}
	data, err := Marshal(n)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to compress payload: %w", err)
	}

	if buf.Len() > c.MaxCompressedBytes {
		return "", &Error{Stage: StageSize, Reason: fmt.Sprintf("compressed payload is %d bytes, limit %d", buf.Len(), c.MaxCompressedBytes)}
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode and normalizes the result against opts.
func (c Codec) Decode(text string, opts Options) (Decoded, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Decoded{}, &Error{Stage: StageDecode, Reason: "empty payload"}
	}

	compressed, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(text, "="))
	if err != nil {
		return Decoded{}, &Error{Stage: StageDecode, Err: err}
	}
	if len(compressed) > c.MaxCompressedBytes {
		return Decoded{}, &Error{Stage: StageSize, Reason: fmt.Sprintf("compressed payload is %d bytes, limit %d", len(compressed), c.MaxCompressedBytes)}
	}

	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	data, err := io.ReadAll(io.LimitReader(r, int64(c.MaxDecompressedBytes)+1))
	if err != nil {
		return Decoded{}, &Error{Stage: StageDecompress, Err: err}
	}
	if len(data) > c.MaxDecompressedBytes {
		return Decoded{}, &Error{Stage: StageSize, Reason: fmt.Sprintf("decompressed payload exceeds %d bytes", c.MaxDecompressedBytes)}
	}

	var raw Payload
	if err := json.Unmarshal(data, &raw); err != nil {
		return Decoded{}, &Error{Stage: StageParse, Err: err}
	}

	p, err := Normalize(raw, opts)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Payload: p, RawText: text}, nil
}

// ShareLink returns the share path carrying encoded.
func ShareLink(encoded string) string {
	return SharePath + "?p=" + url.QueryEscape(encoded)
}

// ExtractFromLink accepts a full URL, a share path or bare encoded text and
// returns the encoded text.
func ExtractFromLink(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "?") && !strings.Contains(s, "/") {
		return s, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", &Error{Stage: StageDecode, Err: err}
	}
	p := u.Query().Get("p")
	if p == "" {
		return "", &Error{Stage: StageDecode, Reason: "link has no p parameter"}
	}
	return p, nil
}
