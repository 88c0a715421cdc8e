// Package payload is the portable tournament definition and its codec.
//
// A payload travels as base64url(raw DEFLATE(canonical JSON)). Canonical
// means normalized text, sorted chart ids and a fixed key order, so two
// devices holding the same definition compute the same content hash.
package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/AdamBeresnev/cuptrack/internal/calendar"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Version is the only payload version understood.
const Version = 1

const (
	MaxNameLen    = 80
	MaxOwnerLen   = 40
	MaxHashtagLen = 32
	MaxCharts     = 100
)

// hashDomain separates payload hashes from any other sha256 in the system.
const hashDomain = "cuptrack/tournament/v1"

// Payload is the wire form of a tournament definition.
type Payload struct {
	V       int    `json:"v"`
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Hashtag string `json:"hashtag"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Charts  []int  `json:"charts"`
}

// Options tunes Normalize.
type Options struct {
	// Today, when set, rejects payloads whose end date is before it.
	Today string
}

// Normalize validates raw and returns its normalized form. Checks run in a
// fixed order and the first failure is returned as a validate-stage *Error.
func Normalize(raw Payload, opts Options) (Payload, error) {
	if raw.V != Version {
		return Payload{}, invalid("v", fmt.Sprintf("unsupported version %d", raw.V))
	}

	id := strings.ToLower(strings.TrimSpace(raw.UUID))
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return Payload{}, invalid("uuid", "must be a canonical uuid")
	}

	name, err := normalizeText("name", raw.Name, MaxNameLen)
	if err != nil {
		return Payload{}, err
	}
	owner, err := normalizeText("owner", raw.Owner, MaxOwnerLen)
	if err != nil {
		return Payload{}, err
	}
	hashtag := NormalizeHashtag(raw.Hashtag)
	if hashtag == "" {
		return Payload{}, invalid("hashtag", "must not be empty")
	}

	if err := ValidateDates(raw.Start, raw.End, opts.Today); err != nil {
		return Payload{}, err
	}
	if err := ValidateCharts(raw.Charts); err != nil {
		return Payload{}, err
	}

	return Payload{
		V:       Version,
		UUID:    id,
		Name:    name,
		Owner:   owner,
		Hashtag: hashtag,
		Start:   raw.Start,
		End:     raw.End,
		Charts:  slices.Clone(raw.Charts),
	}, nil
}

func normalizeText(field, s string, max int) (string, error) {
	s = norm.NFC.String(strings.TrimSpace(s))
	switch n := utf8.RuneCountInString(s); {
	case n == 0:
		return "", invalid(field, "must not be empty")
	case n > max:
		return "", invalid(field, fmt.Sprintf("must be at most %d characters", max))
	}
	return s, nil
}

// NormalizeHashtag strips leading hash markers (half or full width, possibly
// repeated), applies NFKC, drops whitespace and control characters, strips
// markers surfacing after that and truncates to MaxHashtagLen.
func NormalizeHashtag(s string) string {
	s = trimMarkers(strings.TrimSpace(s))
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
	s = trimMarkers(s)
	if utf8.RuneCountInString(s) > MaxHashtagLen {
		s = string([]rune(s)[:MaxHashtagLen])
	}
	return s
}

func trimMarkers(s string) string {
	return strings.TrimLeft(s, "#＃")
}

// ValidateDates checks ISO dates with start <= end, and end >= today when
// today is set.
func ValidateDates(start, end, today string) error {
	if !calendar.Valid(start) {
		return invalid("start", "must be an ISO date")
	}
	if !calendar.Valid(end) {
		return invalid("end", "must be an ISO date")
	}
	if start > end {
		return invalid("end", "must not be before start")
	}
	if today != "" && end < today {
		return invalid("end", "tournament has already ended")
	}
	return nil
}

// ValidateCharts checks 1..MaxCharts positive ids without duplicates.
func ValidateCharts(charts []int) error {
	if len(charts) == 0 {
		return invalid("charts", "at least one chart is required")
	}
	if len(charts) > MaxCharts {
		return invalid("charts", fmt.Sprintf("at most %d charts", MaxCharts))
	}
	seen := make(map[int]struct{}, len(charts))
	for _, id := range charts {
		if id <= 0 {
			return invalid("charts", fmt.Sprintf("chart id %d is not positive", id))
		}
		if _, dup := seen[id]; dup {
			return invalid("charts", fmt.Sprintf("chart id %d is duplicated", id))
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Canonicalize returns p with chart ids in ascending order.
func Canonicalize(p Payload) Payload {
	p.Charts = slices.Sorted(slices.Values(p.Charts))
	return p
}

// CanonicalJSON serializes the canonical form of p.
func CanonicalJSON(p Payload) ([]byte, error) {
	return Marshal(Canonicalize(p))
}

// Marshal writes p as compact JSON without HTML escaping, keeping chart order.
func Marshal(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ContentHash is the sha256 hex digest of the canonical form of p. It is the
// dedup key for imports. p is expected to be normalized.
func ContentHash(p Payload) (string, error) {
	data, err := CanonicalJSON(p)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(hashDomain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
