package tournament

import (
	"testing"

	"github.com/AdamBeresnev/cuptrack/internal/utils"
	"github.com/stretchr/testify/assert"
)

func TestTabOn(t *testing.T) {
	tr := Tournament{StartDate: "2026-02-01", EndDate: "2026-02-28"}

	tests := []struct {
		day  string
		want Tab
	}{
		{"2026-01-31", TabUpcoming},
		{"2026-02-01", TabActive},
		{"2026-02-28", TabActive},
		{"2026-03-01", TabEnded},
	}
	for _, tt := range tests {
		t.Run(tt.day, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.TabOn(tt.day))
		})
	}
}

func TestPayloadUUID(t *testing.T) {
	local := Tournament{UUID: "local"}
	assert.Equal(t, "local", local.PayloadUUID())

	imported := Tournament{UUID: "local", SourceUUID: utils.Ptr("source"), IsImported: true}
	assert.Equal(t, "source", imported.PayloadUUID())
	assert.Equal(t, "source", imported.Payload([]int{1}).UUID)

	missing := Tournament{UUID: "local", IsImported: true}
	assert.Equal(t, "local", missing.PayloadUUID(), "An import without a source uuid falls back to its own")
	blank := Tournament{UUID: "local", SourceUUID: utils.Ptr(""), IsImported: true}
	assert.Equal(t, "local", blank.PayloadUUID())
}

func TestEvidencePaths(t *testing.T) {
	assert.Equal(t, "evidences/abc/42.jpg", EvidencePath("abc", 42))

	e := Evidence{TournamentUUID: "abc", FileName: EvidenceFileName(7), UpdateSeq: 1}
	assert.Equal(t, "evidences/abc/7.jpg", e.Path())
	assert.True(t, e.Submitted())

	e.FileDeleted = true
	assert.False(t, e.Submitted())
}

func TestParseTab(t *testing.T) {
	tab, ok := ParseTab("ended")
	assert.True(t, ok)
	assert.Equal(t, TabEnded, tab)

	_, ok = ParseTab("archived")
	assert.False(t, ok)
}
