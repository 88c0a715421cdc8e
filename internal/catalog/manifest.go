// Package catalog keeps a local copy of the song master database and
// answers chart lookups from it.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

const (
	// Dir is the data-dir relative directory holding the synced database.
	Dir = "song_master"

	// MetaFile records the manifest of the installed copy.
	MetaFile = "latest_meta.json"

	// SchemaVersion is the newest catalog schema this build can read.
	SchemaVersion = 1

	// MaxBytes caps the download size.
	MaxBytes = 256 << 20
)

const (
	SettingFile          = "song_master_file"
	SettingSHA256        = "song_master_sha256"
	SettingSchemaVersion = "song_master_schema_version"
	SettingUpdatedAt     = "song_master_updated_at"
	SettingSyncedAt      = "song_master_synced_at"
)

// Manifest describes the latest published catalog.
type Manifest struct {
	FileName      string `json:"file_name"`
	SchemaVersion int    `json:"schema_version"`
	SHA256        string `json:"sha256"`
	ByteSize      int64  `json:"byte_size"`
	UpdatedAt     string `json:"updated_at,omitempty"`
	DownloadURL   string `json:"download_url,omitempty"`
}

func (m Manifest) validate() error {
	switch {
	case m.FileName == "" || m.FileName != path.Base(m.FileName) || strings.ContainsAny(m.FileName, `\/`) || strings.HasPrefix(m.FileName, "."):
		return fmt.Errorf("manifest file_name %q is not a plain file name", m.FileName)
	case m.FileName == MetaFile:
		return fmt.Errorf("manifest file_name %q is reserved", m.FileName)
	case m.SchemaVersion < 1 || m.SchemaVersion > SchemaVersion:
		return fmt.Errorf("unsupported catalog schema version %d", m.SchemaVersion)
	case m.ByteSize <= 0 || m.ByteSize > MaxBytes:
		return fmt.Errorf("manifest byte_size %d out of range", m.ByteSize)
	}
	if b, err := hex.DecodeString(m.SHA256); err != nil || len(b) != sha256.Size {
		return fmt.Errorf("manifest sha256 %q is not a sha256 hex digest", m.SHA256)
	}
	return nil
}

// Path is the data-dir relative location of the manifest's database.
func (m Manifest) Path() string {
	return path.Join(Dir, m.FileName)
}

func stagingPath(fileName string) string {
	return path.Join(Dir, fileName+".tmp.staging")
}
