package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fpsarena/server/internal/match"
)

// HeaderSchemaVersion tracks the schema version for replay header documents.
const HeaderSchemaVersion = 2

// HeaderFile is the name of the header written into each bundle directory.
const HeaderFile = "header.json"

// Header summarises a finished bundle for catalogue tooling.
type Header struct {
	SchemaVersion int            `json:"schema_version"`
	MatchID       string         `json:"match_id"`
	Seed          uint64         `json:"seed"`
	Ticks         uint64         `json:"ticks"`
	Scoreboard    []match.Line   `json:"scoreboard,omitempty"`
	Summary       *match.Summary `json:"summary,omitempty"`
	FilePointer   string         `json:"file_pointer"`
}

// Validate ensures the header contains enough information for catalogue tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if strings.TrimSpace(h.MatchID) == "" {
		return fmt.Errorf("match_id must not be empty")
	}
	//1.- Ensure catalogue tooling can locate the manifest reliably.
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	return nil
}

// WriteHeader persists the supplied header to the provided file path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and decodes a replay header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return header, nil
}
