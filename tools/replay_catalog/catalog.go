package replaycatalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fpsarena/server/internal/match"
	"fpsarena/server/internal/replay"
)

const manifestName = "manifest.json"

// Entry describes one bundle directory. In-progress bundles have no header.
type Entry struct {
	Bundle   string          `json:"bundle"`
	Complete bool            `json:"complete"`
	Manifest replay.Manifest `json:"manifest"`
	Header   *replay.Header  `json:"header,omitempty"`
	Winner   string          `json:"winner,omitempty"`
}

// Query narrows a listing. Zero values match everything.
type Query struct {
	Seed         uint64
	Winner       string
	CompleteOnly bool
}

func (q Query) matches(e Entry) bool {
	if q.CompleteOnly && !e.Complete {
		return false
	}
	if q.Seed != 0 && e.Manifest.Match.Seed != q.Seed {
		return false
	}
	if q.Winner != "" && !strings.EqualFold(q.Winner, e.Winner) {
		return false
	}
	return true
}

// List reads every bundle directly under root, newest first.
func List(root string, q Query) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		//1.- Directories without a manifest are not bundles.
		entry, ok, err := readEntry(filepath.Join(root, dir.Name()))
		if err != nil {
			return nil, err
		}
		if ok && q.matches(entry) {
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Manifest.CreatedAt == entries[j].Manifest.CreatedAt {
			return entries[i].Bundle < entries[j].Bundle
		}
		return entries[i].Manifest.CreatedAt > entries[j].Manifest.CreatedAt
	})
	return entries, nil
}

func readEntry(bundle string) (Entry, bool, error) {
	data, err := os.ReadFile(filepath.Join(bundle, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry := Entry{Bundle: bundle}
	if err := json.Unmarshal(data, &entry.Manifest); err != nil {
		return Entry{}, false, fmt.Errorf("%s: %w", bundle, err)
	}

	header, err := replay.ReadHeader(filepath.Join(bundle, replay.HeaderFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return entry, true, nil
	case err != nil:
		return Entry{}, false, err
	}
	entry.Complete = true
	entry.Header = &header
	entry.Winner = winner(header.Scoreboard)
	return entry, true, nil
}

// winner names the top ranked line, or nothing when the lead is shared.
func winner(lines []match.Line) string {
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > 1 && lines[1].Kills == lines[0].Kills {
		return ""
	}
	return lines[0].Name
}

// MarshalEntries renders entries as indented JSON for the CLI.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
