package replay

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Event is a single record decoded from the JSONL log.
type Event struct {
	Tick        uint64    `json:"tick"`
	SimulatedMs int64     `json:"simulated_ms"`
	CapturedAt  time.Time `json:"captured_at"`
	Type        string    `json:"type"`
	Payload     []byte    `json:"payload"`
}

// Frame is a single snapshot decoded from the binary frame stream.
type Frame struct {
	Tick        uint64    `json:"tick"`
	SimulatedMs int64     `json:"simulated_ms"`
	CapturedAt  time.Time `json:"captured_at"`
	Payload     []byte    `json:"payload"`
}

// Bundle is a fully decoded replay directory.
type Bundle struct {
	Dir      string   `json:"dir"`
	Manifest Manifest `json:"manifest"`
	Header   *Header  `json:"header,omitempty"`
	Events   []Event  `json:"events"`
	Frames   []Frame  `json:"frames"`
}

// LastFrame returns the newest persisted frame.
func (b Bundle) LastFrame() (Frame, bool) {
	if len(b.Frames) == 0 {
		return Frame{}, false
	}
	return b.Frames[len(b.Frames)-1], true
}

// EventsOfType filters events by type preserving order.
func (b Bundle) EventsOfType(eventType string) []Event {
	var out []Event
	for _, event := range b.Events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// LoadBundle decodes the manifest, events and frames of a bundle. path may
// point at the bundle directory or at its manifest. A missing header means
// the writer never closed and is not an error.
func LoadBundle(path string) (Bundle, error) {
	if path == "" {
		return Bundle{}, fmt.Errorf("path is required")
	}

	//1.- Locate the manifest so downstream parsing reuses relative asset paths.
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return Bundle{}, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, manifestFile)
	}
	dir := filepath.Dir(manifestPath)
	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return Bundle{}, err
	}
	bundle := Bundle{Dir: dir}
	if err := json.Unmarshal(manifestBytes, &bundle.Manifest); err != nil {
		return Bundle{}, fmt.Errorf("decode manifest: %w", err)
	}
	if bundle.Manifest.Version != 1 {
		return Bundle{}, fmt.Errorf("unsupported manifest version %d", bundle.Manifest.Version)
	}

	//2.- Decode events first so validation tools can reconstruct the timeline.
	if bundle.Events, err = loadEvents(filepath.Join(dir, bundle.Manifest.EventsPath)); err != nil {
		return Bundle{}, fmt.Errorf("decode events: %w", err)
	}
	if bundle.Frames, err = loadFrames(filepath.Join(dir, bundle.Manifest.FramesPath)); err != nil {
		return Bundle{}, fmt.Errorf("decode frames: %w", err)
	}

	headerPath := filepath.Join(dir, HeaderFile)
	if _, statErr := os.Stat(headerPath); statErr == nil {
		header, err := ReadHeader(headerPath)
		if err != nil {
			return Bundle{}, err
		}
		bundle.Header = &header
	}
	return bundle, nil
}

func loadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw eventRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		payload, err := base64.StdEncoding.DecodeString(raw.PayloadB64)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			Tick:        raw.Tick,
			SimulatedMs: raw.SimulatedMs,
			CapturedAt:  captured,
			Type:        raw.Type,
			Payload:     payload,
		})
	}
	return events, scanner.Err()
}

func loadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	offset := 0
	for offset < len(payload) {
		//1.- Read the fixed header then hydrate the payload bytes.
		if offset+frameHeader > len(payload) {
			return nil, fmt.Errorf("frame header truncated at offset %d", offset)
		}
		tick := binary.LittleEndian.Uint64(payload[offset : offset+8])
		sim := int64(binary.LittleEndian.Uint64(payload[offset+8 : offset+16]))
		captured := int64(binary.LittleEndian.Uint64(payload[offset+16 : offset+24]))
		size := int(binary.LittleEndian.Uint32(payload[offset+24 : offset+28]))
		offset += frameHeader
		if offset+size > len(payload) {
			return nil, fmt.Errorf("frame payload truncated at tick %d", tick)
		}
		frames = append(frames, Frame{
			Tick:        tick,
			SimulatedMs: sim,
			CapturedAt:  time.Unix(0, captured).UTC(),
			Payload:     append([]byte(nil), payload[offset:offset+size]...),
		})
		offset += size
	}
	return frames, nil
}
