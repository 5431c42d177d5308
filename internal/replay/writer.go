package replay

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"fpsarena/server/internal/match"
)

var writerMatchCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// FrameInterval is the simulated time between persisted snapshot frames.
const FrameInterval = 200 * time.Millisecond

const (
	manifestFile = "manifest.json"
	eventsFile   = "events.jsonl.sz"
	framesFile   = "frames.bin.zst"
	frameHeader  = 8 + 8 + 8 + 4
)

// Settings are the inputs a re-simulation needs besides the command log.
type Settings struct {
	MatchID         string `json:"match_id"`
	Seed            uint64 `json:"seed"`
	StepNs          int64  `json:"step_ns"`
	BotsEnabled     bool   `json:"bots_enabled"`
	MatchDurationMs int64  `json:"match_duration_ms"`
}

// Step returns the fixed simulation timestep.
func (s Settings) Step() time.Duration { return time.Duration(s.StepNs) }

// MatchDuration returns the configured countdown length.
func (s Settings) MatchDuration() time.Duration {
	return time.Duration(s.MatchDurationMs) * time.Millisecond
}

// Manifest describes the replay bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int      `json:"version"`
	CreatedAt       string   `json:"created_at"`
	FrameIntervalMs int      `json:"frame_interval_ms"`
	EventsPath      string   `json:"events_path"`
	FramesPath      string   `json:"frames_path"`
	Match           Settings `json:"match"`
}

// frameBlob stores frame metadata before it is persisted to disk.
type frameBlob struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Payload     []byte
}

// Writer streams a match to disk: every event goes to a snappy JSONL log and
// snapshot frames are sampled onto a zstd stream at FrameInterval of
// simulated time. The newest frame is always persisted on Close.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	settings    Settings
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	held        *frameBlob
	lastFrameMs int64
	framed      bool
	lastTick    uint64
	summary     *match.Summary
	scoreboard  []match.Line
	closed      bool
}

// NewWriter prepares the bundle directory under root and opens compressed sinks.
func NewWriter(root string, settings Settings, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := writerMatchCleaner.ReplaceAllString(settings.MatchID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         1,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(FrameInterval / time.Millisecond),
		EventsPath:      eventsFile,
		FramesPath:      framesFile,
		Match:           settings,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(path, manifestFile), data, 0o644); err != nil {
		return nil, Manifest{}, err
	}

	//1.- Open both sinks, unwinding the first if the second fails.
	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(path, framesFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	writer := &Writer{
		dir:         path,
		now:         clock,
		settings:    settings,
		eventFile:   eventFile,
		eventStream: snappy.NewBufferedWriter(eventFile),
		frameFile:   frameFile,
		frameStream: frameStream,
	}
	return writer, manifest, nil
}

// Directory exposes the directory backing the replay bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendEvent writes a single JSON event line to the compressed event log.
func (w *Writer) AppendEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}

	record := eventRecord{
		Tick:        tick,
		SimulatedMs: simulatedMs,
		CapturedAt:  captured.Format(time.RFC3339Nano),
		Type:        eventType,
		PayloadB64:  base64.StdEncoding.EncodeToString(payload),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	w.lastTick = max(w.lastTick, tick)
	return w.eventStream.Flush()
}

// AppendFrame persists the frame when FrameInterval of simulated time has
// passed since the last persisted one and otherwise holds it as the newest.
func (w *Writer) AppendFrame(tick uint64, simulatedMs int64, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	blob := frameBlob{Tick: tick, SimulatedMs: simulatedMs, CapturedAt: w.now().UTC(), Payload: append([]byte(nil), payload...)}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	w.lastTick = max(w.lastTick, tick)
	//1.- Sample on simulated time so bundles do not depend on wall clock jitter.
	if w.framed && time.Duration(simulatedMs-w.lastFrameMs)*time.Millisecond < FrameInterval {
		w.held = &blob
		return nil
	}
	w.held = nil
	return w.writeFrameLocked(blob)
}

// SetOutcome stores the final standings written into the header on Close.
func (w *Writer) SetOutcome(summary *match.Summary, scoreboard []match.Line) {
	if w == nil {
		return
	}
	w.mu.Lock()
	if summary != nil {
		copied := *summary
		w.summary = &copied
	}
	w.scoreboard = append([]match.Line(nil), scoreboard...)
	w.mu.Unlock()
}

// Flush persists the held frame and pushes compressed data to disk.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	if err := w.flushHeldLocked(); err != nil {
		return err
	}
	return w.frameStream.Flush()
}

// Close flushes all buffers, writes the header and releases file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every flush/close and surface the first failure for callers to inspect.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(w.flushHeldLocked())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())

	//2.- The header goes last so its presence marks a complete bundle.
	header := Header{
		SchemaVersion: HeaderSchemaVersion,
		MatchID:       w.settings.MatchID,
		Seed:          w.settings.Seed,
		Ticks:         w.lastTick,
		Scoreboard:    w.scoreboard,
		Summary:       w.summary,
		FilePointer:   manifestFile,
	}
	if header.MatchID == "" {
		header.MatchID = filepath.Base(w.dir)
	}
	keep(WriteHeader(filepath.Join(w.dir, HeaderFile), header))
	return firstErr
}

func (w *Writer) flushHeldLocked() error {
	if w.held == nil {
		return nil
	}
	blob := *w.held
	w.held = nil
	return w.writeFrameLocked(blob)
}

// writeFrameLocked emits one length-prefixed frame; callers must hold the mutex.
func (w *Writer) writeFrameLocked(frame frameBlob) error {
	header := make([]byte, frameHeader)
	binary.LittleEndian.PutUint64(header[0:8], frame.Tick)
	binary.LittleEndian.PutUint64(header[8:16], uint64(frame.SimulatedMs))
	binary.LittleEndian.PutUint64(header[16:24], uint64(frame.CapturedAt.UnixNano()))
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(frame.Payload)))
	if _, err := w.frameStream.Write(header); err != nil {
		return err
	}
	if _, err := w.frameStream.Write(frame.Payload); err != nil {
		return err
	}
	w.lastFrameMs = frame.SimulatedMs
	w.framed = true
	return nil
}

type eventRecord struct {
	Tick        uint64 `json:"tick"`
	SimulatedMs int64  `json:"simulated_ms"`
	CapturedAt  string `json:"captured_at"`
	Type        string `json:"type"`
	PayloadB64  string `json:"payload_b64"`
}
