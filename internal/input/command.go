package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Kind names a presentation command.
type Kind string

const (
	KindKey        Kind = "key"
	KindJump       Kind = "jump"
	KindFire       Kind = "fire"
	KindReload     Kind = "reload"
	KindAim        Kind = "aim"
	KindCapture    Kind = "capture"
	KindPause      Kind = "pause"
	KindResume     Kind = "resume"
	KindRestart    Kind = "restart"
	KindScoreboard Kind = "scoreboard"
)

// Key is a movement direction.
type Key string

const (
	KeyForward Key = "forward"
	KeyBack    Key = "back"
	KeyLeft    Key = "left"
	KeyRight   Key = "right"
)

var keyAliases = map[string]Key{
	"forward": KeyForward, "keyw": KeyForward, "arrowup": KeyForward,
	"back": KeyBack, "backward": KeyBack, "keys": KeyBack, "arrowdown": KeyBack,
	"left": KeyLeft, "keya": KeyLeft, "arrowleft": KeyLeft,
	"right": KeyRight, "keyd": KeyRight, "arrowright": KeyRight,
}

// ParseKey accepts direction names and browser key codes (KeyW, ArrowUp, ...).
func ParseKey(raw string) (Key, bool) {
	key, ok := keyAliases[strings.ToLower(strings.TrimSpace(raw))]
	return key, ok
}

var (
	// ErrUnknownCommand is returned for unrecognised command kinds.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidCommand is returned for malformed command fields.
	ErrInvalidCommand = errors.New("invalid command")
)

// Command is one presentation to simulation message. Commands are applied
// at the start of the next tick.
type Command struct {
	Seq     uint64  `json:"seq,omitempty"`
	Kind    Kind    `json:"type"`
	Key     Key     `json:"key,omitempty"`
	Pressed bool    `json:"pressed,omitempty"`
	Yaw     float64 `json:"yaw,omitempty"`
	Pitch   float64 `json:"pitch,omitempty"`
	Engaged bool    `json:"engaged,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Decode parses and validates a JSON command.
func Decode(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := cmd.Normalize(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Normalize canonicalises key aliases and rejects malformed commands.
func (c *Command) Normalize() error {
	switch c.Kind {
	case KindKey:
		key, ok := ParseKey(string(c.Key))
		if !ok {
			return fmt.Errorf("%w: unknown key %q", ErrInvalidCommand, c.Key)
		}
		c.Key = key
	case KindAim:
		//1.- Reject non-finite angles before they can poison the camera basis.
		if math.IsNaN(c.Yaw) || math.IsInf(c.Yaw, 0) || math.IsNaN(c.Pitch) || math.IsInf(c.Pitch, 0) {
			return fmt.Errorf("%w: aim angles must be finite", ErrInvalidCommand)
		}
	case KindCapture:
		c.Reason = truncateUTF8(c.Reason, maxReasonBytes)
	case KindJump, KindFire, KindReload, KindPause, KindResume, KindRestart, KindScoreboard:
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, c.Kind)
	}
	return nil
}

// IsPress reports whether the command is suppressed while paused. Key
// releases and control commands always pass.
func (c Command) IsPress() bool {
	switch c.Kind {
	case KindKey:
		return c.Pressed
	case KindJump, KindFire, KindReload:
		return true
	}
	return false
}

const maxReasonBytes = 256

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
