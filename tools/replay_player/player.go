package replayplayer

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"fpsarena/server/internal/input"
	"fpsarena/server/internal/logging"
	"fpsarena/server/internal/replay"
	"fpsarena/server/internal/simulation"
)

// Report describes how a re-simulated match compares with its recording.
type Report struct {
	MatchID  string `json:"match_id"`
	Seed     uint64 `json:"seed"`
	Ticks    uint64 `json:"ticks"`
	Commands int    `json:"commands"`
	Frames   int    `json:"frames"`
	Match    bool   `json:"match"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
}

// Commands decodes the recorded command log into tick-tagged commands.
func Commands(bundle replay.Bundle) ([]simulation.TickCommand, error) {
	events := bundle.EventsOfType(simulation.CommandEventType)
	commands := make([]simulation.TickCommand, 0, len(events))
	for _, event := range events {
		var cmd input.Command
		if err := json.Unmarshal(event.Payload, &cmd); err != nil {
			return nil, fmt.Errorf("decode command at tick %d: %w", event.Tick, err)
		}
		commands = append(commands, simulation.TickCommand{Tick: event.Tick, Command: cmd})
	}
	return commands, nil
}

// Verify re-simulates the bundle from its settings and command log and
// compares the result with the newest recorded frame.
func Verify(bundle replay.Bundle, logger *logging.Logger) (Report, error) {
	settings := bundle.Manifest.Match
	report := Report{MatchID: settings.MatchID, Seed: settings.Seed, Frames: len(bundle.Frames)}

	//1.- The final frame fixes how many ticks the rerun must cover.
	last, ok := bundle.LastFrame()
	if !ok {
		return report, fmt.Errorf("bundle %s has no frames", bundle.Dir)
	}
	if settings.Step() <= 0 {
		return report, fmt.Errorf("bundle %s has no simulation step", bundle.Dir)
	}
	matchID, err := uuid.Parse(settings.MatchID)
	if err != nil {
		return report, fmt.Errorf("bundle match id: %w", err)
	}
	commands, err := Commands(bundle)
	if err != nil {
		return report, err
	}
	report.Ticks = last.Tick
	report.Commands = len(commands)

	//2.- Drive a fresh simulation through the same ticks and commands.
	sim := simulation.Rerun(settings.Step(), last.Tick, commands,
		simulation.WithLogger(logger),
		simulation.WithSeed(settings.Seed),
		simulation.WithBots(settings.BotsEnabled),
		simulation.WithMatchDuration(settings.MatchDuration()),
		simulation.WithMatchID(matchID),
	)

	//3.- Compare decoded documents so formatting differences cannot matter.
	var expected, actual any
	if err := json.Unmarshal(last.Payload, &expected); err != nil {
		return report, fmt.Errorf("decode recorded frame: %w", err)
	}
	encoded, err := json.Marshal(sim.Snapshot())
	if err != nil {
		return report, err
	}
	if err := json.Unmarshal(encoded, &actual); err != nil {
		return report, err
	}
	report.Match = reflect.DeepEqual(expected, actual)
	if !report.Match {
		report.Expected, report.Actual = expected, actual
	}
	return report, nil
}
