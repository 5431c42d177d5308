package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"fpsarena/server/internal/logging"
	"fpsarena/server/internal/replay"
	"fpsarena/server/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a replay directory or manifest.json")
	verify := flag.Bool("verify", false, "Re-simulate the bundle and compare it with the last recorded frame")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	bundle, err := replay.LoadBundle(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	var payload any = bundle
	matched := true
	if *verify {
		report, err := replayplayer.Verify(bundle, logging.NewWithWriter(os.Stderr, logging.WarnLevel))
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify error:", err)
			os.Exit(2)
		}
		payload = report
		matched = report.Match
	}

	//1.- Render as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
	if !matched {
		os.Exit(4)
	}
}
