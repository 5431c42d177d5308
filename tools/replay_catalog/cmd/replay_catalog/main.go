package main

import (
	"flag"
	"fmt"
	"os"

	"fpsarena/server/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay bundles")
	seed := flag.Uint64("seed", 0, "only list bundles recorded with this seed")
	winner := flag.String("winner", "", "only list matches won outright by this name")
	complete := flag.Bool("complete", false, "skip bundles that are still being recorded")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root, replaycatalog.Query{Seed: *seed, Winner: *winner, CompleteOnly: *complete})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		settings := entry.Manifest.Match
		fmt.Printf("%s  match %s seed %d  recorded %s\n", entry.Bundle, settings.MatchID, settings.Seed, entry.Manifest.CreatedAt)
		if !entry.Complete {
			fmt.Println("  in progress")
			continue
		}
		header := entry.Header
		if header.Summary != nil {
			fmt.Printf("  result: %d kills / %d deaths (K/D %.2f) over %ds, %d ticks\n",
				header.Summary.Kills, header.Summary.Deaths, header.Summary.KDRatio(), header.Summary.TimeElapsedSeconds, header.Ticks)
		}
		for i, line := range header.Scoreboard {
			fmt.Printf("    %d. %-8s %3d kills %3d deaths\n", i+1, line.Name, line.Kills, line.Deaths)
		}
	}
}
