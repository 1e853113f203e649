// Package main inspects stored replays: summary, move log, and the
// projected state at a given scrub position.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/louisbranch/gauntlet/internal/platform/config"
	"github.com/louisbranch/gauntlet/internal/session"
	"github.com/louisbranch/gauntlet/internal/storage/sqlite"
)

func main() {
	dbPath := flag.String("db", "gauntlet.db", "Path to the SQLite database file")
	replayID := flag.String("replay", "", "Replay id to inspect")
	scrubIndex := flag.Int("scrub", -1, "Scrub position to project (significant events only); -1 shows the final state")
	flag.Parse()

	if *replayID == "" {
		flag.Usage()
		os.Exit(2)
	}

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		config.Exitf("open storage: %v", err)
	}
	defer store.Close()

	record, err := store.GetReplay(context.Background(), *replayID)
	if err != nil {
		config.Exitf("load replay: %v", err)
	}

	fmt.Printf("replay %s\n", record.ID)
	fmt.Printf("  challenge: %s", record.ChallengeID)
	if record.LevelID != "" {
		fmt.Printf(" level: %s", record.LevelID)
	}
	fmt.Println()
	fmt.Printf("  result: %s in %d moves (%d mistakes)\n",
		record.ResultSummary.Result, record.ResultSummary.MoveCount, record.ResultSummary.Mistakes)
	if len(record.ResultSummary.Patterns) > 0 {
		fmt.Printf("  patterns: %v\n", record.ResultSummary.Patterns)
	}

	for _, move := range record.MovesLog {
		fmt.Printf("  %3d. %-8s %s\n", move.Index+1, move.Move, move.Actor)
	}

	scrubber := session.NewScrubber(record.EventLog)
	index := *scrubIndex
	if index < 0 {
		index = scrubber.MaxIndex()
	}
	state := scrubber.StartScrub(index)
	fmt.Printf("state at position %d/%d: move %d, turn %s, token %s\n",
		scrubber.Index(), scrubber.MaxIndex(), state.MoveCount, state.Turn, state.StateToken)
	if state.GameOver {
		fmt.Printf("  game over: %s\n", state.Result)
	}
}
