package replay

import (
	"github.com/louisbranch/gauntlet/internal/achievement"
)

// Stats derives the achievement evaluation summary from a finalized
// replay. It only ever reads the frozen log; live, in-progress state is
// never an input.
func Stats(r Replay) achievement.GameStats {
	stats := achievement.GameStats{
		Outcome:  r.ResultSummary.Result,
		Moves:    r.ResultSummary.MoveCount,
		Mistakes: r.ResultSummary.Mistakes,
	}
	if len(r.ResultSummary.Patterns) > 0 {
		stats.Patterns = append([]string(nil), r.ResultSummary.Patterns...)
	}

	if len(r.EventLog) > 0 {
		first := r.EventLog[0].Timestamp
		last := r.EventLog[len(r.EventLog)-1].Timestamp
		if elapsed := last.Sub(first).Milliseconds(); elapsed > 0 {
			stats.ElapsedMs = elapsed
		}
	}
	return stats
}
