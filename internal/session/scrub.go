package session

import (
	"github.com/louisbranch/gauntlet/internal/event"
)

// Scrubber reconstructs historical state at an arbitrary point of a
// session's event log, independent of the live projection. It only ever
// reads its snapshot of the log; scrubbing never mutates live state.
type Scrubber struct {
	log    []event.Event
	active bool
	index  int
	state  State
}

// NewScrubber snapshots the accumulated log for historical replay.
func NewScrubber(log []event.Event) *Scrubber {
	snapshot := make([]event.Event, len(log))
	copy(snapshot, log)
	return &Scrubber{log: snapshot, index: -1}
}

// Len returns the number of events in the snapshot, including cosmetic
// entries shown on the timeline but excluded from reconstruction.
func (s *Scrubber) Len() int {
	return len(s.log)
}

// MaxIndex returns the highest scrubbable index, or -1 for an empty log.
func (s *Scrubber) MaxIndex() int {
	return len(s.log) - 1
}

// Active reports whether scrub mode is engaged.
func (s *Scrubber) Active() bool {
	return s.active
}

// Index returns the current scrub position, or -1 outside scrub mode.
func (s *Scrubber) Index() int {
	if !s.active {
		return -1
	}
	return s.index
}

// State returns the most recently reconstructed historical state.
func (s *Scrubber) State() State {
	return s.state
}

// StartScrub enters scrub mode at the given index, clamped to the log
// bounds, and returns the reconstructed state.
func (s *Scrubber) StartScrub(index int) State {
	s.active = true
	return s.SetScrubIndex(index)
}

// SetScrubIndex re-derives state as of the given event index by replaying
// the prefix from the start of the log. Reconstruction uses the same
// reduction rule as the live projector, restricted to significant event
// types, so scrubbed state never diverges from what live playback showed
// at that point. An entry that fails to apply is skipped with the prior
// valid state retained so partially inconsistent logs stay viewable.
func (s *Scrubber) SetScrubIndex(index int) State {
	if index < 0 {
		index = 0
	}
	if max := s.MaxIndex(); index > max {
		index = max
	}
	s.index = index

	state := Initial()
	for i := 0; i <= index && i < len(s.log); i++ {
		evt := s.log[i]
		if !evt.Type.IsSignificant() {
			continue
		}
		// Reduce skips undecodable payloads on its own; the prior state
		// survives a corrupted or foreign entry.
		state = Reduce(state, evt)
	}
	s.state = state
	return state
}

// StopScrub exits scrub mode and returns control to live state.
func (s *Scrubber) StopScrub() {
	s.active = false
	s.index = -1
	s.state = State{}
}
