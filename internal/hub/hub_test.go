package hub

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/louisbranch/gauntlet/internal/achievement"
	"github.com/louisbranch/gauntlet/internal/event"
	"github.com/louisbranch/gauntlet/internal/session"
	"github.com/louisbranch/gauntlet/internal/storage"
	"github.com/louisbranch/gauntlet/internal/storage/sqlite"
)

func newTestHub(t *testing.T, defs []achievement.Achievement, opts Options) (*Hub, storage.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("store.Close() error = %v", err)
		}
	})
	return New(store, defs, opts), store
}

func createTestSession(t *testing.T, h *Hub, sessionID string) session.Session {
	t.Helper()
	record, err := h.CreateSession(context.Background(), SessionParams{
		SessionID:   sessionID,
		ChallengeID: "chess-daily",
		UserID:      "user-1",
		LevelID:     "level-3",
		Seed:        42,
		StateToken:  "start",
		LegalMoves:  []string{"e4", "d4"},
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return record
}

func TestCreateSessionAppendsCreatedEvent(t *testing.T) {
	h, store := newTestHub(t, nil, Options{})
	ctx := context.Background()

	record := createTestSession(t, h, "sess-1")
	if record.Status != session.StatusActive {
		t.Fatalf("session status = %s, want %s", record.Status, session.StatusActive)
	}

	events, err := store.ListEvents(ctx, "sess-1", 0, 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events len = %d, want 1", len(events))
	}
	if events[0].Type != event.TypeSessionCreated || events[0].Seq != 1 {
		t.Fatalf("events[0] = %+v", events[0])
	}
}

func TestCreateSessionValidation(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{})
	ctx := context.Background()

	if _, err := h.CreateSession(ctx, SessionParams{StateToken: "start"}); err == nil {
		t.Fatal("CreateSession() without challenge id expected error")
	}
	if _, err := h.CreateSession(ctx, SessionParams{ChallengeID: "chess-daily"}); err == nil {
		t.Fatal("CreateSession() without state token expected error")
	}
}

func TestAppendAssignsSequence(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{})
	ctx := context.Background()
	createTestSession(t, h, "sess-1")

	evt, err := h.Append(ctx, "sess-1", event.TypeMoveExecuted, event.MoveExecutedPayload{
		Move: "e4", Turn: event.TurnOpponent, MoveCount: 1, StateToken: "after-e4",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if evt.Seq != 2 {
		t.Fatalf("Append() seq = %d, want 2", evt.Seq)
	}

	if _, err := h.Append(ctx, "sess-1", event.Type("bogus"), nil); err == nil {
		t.Fatal("Append() unknown type expected error")
	}
}

func TestCompletionPipeline(t *testing.T) {
	defs := []achievement.Achievement{
		{
			ID: "first-win", Name: "First Win", Points: 10, Rarity: achievement.RarityCommon,
			Rule: achievement.Outcome(event.ResultWon),
		},
		{
			ID: "marathon", Name: "Marathon", Points: 20, Rarity: achievement.RarityRare,
			Rule: achievement.Moves(achievement.CmpGte, 100),
		},
		{
			ID: "broken", Name: "Broken", Points: 5, Rarity: achievement.RarityCommon,
			Rule: achievement.Custom(func(achievement.GameStats) bool { panic("boom") }),
		},
	}
	h, store := newTestHub(t, defs, Options{})
	ctx := context.Background()
	createTestSession(t, h, "sess-1")

	moves := []struct {
		typ     event.Type
		payload any
	}{
		{event.TypeMoveExecuted, event.MoveExecutedPayload{Move: "e4", Turn: event.TurnOpponent, MoveCount: 1, StateToken: "t1"}},
		{event.TypeAIMoved, event.AIMovedPayload{Move: "e5", Turn: event.TurnPlayer, MoveCount: 1, StateToken: "t2"}},
		{event.TypeMoveExecuted, event.MoveExecutedPayload{Move: "Nf3", Turn: event.TurnOpponent, MoveCount: 2, StateToken: "t3"}},
	}
	for _, m := range moves {
		if _, err := h.Append(ctx, "sess-1", m.typ, m.payload); err != nil {
			t.Fatalf("Append(%s) error = %v", m.typ, err)
		}
	}
	if _, err := h.Append(ctx, "sess-1", event.TypeGameCompleted, event.GameCompletedPayload{
		Result: event.ResultWon, MoveCount: 2,
	}); err != nil {
		t.Fatalf("Append(game_completed) error = %v", err)
	}

	record, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if record.Status != session.StatusCompleted {
		t.Fatalf("session status = %s, want %s", record.Status, session.StatusCompleted)
	}

	frozen, err := store.GetReplay(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetReplay() error = %v", err)
	}
	if frozen.ResultSummary.Result != event.ResultWon || frozen.ResultSummary.MoveCount != 2 {
		t.Fatalf("replay summary = %+v", frozen.ResultSummary)
	}
	if frozen.LevelID != "level-3" || frozen.Seed != 42 {
		t.Fatalf("replay meta = level %q seed %d", frozen.LevelID, frozen.Seed)
	}

	grants, err := store.ListGrants(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("ListGrants() error = %v", err)
	}
	if len(grants) != 1 || grants[0].AchievementID != "first-win" {
		t.Fatalf("grants = %+v, want only first-win", grants)
	}

	events, err := store.ListEvents(ctx, "sess-1", 0, 100)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	state := session.Project(events)
	if !state.GameOver || state.Result != event.ResultWon {
		t.Fatalf("projected state = %+v", state)
	}
	if len(state.EarnedAchievements) != 1 || state.EarnedAchievements[0] != "first-win" {
		t.Fatalf("earned = %v", state.EarnedAchievements)
	}
	if !state.EvaluationComplete {
		t.Fatal("evaluation complete flag not set")
	}
}

func TestCompletionPipelineIsIdempotent(t *testing.T) {
	defs := []achievement.Achievement{
		{
			ID: "first-win", Name: "First Win", Points: 10, Rarity: achievement.RarityCommon,
			Rule: achievement.Outcome(event.ResultWon),
		},
	}
	h, store := newTestHub(t, defs, Options{})
	ctx := context.Background()
	createTestSession(t, h, "sess-1")

	if _, err := h.Append(ctx, "sess-1", event.TypeGameCompleted, event.GameCompletedPayload{
		Result: event.ResultWon, MoveCount: 0,
	}); err != nil {
		t.Fatalf("Append(game_completed) error = %v", err)
	}
	// A duplicate completion event never re-runs awards.
	if _, err := h.Append(ctx, "sess-1", event.TypeGameCompleted, event.GameCompletedPayload{
		Result: event.ResultLost,
	}); err != nil {
		t.Fatalf("Append(duplicate game_completed) error = %v", err)
	}

	grants, err := store.ListGrants(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("ListGrants() error = %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("grants len = %d, want 1", len(grants))
	}

	frozen, err := store.GetReplay(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetReplay() error = %v", err)
	}
	if frozen.ResultSummary.Result != event.ResultWon {
		t.Fatalf("replay result = %s, want %s (first completion wins)", frozen.ResultSummary.Result, event.ResultWon)
	}

	events, err := store.ListEvents(ctx, "sess-1", 0, 100)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	var earnedEvents, completeEvents int
	for _, evt := range events {
		switch evt.Type {
		case event.TypeAchievementEarned:
			earnedEvents++
		case event.TypeAchievementEvaluationComplete:
			completeEvents++
		}
	}
	if earnedEvents != 1 {
		t.Fatalf("achievement_earned events = %d, want 1", earnedEvents)
	}
	if completeEvents != 1 {
		t.Fatalf("achievement_evaluation_complete events = %d, want 1", completeEvents)
	}
}

func TestExpireSession(t *testing.T) {
	h, store := newTestHub(t, nil, Options{})
	ctx := context.Background()
	createTestSession(t, h, "sess-1")

	if err := h.ExpireSession(ctx, "sess-1", "deadline passed"); err != nil {
		t.Fatalf("ExpireSession() error = %v", err)
	}
	record, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if record.Status != session.StatusExpired {
		t.Fatalf("session status = %s, want %s", record.Status, session.StatusExpired)
	}

	// Expiring twice is a no-op.
	if err := h.ExpireSession(ctx, "sess-1", "again"); err != nil {
		t.Fatalf("ExpireSession() second call error = %v", err)
	}
}

// sseFrame is one parsed frame read back from the handler.
type sseFrame struct {
	name string
	id   string
	data string
}

func readSSEFrame(t *testing.T, reader *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.name != "" || f.data != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			f.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, server *httptest.Server, sessionID, lastEventID string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	url := server.URL + "/sessions/" + sessionID + "/events"
	if lastEventID != "" {
		url += "?lastEventId=" + lastEventID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d, want 200", resp.StatusCode)
	}
	return bufio.NewReader(resp.Body)
}

func TestHandleEventsUnknownSession(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{})
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/sessions/missing/events")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleEventsConnectAndLiveDelivery(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{})
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)
	ctx := context.Background()
	createTestSession(t, h, "sess-1")

	reader := openStream(t, server, "sess-1", "")
	if f := readSSEFrame(t, reader); f.name != "connected" {
		t.Fatalf("first frame = %q, want connected", f.name)
	}

	evt, err := h.Append(ctx, "sess-1", event.TypeMoveExecuted, event.MoveExecutedPayload{
		Move: "e4", Turn: event.TurnOpponent, MoveCount: 1, StateToken: "t1",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	f := readSSEFrame(t, reader)
	if f.name != string(event.TypeMoveExecuted) {
		t.Fatalf("frame name = %q, want %s", f.name, event.TypeMoveExecuted)
	}
	if f.id != evt.ID {
		t.Fatalf("frame id = %q, want %q", f.id, evt.ID)
	}
	decoded, err := event.Decode([]byte(f.data))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Seq != evt.Seq {
		t.Fatalf("decoded seq = %d, want %d", decoded.Seq, evt.Seq)
	}
}

func TestHandleEventsResumeWithinRetention(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{})
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)
	ctx := context.Background()
	createTestSession(t, h, "sess-1")

	var events []event.Event
	for i, move := range []string{"e4", "d4", "c4"} {
		evt, err := h.Append(ctx, "sess-1", event.TypeMoveExecuted, event.MoveExecutedPayload{
			Move: move, Turn: event.TurnOpponent, MoveCount: i + 1, StateToken: "t" + move,
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		events = append(events, evt)
	}

	// Resume from the first move; the two later moves were missed.
	reader := openStream(t, server, "sess-1", events[0].ID)
	for i := 1; i < 3; i++ {
		f := readSSEFrame(t, reader)
		decoded, err := event.Decode([]byte(f.data))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if decoded.Seq != events[i].Seq {
			t.Fatalf("replayed seq = %d, want %d", decoded.Seq, events[i].Seq)
		}
	}
	f := readSSEFrame(t, reader)
	if f.name != "reconnected" {
		t.Fatalf("frame after replay = %q, want reconnected", f.name)
	}
	if f.data != `{"missedCount":2}` {
		t.Fatalf("reconnected data = %q", f.data)
	}
}

func TestHandleEventsResumePastRetention(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{Retention: 2})
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)
	ctx := context.Background()
	createTestSession(t, h, "sess-1")

	var events []event.Event
	for i, move := range []string{"e4", "d4", "c4", "b4"} {
		evt, err := h.Append(ctx, "sess-1", event.TypeMoveExecuted, event.MoveExecutedPayload{
			Move: move, Turn: event.TurnOpponent, MoveCount: i + 1, StateToken: "t" + move,
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		events = append(events, evt)
	}

	// The first move's id was evicted from the retention window, so the
	// hub must resync with a session_restored snapshot.
	reader := openStream(t, server, "sess-1", events[0].ID)
	if f := readSSEFrame(t, reader); f.name != "connected" {
		t.Fatalf("first frame = %q, want connected", f.name)
	}

	f := readSSEFrame(t, reader)
	if f.name != string(event.TypeSessionRestored) {
		t.Fatalf("frame after connected = %q, want %s", f.name, event.TypeSessionRestored)
	}
	decoded, err := event.Decode([]byte(f.data))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	payload, err := event.DecodePayload(decoded)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	snapshot, ok := payload.(*event.SessionRestoredPayload)
	if !ok {
		t.Fatalf("payload type = %T", payload)
	}
	if snapshot.MoveCount != 4 || snapshot.StateToken != "tb4" {
		t.Fatalf("snapshot = %+v", snapshot)
	}
}
