package hub

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/gauntlet/internal/event"
	"github.com/louisbranch/gauntlet/internal/storage"
)

// HandleEvents serves GET /sessions/{id}/events as a server-sent event
// stream. A fresh subscriber gets a connected control message; a resume
// cursor inside retention gets the missed events followed by
// reconnected{missedCount}; a cursor past retention triggers a full
// resync via a session_restored snapshot event.
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if strings.TrimSpace(sessionID) == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}
	if _, err := h.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "load session", http.StatusInternalServerError)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID := r.URL.Query().Get("lastEventId")
	if lastID == "" {
		lastID = r.Header.Get("Last-Event-ID")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub, snapshot, unsubscribe := h.channel(sessionID).subscribe()
	defer unsubscribe()

	var lastSent uint64
	if lastID == "" {
		writeControl(w, controlConnected, "{}")
		flusher.Flush()
	} else if idx, found := indexOfEventID(snapshot, lastID); found {
		missed := snapshot[idx+1:]
		for _, evt := range missed {
			if err := writeEvent(w, evt); err != nil {
				return
			}
			lastSent = evt.Seq
		}
		writeControl(w, controlReconnected, fmt.Sprintf(`{"missedCount":%d}`, len(missed)))
		flusher.Flush()
	} else {
		// The cursor fell out of retention; a silent resume could hide a
		// gap, so force a full resync instead.
		writeControl(w, controlConnected, "{}")
		flusher.Flush()
		if _, err := h.Restore(r.Context(), sessionID); err != nil {
			log.Printf("hub: restore session %s: %v", sessionID, err)
		}
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sub:
			if evt.Seq <= lastSent {
				continue
			}
			if err := writeEvent(w, evt); err != nil {
				return
			}
			lastSent = evt.Seq
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// Routes returns the hub's HTTP surface.
func (h *Hub) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{id}/events", h.HandleEvents)
	return mux
}

// SSE control messages carry a name but no envelope.
const (
	controlConnected   = "connected"
	controlReconnected = "reconnected"
)

func writeControl(w http.ResponseWriter, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func writeEvent(w http.ResponseWriter, evt event.Event) error {
	data, err := event.Encode(evt)
	if err != nil {
		log.Printf("hub: encode event seq=%d: %v", evt.Seq, err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", evt.Type, evt.ID, data)
	return err
}

func indexOfEventID(events []event.Event, id string) (int, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].ID == id {
			return i, true
		}
	}
	return 0, false
}
