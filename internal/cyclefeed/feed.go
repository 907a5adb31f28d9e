// Package cyclefeed fans planner events out to live subscribers, such as the
// server-sent event tail on the debug mux.
package cyclefeed

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/velocity.planner/internal/planner"
)

// subscriberBuffer is the number of events a slow subscriber may lag
// behind before events are dropped for it.
const subscriberBuffer = 64

// Feed multiplexes published lines to any number of subscribers. Publishing
// never blocks: subscribers that fall behind miss events.
type Feed struct {
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	closed       bool
}

// New returns an empty Feed.
func New() *Feed {
	return &Feed{subscribers: make(map[string]chan string)}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel for receiving events. The returned ID is
// used to unsubscribe. Subscribing to a closed feed returns a closed
// channel.
func (f *Feed) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	if f.closed {
		close(ch)
		return id, ch
	}
	f.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Feed) Unsubscribe(id string) {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Publish sends line to every subscriber that has room for it.
func (f *Feed) Publish(line string) {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- line:
		default:
			// if the channel is full skip so as not to block the planner
		}
	}
}

// Close closes all subscriber channels. Later publishes are dropped.
func (f *Feed) Close() {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	f.closed = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Subscribers returns the number of live subscribers.
func (f *Feed) Subscribers() int {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	return len(f.subscribers)
}

// event is the JSON envelope of a published line.
type event struct {
	Type    string               `json:"type"`
	Session *planner.Session     `json:"session,omitempty"`
	Remote  string               `json:"remote,omitempty"`
	Cycle   *planner.CycleReport `json:"cycle,omitempty"`
}

// ObserveSession implements planner.Observer.
func (f *Feed) ObserveSession(s *planner.Session, remote string) {
	snapshot := *s
	f.publishEvent(event{Type: "session", Session: &snapshot, Remote: remote})
}

// ObserveCycle implements planner.Observer. Path points are left out of the
// feed.
func (f *Feed) ObserveCycle(r planner.CycleReport) {
	r.PathX, r.PathY = nil, nil
	f.publishEvent(event{Type: "cycle", Cycle: &r})
}

func (f *Feed) publishEvent(e event) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	f.Publish(string(b))
}

// AttachAdminRoutes mounts the live tail at /debug/cycles-tail.
func (f *Feed) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// API endpoint to issue Server-Side Events (SSE) for every planner event.
	debug.HandleSilentFunc("cycles-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := f.Subscribe()
		defer f.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
