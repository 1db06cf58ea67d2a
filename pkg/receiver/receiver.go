package receiver

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/notifyhub/notifyhub/pkg/history"
	"github.com/notifyhub/notifyhub/pkg/ipc"
	"github.com/notifyhub/notifyhub/pkg/notify"
)

// Displayer surfaces a notification to the user. On a real device this is
// the platform notification UI; in tests and the dev agent it is injected.
type Displayer interface {
	Display(rec notify.NotificationRecord) error
}

// SessionRouter navigates an open session to a URL, focusing an existing
// session for this origin when one exists and opening a new one otherwise.
type SessionRouter interface {
	Route(url string) error
}

// State is the receiver lifecycle state.
type State int

const (
	// StateInstalling is the initial state before activation.
	StateInstalling State = iota
	// StateActive means the receiver is handling pushes. Activation happens
	// once and is terminal for the process lifetime.
	StateActive
)

// Receiver is the out-of-band agent that handles pushed payloads whether or
// not any session is open. It owns the write path into the notification
// store and announces every change over the cross-context hub.
type Receiver struct {
	store   *history.Store
	hub     *ipc.Hub
	display Displayer
	router  SessionRouter

	mu    sync.Mutex
	state State
}

// New creates a receiver in the installing state.
func New(store *history.Store, hub *ipc.Hub, display Displayer, router SessionRouter) *Receiver {
	return &Receiver{
		store:   store,
		hub:     hub,
		display: display,
		router:  router,
	}
}

// Activate moves the receiver from installing to active. Calling it again is
// a no-op.
func (r *Receiver) Activate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateInstalling {
		r.state = StateActive
		log.Printf("Background receiver activated")
	}
}

// State returns the current lifecycle state.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HandlePush processes one pushed payload. Probe payloads are answered on
// the hub and leave no other trace; normal payloads are stored, displayed,
// and announced. A payload that is not parseable as the structured document
// is shown as raw text rather than dropped.
func (r *Receiver) HandlePush(ctx context.Context, raw []byte) error {
	if r.State() != StateActive {
		return fmt.Errorf("receiver not active")
	}

	payload, structured := notify.DecodePayload(raw)
	if !structured {
		log.Printf("Received malformed push payload, falling back to text display")
	}

	if payload.IsProbe() {
		r.handleProbe(payload)
		return nil
	}

	rec := payload.Record(time.Now())

	snap, err := r.store.Insert(ctx, rec)
	if err != nil {
		// Degrade: the notification is still shown, it just will not be in
		// the history.
		log.Printf("Failed to store notification %s: %v", rec.ID, err)
	} else {
		log.Printf("Stored notification %s (%d total, %d unread)", rec.ID, len(snap.Records), snap.Unread)
	}

	if err := r.display.Display(rec); err != nil {
		log.Printf("Failed to display notification %s: %v", rec.ID, err)
	}

	r.hub.Broadcast(ipc.Stored(rec))
	return nil
}

// handleProbe replies to a connectivity probe on the side channel. No store
// write, no display: to the user this is indistinguishable from no push at
// all.
func (r *Receiver) handleProbe(payload notify.PushPayload) {
	sentAt := time.Now()
	if ts, ok := payload.Data["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			sentAt = t
		}
	}
	r.hub.Broadcast(ipc.ProbeReply(payload.ProbeID(), sentAt, time.Now()))
}

// HandleClick processes a user click on a displayed notification: marks the
// record read, routes a session to the record's target URL, and announces
// the click so open sessions can update without re-querying the store.
// action selects a per-action URL when the notification carried action
// buttons; an empty action uses the record's own URL.
func (r *Receiver) HandleClick(ctx context.Context, id, action string) error {
	snap, err := r.store.MarkRead(ctx, id)
	if err != nil {
		log.Printf("Failed to mark notification %s read: %v", id, err)
		snap = r.store.List(ctx)
	}

	url := resolveURL(snap.Records, id, action)
	if err := r.router.Route(url); err != nil {
		log.Printf("Failed to route session to %s: %v", url, err)
	}

	r.hub.Broadcast(ipc.Clicked(id))
	return nil
}

// resolveURL picks the click target from the record's payload: the clicked
// action's URL if one matches, the record URL otherwise, root as the final
// default.
func resolveURL(records []notify.NotificationRecord, id, action string) string {
	url := "/"
	for _, rec := range records {
		if rec.ID != id {
			continue
		}
		if u, ok := rec.Payload["url"].(string); ok && u != "" {
			url = u
		}
		if action == "" {
			break
		}
		actions, ok := rec.Payload["actions"].([]interface{})
		if !ok {
			break
		}
		for _, a := range actions {
			entry, ok := a.(map[string]interface{})
			if !ok {
				continue
			}
			if name, _ := entry["action"].(string); name != action {
				continue
			}
			if u, ok := entry["url"].(string); ok && u != "" {
				url = u
			}
		}
		break
	}
	return url
}
