package ipc

import (
	"sync"
	"time"

	"github.com/notifyhub/notifyhub/pkg/notify"
)

// Kind tags the message variants exchanged between the background receiver
// and open sessions on the same device.
type Kind string

const (
	// KindStored announces that a notification was written to the store.
	KindStored Kind = "notification_stored"
	// KindClicked announces that a displayed notification was clicked.
	KindClicked Kind = "notification_clicked"
	// KindProbeReply carries a connectivity probe response.
	KindProbeReply Kind = "probe_reply"
)

// Message is the typed envelope. Exactly one of the kind-specific fields is
// set, matching Kind. Messages are hints to re-sync against the store, not a
// transactional event log: there is no ordering guarantee across kinds and
// no delivery at all to a context that is not currently attached.
type Message struct {
	Kind Kind `json:"kind"`

	// KindStored
	Record *notify.NotificationRecord `json:"record,omitempty"`

	// KindClicked
	NotificationID string `json:"notification_id,omitempty"`

	// KindProbeReply
	ProbeID    string    `json:"probe_id,omitempty"`
	SentAt     time.Time `json:"sent_at,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Stored builds a store-changed message.
func Stored(rec notify.NotificationRecord) Message {
	return Message{Kind: KindStored, Record: &rec}
}

// Clicked builds a click message carrying the notification's identity.
func Clicked(id string) Message {
	return Message{Kind: KindClicked, NotificationID: id}
}

// ProbeReply builds a probe response message.
func ProbeReply(probeID string, sentAt, receivedAt time.Time) Message {
	return Message{Kind: KindProbeReply, ProbeID: probeID, SentAt: sentAt, ReceivedAt: receivedAt}
}

// mailboxBuffer bounds how far a context may fall behind before messages to
// it are dropped. Dropped messages are fine: contexts reconcile by re-reading
// the store on next activation.
const mailboxBuffer = 16

// Mailbox is one attached context's inbox.
type Mailbox struct {
	ch  chan Message
	hub *Hub
}

// Messages returns the receive channel for this context.
func (m *Mailbox) Messages() <-chan Message {
	return m.ch
}

// Close detaches the mailbox from the hub.
func (m *Mailbox) Close() {
	m.hub.detach(m)
}

// Hub broadcasts messages to every attached context. Execution contexts on a
// device share no memory; the hub is their only channel besides the store
// itself.
type Hub struct {
	mu        sync.Mutex
	mailboxes map[*Mailbox]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{mailboxes: make(map[*Mailbox]struct{})}
}

// Attach registers a new context and returns its mailbox.
func (h *Hub) Attach() *Mailbox {
	m := &Mailbox{ch: make(chan Message, mailboxBuffer), hub: h}
	h.mu.Lock()
	h.mailboxes[m] = struct{}{}
	h.mu.Unlock()
	return m
}

func (h *Hub) detach(m *Mailbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.mailboxes[m]; !ok {
		return
	}
	delete(h.mailboxes, m)
	close(m.ch)
}

// Broadcast delivers msg to every attached mailbox without blocking. A
// mailbox whose buffer is full misses the message.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for m := range h.mailboxes {
		select {
		case m.ch <- msg:
		default:
		}
	}
}
