package push

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notifyhub/notifyhub/pkg/notify"
)

// ProbeReply is the receiver's answer to a connectivity probe, delivered on
// a side channel rather than the push transport.
type ProbeReply struct {
	ProbeID    string    `json:"probe_id"`
	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// ProbePayload builds the non-displaying probe document for probeID.
func ProbePayload(probeID string) notify.PushPayload {
	return notify.PushPayload{
		Title: "connectivity probe",
		Body:  "",
		Data: map[string]interface{}{
			"type":      notify.ProbeType,
			"probe_id":  probeID,
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

// Prober tracks the single in-flight connectivity probe. Replies carrying an
// identifier other than the pending one are stale duplicates and ignored.
type Prober struct {
	mu      sync.Mutex
	pending string
	sentAt  time.Time
	done    chan ProbeReply
	timeout time.Duration
}

// NewProber creates a prober whose Wait is bounded by timeout; zero means
// 5 seconds.
func NewProber(timeout time.Duration) *Prober {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Prober{timeout: timeout}
}

// Begin registers a new probe and returns its identifier. Any previously
// pending probe is abandoned.
func (p *Prober) Begin() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = uuid.New().String()
	p.sentAt = time.Now()
	p.done = make(chan ProbeReply, 1)
	return p.pending
}

// Observe feeds a reply into the prober. It reports whether the reply was
// accepted; replies for anything but the pending probe are dropped.
func (p *Prober) Observe(probeID string, receivedAt time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == "" || probeID != p.pending {
		return false
	}
	reply := ProbeReply{ProbeID: probeID, SentAt: p.sentAt, ReceivedAt: receivedAt}
	p.pending = ""
	select {
	case p.done <- reply:
	default:
	}
	return true
}

// Wait blocks until the pending probe is answered, the prober's timeout
// elapses, or ctx is canceled.
func (p *Prober) Wait(ctx context.Context) (ProbeReply, error) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case reply := <-done:
		return reply, nil
	case <-timer.C:
		return ProbeReply{}, context.DeadlineExceeded
	case <-ctx.Done():
		return ProbeReply{}, ctx.Err()
	}
}
