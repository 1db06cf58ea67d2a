package push

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/notifyhub/notifyhub/pkg/notify"
	"github.com/notifyhub/notifyhub/pkg/registry"
)

// DispatchResult summarizes one fan-out: how many endpoints were attempted
// and how many of those attempts did not end in an accepted send. Failed
// includes endpoints reclaimed as permanently gone, not just transient
// failures.
type DispatchResult struct {
	Attempted int `json:"attempted"`
	Failed    int `json:"failed"`
}

// Dispatcher fans a notification out to every registered endpoint. Sends are
// independent: they run in parallel, each bounded by its own timeout, and one
// endpoint's failure never blocks delivery to the others. Endpoints reported
// permanently gone are removed from the registry.
type Dispatcher struct {
	registry *registry.Registry
	sender   Sender
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. timeout bounds each individual send;
// zero means 10 seconds.
func NewDispatcher(reg *registry.Registry, sender Sender, timeout time.Duration) *Dispatcher {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{registry: reg, sender: sender, timeout: timeout}
}

// Dispatch sends rec to every subscription in the current registry snapshot.
func (d *Dispatcher) Dispatch(ctx context.Context, rec notify.NotificationRecord) DispatchResult {
	payload, err := json.Marshal(notify.NewPushPayload(rec))
	if err != nil {
		log.Printf("Failed to marshal push payload for %s: %v", rec.ID, err)
		return DispatchResult{}
	}
	return d.send(ctx, payload)
}

// DispatchProbe sends a connectivity probe payload to every subscription.
// Probes are non-displaying; receivers answer on a side channel.
func (d *Dispatcher) DispatchProbe(ctx context.Context, probeID string) DispatchResult {
	payload, err := json.Marshal(ProbePayload(probeID))
	if err != nil {
		log.Printf("Failed to marshal probe payload %s: %v", probeID, err)
		return DispatchResult{}
	}
	return d.send(ctx, payload)
}

func (d *Dispatcher) send(ctx context.Context, payload []byte) DispatchResult {
	subscriptions, err := d.registry.List()
	if err != nil {
		log.Printf("Failed to list subscriptions for dispatch: %v", err)
		return DispatchResult{}
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)

	for _, sub := range subscriptions {
		wg.Add(1)
		go func(sub registry.Subscription) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			result := d.sender.Send(sendCtx, sub, payload)
			switch result.Status {
			case StatusSent:
				return
			case StatusGone:
				log.Printf("Endpoint %s is gone (status %d), removing subscription", sub.Endpoint, result.Code)
				if _, err := d.registry.Remove(sub.Endpoint); err != nil {
					log.Printf("Failed to remove gone endpoint %s: %v", sub.Endpoint, err)
				}
			case StatusTransient:
				log.Printf("Transient push failure for %s (status %d): %v", sub.Endpoint, result.Code, result.Err)
			}

			mu.Lock()
			failed++
			mu.Unlock()
		}(sub)
	}
	wg.Wait()

	return DispatchResult{Attempted: len(subscriptions), Failed: failed}
}
