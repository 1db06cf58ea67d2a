package push

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/notifyhub/pkg/notify"
	"github.com/notifyhub/notifyhub/pkg/registry"
)

// fakeSender returns canned results per endpoint and records every attempt.
type fakeSender struct {
	mu      sync.Mutex
	results map[string]SendResult
	sent    []string
}

func (f *fakeSender) Send(_ context.Context, sub registry.Subscription, _ []byte) SendResult {
	f.mu.Lock()
	f.sent = append(f.sent, sub.Endpoint)
	f.mu.Unlock()

	if result, ok := f.results[sub.Endpoint]; ok {
		return result
	}
	return SendResult{Status: StatusSent, Code: http.StatusCreated}
}

func (f *fakeSender) attempted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestRegistry(t *testing.T, endpoints ...string) *registry.Registry {
	t.Helper()
	reg := registry.New(filepath.Join(t.TempDir(), "subscriptions.json"))
	for _, endpoint := range endpoints {
		_, err := reg.Register(registry.Subscription{
			Endpoint: endpoint,
			Keys:     map[string]string{"p256dh": "k", "auth": "a"},
		})
		require.NoError(t, err)
	}
	return reg
}

func TestDispatchToSingleEndpoint(t *testing.T) {
	reg := newTestRegistry(t, "e1")
	sender := &fakeSender{}
	d := NewDispatcher(reg, sender, time.Second)

	result := d.Dispatch(context.Background(), notify.NotificationRecord{ID: "n1", Title: "t", Body: "b"})

	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 0, result.Failed)

	// The endpoint stays registered after a successful send.
	subs, err := reg.List()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "e1", subs[0].Endpoint)
}

func TestDispatchEmptyRegistry(t *testing.T) {
	reg := newTestRegistry(t)
	d := NewDispatcher(reg, &fakeSender{}, time.Second)

	result := d.Dispatch(context.Background(), notify.NotificationRecord{ID: "n1", Title: "t", Body: "b"})
	assert.Equal(t, DispatchResult{}, result)
}

func TestGoneEndpointIsReclaimedWithoutBlockingOthers(t *testing.T) {
	reg := newTestRegistry(t, "e1", "e2", "e3")
	sender := &fakeSender{results: map[string]SendResult{
		"e2": {Status: StatusGone, Code: http.StatusGone},
	}}
	d := NewDispatcher(reg, sender, time.Second)

	result := d.Dispatch(context.Background(), notify.NotificationRecord{ID: "n1", Title: "t", Body: "b"})

	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, sender.attempted(), 3)

	subs, err := reg.List()
	require.NoError(t, err)
	require.Len(t, subs, 2)
	for _, sub := range subs {
		assert.NotEqual(t, "e2", sub.Endpoint)
	}
}

func TestTransientFailureKeepsEndpoint(t *testing.T) {
	reg := newTestRegistry(t, "e1")
	sender := &fakeSender{results: map[string]SendResult{
		"e1": {Status: StatusTransient, Code: http.StatusServiceUnavailable},
	}}
	d := NewDispatcher(reg, sender, time.Second)

	result := d.Dispatch(context.Background(), notify.NotificationRecord{ID: "n1", Title: "t", Body: "b"})

	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Failed)

	subs, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestDispatchProbeReachesEveryEndpoint(t *testing.T) {
	reg := newTestRegistry(t, "e1", "e2")
	sender := &fakeSender{}
	d := NewDispatcher(reg, sender, time.Second)

	result := d.DispatchProbe(context.Background(), "p1")
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 0, result.Failed)
}
