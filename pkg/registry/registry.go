package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription is one registered push endpoint together with its transport
// credentials. Endpoints are the uniqueness key; the keys blob is opaque to
// the registry.
type Subscription struct {
	ID        string            `json:"id"`
	Endpoint  string            `json:"endpoint"`
	Keys      map[string]string `json:"keys"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Active    bool              `json:"active"`
}

// Registry is the durable set of push subscriptions. Every mutation is
// persisted before it returns success, so a restart does not lose
// subscribers. Removed subscriptions are kept inactive in the file until
// Compact rewrites it.
type Registry struct {
	path string
	mu   sync.RWMutex
}

// New creates a registry persisted at path. The file is created lazily on
// the first successful mutation.
func New(path string) *Registry {
	return &Registry{path: path}
}

// load reads all subscriptions, active and inactive. A missing file is an
// empty registry; a corrupt file degrades to empty with a logged warning so
// one bad write never wedges registration.
func (r *Registry) load() ([]Subscription, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Subscription{}, nil
		}
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Printf("Warning: failed to close subscription file: %v", err)
		}
	}()

	var subscriptions []Subscription
	if err := json.NewDecoder(file).Decode(&subscriptions); err != nil {
		log.Printf("Warning: subscription file %s is corrupt, starting empty: %v", r.path, err)
		return []Subscription{}, nil
	}
	return subscriptions, nil
}

// save writes the full subscription set to a temp file and renames it into
// place, so a failed write never corrupts the previous file.
func (r *Registry) save(subscriptions []Subscription) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return err
	}

	tempFile := r.path + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Printf("Warning: failed to close subscription file: %v", err)
		}
	}()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(subscriptions); err != nil {
		_ = os.Remove(tempFile)
		return err
	}

	return os.Rename(tempFile, r.path)
}

// Register adds a subscription, keyed by endpoint. Registering an endpoint
// that is already active refreshes its keys in place and reports added=false.
func (r *Registry) Register(sub Subscription) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscriptions, err := r.load()
	if err != nil {
		return false, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	now := time.Now()
	for i, existing := range subscriptions {
		if existing.Endpoint != sub.Endpoint {
			continue
		}
		// Refresh credentials but keep identity; reactivate if removed.
		added := !existing.Active
		subscriptions[i].Keys = sub.Keys
		subscriptions[i].UpdatedAt = now
		subscriptions[i].Active = true
		if err := r.save(subscriptions); err != nil {
			return false, fmt.Errorf("failed to save subscriptions: %w", err)
		}
		return added, nil
	}

	if sub.ID == "" {
		sub.ID = fmt.Sprintf("sub_%s", uuid.New().String())
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	sub.Active = true

	subscriptions = append(subscriptions, sub)
	if err := r.save(subscriptions); err != nil {
		return false, fmt.Errorf("failed to save subscriptions: %w", err)
	}
	return true, nil
}

// Remove marks the subscription for endpoint inactive. It reports whether an
// active subscription was actually removed.
func (r *Registry) Remove(endpoint string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscriptions, err := r.load()
	if err != nil {
		return false, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	found := false
	for i, sub := range subscriptions {
		if sub.Endpoint == endpoint && sub.Active {
			subscriptions[i].Active = false
			subscriptions[i].UpdatedAt = time.Now()
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	if err := r.save(subscriptions); err != nil {
		return false, fmt.Errorf("failed to save subscriptions: %w", err)
	}
	return true, nil
}

// List returns a point-in-time snapshot of the active subscriptions,
// deduplicated by endpoint. Callers may iterate it freely while the registry
// mutates.
func (r *Registry) List() ([]Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscriptions, err := r.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	var active []Subscription
	seen := make(map[string]bool)
	for _, sub := range subscriptions {
		if sub.Active && !seen[sub.Endpoint] {
			active = append(active, sub)
			seen[sub.Endpoint] = true
		}
	}
	return active, nil
}

// Compact rewrites the file keeping only active subscriptions. Run
// periodically; the inactive rows only exist to make Remove cheap.
func (r *Registry) Compact() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscriptions, err := r.load()
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	active := subscriptions[:0]
	for _, sub := range subscriptions {
		if sub.Active {
			active = append(active, sub)
		}
	}
	if len(active) == len(subscriptions) {
		return nil
	}
	return r.save(active)
}
