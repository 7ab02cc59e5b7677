package syncbox

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Monitor exposes current connectivity and a change-notification stream.
// The engine only consumes this interface; how reachability is determined is
// the application's concern.
type Monitor interface {
	// Online returns current connectivity.
	Online() bool

	// Subscribe registers a listener invoked on every connectivity change.
	// The returned function unsubscribes the listener.
	Subscribe(listener func(online bool)) (unsubscribe func())
}

// ManualMonitor is a Monitor whose state is flipped by the application,
// typically fed from a platform reachability API. It is also the monitor of
// choice in tests.
type ManualMonitor struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]func(bool)
	nextID    int
}

// NewManualMonitor creates a monitor with the given initial state.
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{online: online, listeners: make(map[int]func(bool))}
}

// Online returns current connectivity.
func (m *ManualMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates connectivity and notifies listeners on a change.
func (m *ManualMonitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(online)
	}
}

// Subscribe registers a connectivity listener.
func (m *ManualMonitor) Subscribe(listener func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = listener

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// ProbeMonitor determines connectivity by polling an HTTP endpoint. Intended
// for daemon deployments without a platform reachability API.
type ProbeMonitor struct {
	*ManualMonitor

	url      string
	interval time.Duration
	client   *http.Client

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProbeMonitor creates a monitor that polls url every interval. The
// monitor starts offline until the first successful probe.
func NewProbeMonitor(url string, interval time.Duration) *ProbeMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ProbeMonitor{
		ManualMonitor: NewManualMonitor(false),
		url:           url,
		interval:      interval,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// Start begins probing in the background.
func (p *ProbeMonitor) Start() {
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		p.Set(p.probe(ctx))

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Set(p.probe(ctx))
			}
		}
	}()
}

// Stop halts probing. The last observed state is retained.
func (p *ProbeMonitor) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
}

func (p *ProbeMonitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
