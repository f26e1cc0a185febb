// Package connectivity watches whether the backend can be reached and tells
// subscribers when that changes.
package connectivity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/logging"
)

const (
	DefaultInterval     = 3 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// Status is the outcome of one probe.
type Status struct {
	// Connected is false when the network path to the backend is down.
	Connected bool
	// Type names the probe transport, e.g. "grpc" or "sql".
	Type string
	// Reachable is true when the backend answered and is serving.
	Reachable bool
}

func (s Status) Online() bool {
	return s.Connected && s.Reachable
}

type Prober interface {
	Probe(ctx context.Context) Status
}

type Listener func(Status)

type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	log      logging.Logger

	mu      sync.Mutex
	status  Status
	known   bool
	subs    map[int]Listener
	nextSub int

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewMonitor(prober Prober, interval time.Duration, log logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		timeout:  DefaultProbeTimeout,
		log:      logging.OrNop(log).With("module", "connectivity"),
		subs:     make(map[int]Listener),
	}
}

// Check probes once and publishes the result if it differs from the last one.
// The first check always publishes.
func (m *Monitor) Check(ctx context.Context) Status {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	st := m.prober.Probe(pctx)
	cancel()

	m.mu.Lock()
	changed := !m.known || st != m.status
	prev := m.status
	m.status = st
	m.known = true
	var fns []Listener
	if changed {
		ids := make([]int, 0, len(m.subs))
		for id := range m.subs {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			fns = append(fns, m.subs[id])
		}
	}
	m.mu.Unlock()

	if changed {
		if prev.Online() != st.Online() {
			m.log.Info(ctx, "connectivity changed", "online", st.Online(), "type", st.Type)
		}
		for _, fn := range fns {
			fn(st)
		}
	}
	return st
}

// Status returns the last probed status. Before the first probe everything
// is reported as down.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) Online() bool {
	return m.Status().Online()
}

// Subscribe registers fn for status changes.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Start probes immediately and then on every interval tick until Stop or
// ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stop := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.Check(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Check(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}
