// Package health serves liveness and readiness probes backed by periodic
// dependency checks.
//
// A check flips to unhealthy only after Threshold consecutive failures and
// back to healthy on the first success, so a single slow ping does not pull
// the instance out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// Kind selects which probe a check contributes to.
type Kind uint8

const (
	Liveness Kind = iota
	Readiness
)

// CheckFunc returns nil when the checked component is usable.
type CheckFunc func(ctx context.Context) error

// Check describes one registered probe.
type Check struct {
	Name      string
	Kind      Kind
	Timeout   time.Duration
	Threshold int
	Func      CheckFunc
}

type state struct {
	Check

	unhealthy atomic.Bool
	lastErr   atomic.Pointer[string]
	fails     int // owned by the check goroutine
}

func (s *state) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	if err := s.Func(ctx); err != nil {
		msg := err.Error()
		s.lastErr.Store(&msg)
		s.fails++
		if s.fails >= s.Threshold {
			s.unhealthy.Store(true)
		}
		return
	}
	s.fails = 0
	s.lastErr.Store(nil)
	s.unhealthy.Store(false)
}

// Registry holds checks and the manual readiness gate.
type Registry struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*state
}

// New creates a Registry that reports not ready until SetReady(true).
func New() *Registry {
	return &Registry{}
}

// Add registers c. Zero Timeout and Threshold default to 5s and 3.
func (r *Registry) Add(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Threshold <= 0 {
		c.Threshold = 3
	}
	r.mu.Lock()
	r.checks = append(r.checks, &state{Check: c})
	r.mu.Unlock()
}

// SetReady opens or closes the readiness gate independently of the checks.
func (r *Registry) SetReady(ready bool) {
	r.ready.Store(ready)
}

// Run probes every check immediately and then each interval until ctx is
// done. Each check has its own goroutine.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	r.mu.RLock()
	checks := slices.Clone(r.checks)
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				s.probe(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// failures maps unhealthy check names of kind k to their last error.
func (r *Registry) failures(k Kind) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string)
	for _, s := range r.checks {
		if s.Kind != k || !s.unhealthy.Load() {
			continue
		}
		msg := "unhealthy"
		if p := s.lastErr.Load(); p != nil {
			msg = *p
		}
		out[s.Name] = msg
	}
	return out
}

// Ready reports whether the gate is open and every readiness check passes.
func (r *Registry) Ready() bool {
	return r.ready.Load() && len(r.failures(Readiness)) == 0
}

// LiveEndpoint serves /livez.
func (r *Registry) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, r.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (r *Registry) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := r.failures(Readiness)
	if !r.ready.Load() {
		failed["readiness"] = "not ready"
	}
	writeStatus(w, failed)
}

func writeStatus(w http.ResponseWriter, failed map[string]string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	status := http.StatusOK
	if len(failed) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failed[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
