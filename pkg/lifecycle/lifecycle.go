// Package lifecycle implements the service-lifecycle framework shared by
// all four sibling services (spec.md §4.1): a
// Created -> Starting -> Looping -> Stopping -> Stopped state machine with
// a cooperative stop, a working-state lockfile, a periodic loop and a
// fixed-interval heartbeat.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// State is one of the five lifecycle states a Service passes through.
type State int

const (
	Created State = iota
	Starting
	Looping
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Looping:
		return "looping"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// HeartbeatInterval is the fixed interval at which a registered service
// pings the backend (spec.md §4.1).
const HeartbeatInterval = 60 * time.Second

// stopPollInterval is how often stop() checks whether a busy service has
// gone idle before proceeding with teardown (spec.md §4.1).
const stopPollInterval = 5 * time.Second

// Backend is the subset of the backend HTTP client the lifecycle
// framework needs for the registration protocol (spec.md §4.1). Satisfied
// by pkg/backend.Client.
type Backend interface {
	RegisterHost(ctx context.Context, host, ip, os string) error
	RegisterService(ctx context.Context, ip, serviceID string) error
	Heartbeat(ctx context.Context, ip, serviceID string) error
	Deregister(ctx context.Context, ip, serviceID string) error
}

// Service wraps one of the four long-lived daemons with the shared
// lifecycle contract. Callers provide ID, Env, Paths, a LoopInterval, an
// optional Backend (nil in one-shot mode), and the per-iteration work via
// Iterate.
type Service struct {
	Log           *log.Logger
	ID            types.ServiceID
	Env           types.Environment
	Paths         types.Paths
	LoopInterval  time.Duration
	Backend       Backend // nil skips registration, matching DEVELOP / one-shot mode
	Daemon        bool

	// Iterate runs one loop iteration. A returned error is logged at
	// FATAL and swallowed: the loop keeps running (spec.md §4.1
	// "Failure semantics").
	Iterate func(ctx context.Context) error

	// Teardown runs once during stop(), after the service has gone
	// idle and before deregistration.
	Teardown func(ctx context.Context) error

	mu      sync.Mutex
	state   State
	working bool
	ip      string

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Working reports whether the service is currently inside a job
// iteration. It reads the in-memory flag that setWorking updates together
// with the working lockfile the Admin API inspects (spec.md §3, §4.6).
func (s *Service) Working() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working
}

// setWorking flips the working state and atomically creates/removes the
// lockfile observable by the Admin API (spec.md §4.1).
func (s *Service) setWorking(v bool) error {
	s.mu.Lock()
	s.working = v
	s.mu.Unlock()

	lock := s.Paths.WorkingLock(s.ID)
	if v {
		f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			if os.IsExist(err) {
				return nil
			}
			return err
		}
		return f.Close()
	}

	err := os.Remove(lock)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Start performs service-specific initialization, acquires a network
// identity, registers with the backend in daemon mode (skipped in
// DEVELOP), begins the periodic loop and the heartbeat, and blocks until
// Stop is called (spec.md §4.1).
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.state = Starting
	s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	ip, err := utils.ExternalIP()
	if err != nil {
		return fmt.Errorf("lifecycle: acquire network identity: %w", err)
	}
	s.ip = ip

	if s.Daemon && s.Backend != nil && !s.Env.SkipRegistration() {
		hostname, _ := os.Hostname()
		if err := s.Backend.RegisterHost(ctx, hostname, s.ip, runtime.GOOS); err != nil {
			s.Log.Printf("registration failed (continuing): %s", err)
		} else if err := s.Backend.RegisterService(ctx, s.ip, string(s.ID)); err != nil {
			s.Log.Printf("registration failed (continuing): %s", err)
		}
	}

	s.mu.Lock()
	s.state = Looping
	s.mu.Unlock()

	go s.heartbeatLoop(ctx)
	s.runLoop(ctx)

	close(s.doneCh)
	return nil
}

func (s *Service) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runIteration(ctx)
		}
	}
}

func (s *Service) runIteration(ctx context.Context) {
	if err := s.setWorking(true); err != nil {
		s.Log.Printf("FATAL: could not set working lock: %s", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.Log.Printf("FATAL: iteration panicked: %v", r)
		}
		if err := s.setWorking(false); err != nil {
			s.Log.Printf("FATAL: could not clear working lock: %s", err)
		}
	}()

	if err := s.Iterate(ctx); err != nil {
		// An error from a single iteration must not crash the
		// service: the external supervisor would restart it and
		// lose the in-flight workspace-cleanup guarantee.
		s.Log.Printf("FATAL: %s", err)
	}
}

func (s *Service) heartbeatLoop(ctx context.Context) {
	if s.Backend == nil || !s.Daemon || s.Env.SkipRegistration() {
		return
	}

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Backend.Heartbeat(ctx, s.ip, string(s.ID)); err != nil {
				s.Log.Printf("heartbeat failed (continuing): %s", err)
			}
		}
	}
}

// Stop is the idempotent cooperative shutdown (spec.md §4.1, Open
// Question (a)): if the service is currently working, it reschedules
// itself every 5s via a single reused timer — never a fresh timer per
// tick — until idle, then cancels the periodic loop, runs teardown,
// deregisters, and transitions to Stopped.
func (s *Service) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = Stopping
		s.mu.Unlock()

		timer := time.NewTimer(0)
		defer timer.Stop()
		for s.Working() {
			<-timer.C
			timer.Reset(stopPollInterval)
		}

		close(s.stopCh)
		if s.doneCh != nil {
			<-s.doneCh
		}

		if s.Teardown != nil {
			if err := s.Teardown(ctx); err != nil {
				s.Log.Printf("teardown error: %s", err)
			}
		}

		if s.Daemon && s.Backend != nil && !s.Env.SkipRegistration() {
			if err := s.Backend.Deregister(ctx, s.ip, string(s.ID)); err != nil {
				s.Log.Printf("deregister failed: %s", err)
			}
		}

		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
	})
	return stopErr
}
