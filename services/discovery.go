package services

import (
	"call-lab/contract"
	"call-lab/domain"
	"call-lab/errors"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	discoveryAttempts  = 3
	discoveryRetryWait = 10 * time.Second
)

// DiscoveryService owns the session-scoped bridge capability state: which
// telephony protocol the bridge supports and whether virtual rooms are
// available. Discovery runs in the background, at most one run in flight,
// each run making a bounded number of strictly sequential attempts. Once a
// run succeeds the state never changes again for the session lifetime.
//
// One instance per session. Only the discovery task mutates the state;
// everything else is a reader.
type DiscoveryService struct {
	log       *slog.Logger
	directory contract.IBridgeDirectory

	attempts  int
	retryWait time.Duration

	mu           sync.RWMutex
	checked      bool
	pstnProtocol string
	virtualRooms bool
	listeners    []contract.CapabilityListener
	run          *discoveryRun
}

// discoveryRun is one background discovery task. err is written before
// done is closed and read only after it.
type discoveryRun struct {
	done chan struct{}
	err  error
}

func NewDiscoveryService(log *slog.Logger, directory contract.IBridgeDirectory) *DiscoveryService {
	return &DiscoveryService{
		log:       log,
		directory: directory,
		attempts:  discoveryAttempts,
		retryWait: discoveryRetryWait,
	}
}

// CheckProtocols triggers capability discovery, fire-and-forget. No-op once
// capabilities are known or while a run is already in flight. A failed run
// leaves the state unchecked, so a later call retries from scratch.
func (s *DiscoveryService) CheckProtocols() {
	s.mu.Lock()
	if s.checked || s.run != nil {
		s.mu.Unlock()
		return
	}
	run := &discoveryRun{done: make(chan struct{})}
	s.run = run
	s.mu.Unlock()

	// Detached on purpose: the session owns the service, not the caller.
	go s.discover(run)
}

// AwaitProtocolsChecked suspends the caller until capabilities are known,
// triggering discovery when none is in flight. Returns nil immediately once
// checked, errors.ErrDiscoveryAbandoned when the joined run exhausts its
// attempts, or the ctx error when the caller gives up waiting. The run
// itself keeps going regardless of the caller's ctx.
func (s *DiscoveryService) AwaitProtocolsChecked(ctx context.Context) error {
	if s.ProtocolsChecked() {
		return nil
	}
	s.CheckProtocols()

	s.mu.RLock()
	run := s.run
	s.mu.RUnlock()
	if run == nil {
		// The run finished between the trigger and the read.
		if s.ProtocolsChecked() {
			return nil
		}
		return errors.ErrDiscoveryAbandoned
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-run.done:
		return run.err
	}
}

// AddListener registers a capability listener. Idempotent. Insertion order
// is the notification order; a listener added after discovery completed
// simply misses past notifications.
func (s *DiscoveryService) AddListener(l contract.CapabilityListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lo.Contains(s.listeners, l) {
		return
	}
	s.listeners = append(s.listeners, l)
}

// RemoveListener unregisters a listener. Idempotent.
func (s *DiscoveryService) RemoveListener(l contract.CapabilityListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = lo.Without(s.listeners, l)
}

// ProtocolsChecked reports whether a discovery run has succeeded.
func (s *DiscoveryService) ProtocolsChecked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checked
}

// SupportedPSTNProtocol returns the discovered telephony protocol id, or ""
// while unchecked or when the bridge supports none.
func (s *DiscoveryService) SupportedPSTNProtocol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pstnProtocol
}

// SupportsVirtualRooms reports virtual-room support. False while unchecked.
func (s *DiscoveryService) SupportsVirtualRooms() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.virtualRooms
}

// discover is the discovery task: bounded sequential attempts with a fixed
// wait between them. Exhausting the attempts is log-only; awaiters of this
// run are released with an error and a later trigger starts over.
func (s *DiscoveryService) discover(run *discoveryRun) {
	ctx := context.Background()

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		protocols, err := s.directory.ListProtocols(ctx)
		if err == nil {
			s.applyProtocols(protocols)
			s.finish(run, nil)
			return
		}
		lastErr = err
		s.log.Warn("Listing bridge protocols failed", "attempt", attempt, "error", err)
		if attempt < s.attempts {
			time.Sleep(s.retryWait)
		}
	}

	s.log.Warn("Protocol discovery abandoned", "attempts", s.attempts, "error", lastErr)
	s.finish(run, errors.ErrDiscoveryAbandoned)
}

// applyProtocols derives the capability flags from a successful directory
// answer, then notifies listeners of each capability that became available.
// The preferred telephony id wins over the legacy one; virtual rooms need
// both SIP identifiers to be present at once.
func (s *DiscoveryService) applyProtocols(protocols map[string]domain.ProtocolInfo) {
	pstn := ""
	if _, ok := protocols[domain.ProtocolPSTN]; ok {
		pstn = domain.ProtocolPSTN
	} else if _, ok := protocols[domain.ProtocolPSTNLegacy]; ok {
		pstn = domain.ProtocolPSTNLegacy
	}
	_, hasVirtual := protocols[domain.ProtocolSIPVirtual]
	_, hasNative := protocols[domain.ProtocolSIPNative]
	virtualRooms := hasVirtual && hasNative

	s.mu.Lock()
	s.checked = true
	s.pstnProtocol = pstn
	s.virtualRooms = virtualRooms
	listeners := make([]contract.CapabilityListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.log.Info("Bridge protocols discovered", "pstn", pstn, "virtual_rooms", virtualRooms)

	if pstn != "" {
		for _, l := range listeners {
			s.notify("pstn", l.OnPSTNSupportUpdated)
		}
	}
	if virtualRooms {
		for _, l := range listeners {
			s.notify("virtual_rooms", l.OnVirtualRoomSupportUpdated)
		}
	}
}

// notify fires one listener callback. A panicking listener is contained so
// it cannot block the remaining listeners or abort the notification pass.
func (s *DiscoveryService) notify(capability string, fire func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("Capability listener panicked", "capability", capability, "panic", r)
		}
	}()
	fire()
}

func (s *DiscoveryService) finish(run *discoveryRun, err error) {
	run.err = err
	s.mu.Lock()
	if s.run == run {
		s.run = nil
	}
	s.mu.Unlock()
	close(run.done)
}
