package piper_arm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SafePiperController serializes command access to a shared controller.
// The arm and gripper components on one CAN port share a single
// connection; only one command stream may own the bus at a time.
type SafePiperController struct {
	*PiperController
	mu sync.Mutex
}

func (s *SafePiperController) CommandJointPositions(ctx context.Context, positions [6]float64, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PiperController.CommandJointPositions(ctx, positions, duration)
}

func (s *SafePiperController) CommandJointPositionsBurst(ctx context.Context, positions [6]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PiperController.CommandJointPositionsBurst(ctx, positions)
}

func (s *SafePiperController) CommandGripper(position float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PiperController.CommandGripper(position)
}

func (s *SafePiperController) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PiperController.Enable()
}

func (s *SafePiperController) EmergencyStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PiperController.EmergencyStop()
}

func (s *SafePiperController) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PiperController.Close()
}

// State and ReadState pass through unwrapped: reads are guarded inside
// the controller, and the bus serializes concurrent receivers, so they
// must not queue behind a long-running command stream.

type controllerEntry struct {
	controller *SafePiperController
	config     *PiperConfig
	refCount   int64
	lastError  error
	mu         sync.Mutex
}

// ControllerRegistry hands out one shared controller per serial port.
// Dual-arm setups hold two independent entries, one per adapter.
type ControllerRegistry struct {
	entries map[string]*controllerEntry
	mu      sync.Mutex
}

func NewControllerRegistry() *ControllerRegistry {
	return &ControllerRegistry{
		entries: make(map[string]*controllerEntry),
	}
}

var defaultRegistry = NewControllerRegistry()

// GetController returns the shared controller for the port, creating it on
// first use. A previous creation failure for the port is cached and
// returned until the entry is fully released.
func (r *ControllerRegistry) GetController(config *PiperConfig) (*SafePiperController, error) {
	r.mu.Lock()
	entry, exists := r.entries[config.Port]
	if !exists {
		entry = &controllerEntry{config: config}
		r.entries[config.Port] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.controller != nil {
		if !configsEqual(entry.config, config) {
			return nil, fmt.Errorf("conflict: port %s already open with different config (refCount: %d)",
				config.Port, atomic.LoadInt64(&entry.refCount))
		}
		atomic.AddInt64(&entry.refCount, 1)
		return entry.controller, nil
	}

	if entry.lastError != nil {
		return nil, fmt.Errorf("cached controller creation error: %w", entry.lastError)
	}

	controller, err := NewPiperController(config)
	if err != nil {
		entry.lastError = err
		return nil, err
	}

	entry.controller = &SafePiperController{PiperController: controller}
	entry.config = config
	entry.lastError = nil
	atomic.StoreInt64(&entry.refCount, 1)
	return entry.controller, nil
}

// ReleaseController drops one reference to the port's controller, closing
// the connection when the last reference goes away.
func (r *ControllerRegistry) ReleaseController(port string) {
	r.mu.Lock()
	entry, exists := r.entries[port]
	r.mu.Unlock()
	if !exists {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if atomic.AddInt64(&entry.refCount, -1) > 0 || entry.controller == nil {
		return
	}

	if err := entry.controller.Close(); err != nil && entry.config != nil && entry.config.Logger != nil {
		entry.config.Logger.Warnf("error closing shared controller on %s: %v", port, err)
	}
	entry.controller = nil
	entry.lastError = nil
	atomic.StoreInt64(&entry.refCount, 0)

	r.mu.Lock()
	delete(r.entries, port)
	r.mu.Unlock()
}

// GetSharedController resolves a controller from the default registry.
func GetSharedController(config *PiperConfig) (*SafePiperController, error) {
	return defaultRegistry.GetController(config)
}

// ReleaseSharedController releases a controller back to the default registry.
func ReleaseSharedController(port string) {
	defaultRegistry.ReleaseController(port)
}

func configsEqual(a, b *PiperConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Port == b.Port &&
		a.Bitrate == b.Bitrate &&
		a.CommandIntervalMS == b.CommandIntervalMS
}
