package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rubiojr/poiview/pkg/logger"
)

// NetworkManager connectivity tracking over the system bus.
//
// The monitor reads the initial NetworkManager State property, then
// listens for StateChanged signals and reports online/offline transitions
// to its callback. If NetworkManager is unavailable (no system bus, no NM
// service) we log and keep reporting online: the request paths fail on
// their own and the view error state covers it.

const (
	nmService = "org.freedesktop.NetworkManager"
	nmPath    = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface   = "org.freedesktop.NetworkManager"
	dbusProps = "org.freedesktop.DBus.Properties"

	// NM_STATE_CONNECTED_GLOBAL; anything below means no usable uplink.
	nmStateConnectedGlobal = uint32(70)
)

// ConnectivityMonitor exposes the current offline flag and pushes
// transitions to a callback.
type ConnectivityMonitor struct {
	onChange func(offline bool)

	mu      sync.Mutex
	offline bool
	started bool
	cancel  context.CancelFunc
}

func NewConnectivityMonitor(onChange func(offline bool)) *ConnectivityMonitor {
	return &ConnectivityMonitor{onChange: onChange}
}

// Offline returns the last observed state.
func (m *ConnectivityMonitor) Offline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offline
}

// Start launches the background bus loop. Safe to call once.
func (m *ConnectivityMonitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()
	go m.run(ctx)
}

// Stop ends the background loop.
func (m *ConnectivityMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run keeps a signal subscription alive until ctx is cancelled, retrying
// with growing delay when the bus or NetworkManager goes away.
func (m *ConnectivityMonitor) run(ctx context.Context) {
	const (
		maxInitialRetries = 5
		retryBaseDelay    = 2 * time.Second
	)

	var attempt int
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := m.watch(ctx)
		if err == nil {
			return
		}
		attempt++
		delay := 30 * time.Second
		if attempt <= maxInitialRetries {
			delay = retryBaseDelay * time.Duration(attempt)
		}
		logger.Error("connectivity: retrying after error (%v), attempt=%d delay=%s", err, attempt, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (m *ConnectivityMonitor) watch(ctx context.Context) error {
	bus, err := dbus.SystemBus()
	if err != nil {
		return err
	}

	// Initial state before subscribing, so a quiet network still yields a
	// correct flag.
	var variant dbus.Variant
	call := bus.Object(nmService, nmPath).Call(dbusProps+".Get", 0, nmIface, "State")
	if call.Err != nil {
		return fmt.Errorf("read NetworkManager state: %w", call.Err)
	}
	if err := call.Store(&variant); err != nil {
		return err
	}
	if state, ok := variant.Value().(uint32); ok {
		m.applyState(state)
	}

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='StateChanged',path='%s'", nmIface, nmPath)
	if call := bus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule); call.Err != nil {
		return call.Err
	}
	sigCh := make(chan *dbus.Signal, 10)
	bus.Signal(sigCh)

	for {
		select {
		case <-ctx.Done():
			bus.RemoveSignal(sigCh)
			return nil
		case sig := <-sigCh:
			if sig == nil {
				return errors.New("dbus signal channel closed")
			}
			if sig.Name != nmIface+".StateChanged" || len(sig.Body) < 1 {
				continue
			}
			if state, ok := sig.Body[0].(uint32); ok {
				m.applyState(state)
			}
		}
	}
}

func (m *ConnectivityMonitor) applyState(state uint32) {
	offline := state < nmStateConnectedGlobal
	m.mu.Lock()
	changed := offline != m.offline
	m.offline = offline
	m.mu.Unlock()
	if !changed {
		return
	}
	logger.Debug("connectivity: state=%d offline=%v", state, offline)
	if m.onChange != nil {
		m.onChange(offline)
	}
}
