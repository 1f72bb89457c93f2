// Package network carries matchmaker datagrams: the UDP transport, the
// packet router that classifies and dispatches them, and the store
// interface handlers consult.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/metrics"
	"github.com/energizer-project/matchmaker/internal/netaddr"
	"github.com/energizer-project/matchmaker/internal/protocol"
	"github.com/energizer-project/matchmaker/internal/util"
)

// State is the router's transport binding lifecycle.
type State int

const (
	StateReady State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

var stateNames = map[State]string{
	StateReady:    "ready",
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateStopped:  "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErrRouterStopped is returned by Start on a router that was already stopped.
var ErrRouterStopped = errors.New("router stopped")

// Packet is the read-only view of one inbound datagram given to handlers.
type Packet struct {
	Type     protocol.PacketType
	Sender   netaddr.Address
	Buffer   []byte
	NumBytes int
}

// Data returns the used part of the buffer.
func (p *Packet) Data() []byte {
	return p.Buffer[:p.NumBytes]
}

// Handler processes one packet type. Errors are logged and counted by the
// router; nothing is sent back to the peer.
type Handler interface {
	HandlePacket(ctx context.Context, pkt *Packet, store AddressStore) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, pkt *Packet, store AddressStore) error

func (f HandlerFunc) HandlePacket(ctx context.Context, pkt *Packet, store AddressStore) error {
	return f(ctx, pkt, store)
}

type handlerEntry struct {
	name    string
	handler Handler
}

// RouterConfig wires a Router to its collaborators.
type RouterConfig struct {
	Host      string
	Port      int
	Transport Transport
	Store     AddressStore
	Metrics   *metrics.Collector
	Bus       *events.EventBus
}

// Router owns the transport binding, receives datagrams one at a time and
// runs every handler registered for the datagram's type, in registration
// order, before receiving the next.
type Router struct {
	mu       sync.RWMutex
	state    State
	handlers map[protocol.PacketType][]handlerEntry

	cfg    RouterConfig
	buf    []byte
	logger zerolog.Logger
}

// NewRouter creates a router in the Ready state.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		handlers: make(map[protocol.PacketType][]handlerEntry),
		cfg:      cfg,
		buf:      make([]byte, protocol.MaxPacketDataSize),
		logger:   util.ComponentLogger("router"),
	}
}

// State returns the current lifecycle state.
func (r *Router) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// IsRunning reports whether the transport is bound.
func (r *Router) IsRunning() bool {
	return r.State() == StateRunning
}

// Addr returns the configured bind host and port.
func (r *Router) Addr() (string, int) {
	return r.cfg.Host, r.cfg.Port
}

// transition moves from one of the allowed states to the target state and
// reports the previous state. It fails if the current state is not allowed.
func (r *Router) transition(to State, allowed ...State) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.state
	for _, a := range allowed {
		if from == a {
			r.state = to
			return from, true
		}
	}
	return from, false
}

func (r *Router) emitState(ctx context.Context, from, to State) {
	r.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("router state changed")
	r.cfg.Bus.Emit(ctx, events.New(events.EventRouterState, "router",
		events.RouterStatePayload{From: from.String(), To: to.String()}))
}

// Start binds the transport. A failed bind leaves the router Stopped.
// Starting a router that is already starting or running is a no-op.
func (r *Router) Start(ctx context.Context) error {
	from, ok := r.transition(StateStarting, StateReady)
	if !ok {
		if from == StateStarting || from == StateRunning {
			return nil
		}
		return ErrRouterStopped
	}
	r.emitState(ctx, from, StateStarting)

	if err := r.cfg.Transport.Start(ctx, r.cfg.Host, r.cfg.Port); err != nil {
		r.Stop()
		return fmt.Errorf("failed to start router: %w", err)
	}

	if _, ok := r.transition(StateRunning, StateStarting); !ok {
		// Stopped while binding.
		return ErrRouterStopped
	}
	r.emitState(ctx, StateStarting, StateRunning)
	r.logger.Info().Str("host", r.cfg.Host).Int("port", r.cfg.Port).Msg("packet router running")
	return nil
}

// Stop releases the transport. It is safe to call in any state and more
// than once.
func (r *Router) Stop() error {
	from, ok := r.transition(StateStopping, StateReady, StateStarting, StateRunning)
	if !ok {
		return nil
	}

	ctx := context.Background()
	r.emitState(ctx, from, StateStopping)
	err := r.cfg.Transport.Stop()
	r.transition(StateStopped, StateStopping)
	r.emitState(ctx, StateStopping, StateStopped)

	if err != nil {
		r.logger.Warn().Err(err).Msg("transport stop failed")
		return fmt.Errorf("failed to stop transport: %w", err)
	}
	r.logger.Info().Msg("packet router stopped")
	return nil
}

// Close forces Stop.
func (r *Router) Close() error {
	return r.Stop()
}

// Receive blocks for one datagram and dispatches it. A transport error
// stops the router and is returned; the caller treats it as fatal.
func (r *Router) Receive(ctx context.Context) error {
	n, sender, err := r.cfg.Transport.Receive(r.buf)
	if err != nil {
		stopping := r.State() != StateRunning
		r.Stop()
		if stopping || ctx.Err() != nil {
			return ErrTransportClosed
		}
		r.logger.Error().Err(err).Msg("receive failed")
		return fmt.Errorf("receive failed: %w", err)
	}

	r.Dispatch(ctx, sender, r.buf, n)
	return nil
}

// Run receives until the context is cancelled or the transport fails. The
// router must have been started. A cancelled context returns nil.
func (r *Router) Run(ctx context.Context) error {
	if !r.IsRunning() {
		return fmt.Errorf("router not running (state %s)", r.State())
	}

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	for r.IsRunning() {
		if err := r.Receive(ctx); err != nil {
			if errors.Is(err, ErrTransportClosed) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Dispatch classifies one datagram and runs its handlers. It returns how
// many handlers ran. Datagrams of one byte or less, unknown types and types
// without handlers are dropped.
func (r *Router) Dispatch(ctx context.Context, sender netaddr.Address, buf []byte, numBytes int) int {
	if numBytes <= 1 || len(buf) < numBytes {
		r.cfg.Metrics.PacketDropped("short")
		return 0
	}

	t := protocol.PacketType(buf[0])
	if !t.IsValid() {
		r.cfg.Metrics.PacketDropped("unknown_type")
		r.logger.Trace().Uint8("type", buf[0]).Str("sender", sender.String()).Msg("ignoring unknown packet type")
		return 0
	}

	r.mu.RLock()
	entries := append([]handlerEntry(nil), r.handlers[t]...)
	r.mu.RUnlock()

	if len(entries) == 0 {
		r.cfg.Metrics.PacketDropped("no_handler")
		return 0
	}

	r.cfg.Metrics.PacketReceived(t.String())
	pkt := &Packet{Type: t, Sender: sender, Buffer: buf, NumBytes: numBytes}

	for _, e := range entries {
		if err := e.handler.HandlePacket(ctx, pkt, r.cfg.Store); err != nil {
			r.cfg.Metrics.HandlerError(t.String())
			r.logger.Debug().
				Err(err).
				Str("type", t.String()).
				Str("handler", e.name).
				Str("sender", sender.String()).
				Msg("handler failed")
		}
	}
	return len(entries)
}

// AddHandler registers h under name for packet type t. Unknown types are
// refused. Registering a name already present for t is a no-op.
func (r *Router) AddHandler(t protocol.PacketType, name string, h Handler) bool {
	if !t.IsValid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.handlers[t] {
		if e.name == name {
			return true
		}
	}
	r.handlers[t] = append(r.handlers[t], handlerEntry{name: name, handler: h})
	return true
}

// RemoveHandler removes the first registration of name for t.
func (r *Router) RemoveHandler(t protocol.PacketType, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.handlers[t]
	for i, e := range entries {
		if e.name == name {
			r.handlers[t] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// HasHandler reports whether name is registered for t.
func (r *Router) HasHandler(t protocol.PacketType, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.handlers[t] {
		if e.name == name {
			return true
		}
	}
	return false
}

// ClearHandlers removes every handler for t.
func (r *Router) ClearHandlers(t protocol.PacketType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, t)
}

// ClearAllHandlers empties the registry.
func (r *Router) ClearAllHandlers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[protocol.PacketType][]handlerEntry)
}

// HandlerNames lists registered handler names per type, in dispatch order.
func (r *Router) HandlerNames() map[protocol.PacketType][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[protocol.PacketType][]string, len(r.handlers))
	for t, entries := range r.handlers {
		for _, e := range entries {
			out[t] = append(out[t], e.name)
		}
	}
	return out
}
