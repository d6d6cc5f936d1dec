package bridge

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/infrastructure/monitoring"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// Per-type lifetime caps for chatty inbound channels, separate from the
// session-level telemetry cap. Once hit, the rest of that channel is
// dropped for the session's lifetime.
const (
	LogCap   = 120
	StatsCap = 200
)

// Transport posts a message toward the isolated context at an explicit
// target origin. Implementations must refuse origins that do not match
// their connected peer.
type Transport interface {
	Post(msg Message, origin string) error
}

// Handler receives verified inbound traffic. The runtime session
// implements this.
type Handler interface {
	OnReady(bootTimeMs *float64)
	OnHeartbeat()
	OnLog(entry types.LogEntry)
	OnStats(payload map[string]any)
	OnError(message, code string)
	OnViolation(v types.Violation)
	OnChannelCapped(msgType string)
}

// Bridge is the two-way message channel between host and sandboxed
// content. Outbound commands go only to the origin allowlist; inbound
// messages are accepted only from the attached transport at an allowed
// origin. The bridge never posts to a wildcard origin.
type Bridge struct {
	mu          sync.Mutex
	allowed     map[string]struct{}
	transport   Transport
	peerOrigin  string
	handler     Handler
	logger      *logging.Logger
	metrics     *monitoring.Metrics
	warnedEmpty bool // empty-allowlist no-op is logged once, not per send
	counts      map[string]int
	capped      map[string]bool
}

// New creates a bridge with the given origin allowlist. The allowlist is
// re-derived via SetAllowedOrigins whenever the bundle's asset origin
// changes.
func New(handler Handler, allowlist []string, logger *logging.Logger, metrics *monitoring.Metrics) *Bridge {
	b := &Bridge{
		handler: handler,
		logger:  logger.Named("bridge"),
		metrics: metrics,
		counts:  make(map[string]int),
		capped:  make(map[string]bool),
	}
	b.SetAllowedOrigins(allowlist)
	return b
}

// SetAllowedOrigins replaces the allowlist. Wildcards are rejected here
// so no caller can reintroduce them.
func (b *Bridge) SetAllowedOrigins(origins []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allowed = make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "" || o == "*" {
			continue
		}
		b.allowed[o] = struct{}{}
	}
	b.warnedEmpty = false
}

// AllowedOrigins returns a copy of the current allowlist.
func (b *Bridge) AllowedOrigins() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.allowed))
	for o := range b.allowed {
		out = append(out, o)
	}
	return out
}

// OriginAllowed reports whether an origin is in the allowlist. An empty
// origin maps to the sandbox placeholder.
func (b *Bridge) OriginAllowed(origin string) bool {
	if origin == "" {
		origin = SandboxOrigin
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.allowed[origin]
	return ok
}

// Attach binds the sandbox-side transport. Only one transport may be
// attached; a second attach replaces the first (sandbox reload).
func (b *Bridge) Attach(t Transport, origin string) bool {
	if origin == "" {
		origin = SandboxOrigin
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.allowed[origin]; !ok {
		b.logger.Warn("Rejected sandbox attach from disallowed origin",
			zap.String("origin", origin))
		return false
	}
	b.transport = t
	b.peerOrigin = origin
	return true
}

// Detach unbinds the transport if it is still the attached one.
func (b *Bridge) Detach(t Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transport == t {
		b.transport = nil
		b.peerOrigin = ""
	}
}

// Send posts a control command toward the sandbox. Returns false without
// error when nothing can be sent: empty allowlist (logged once), no
// attached transport, or marshal failure.
func (b *Bridge) Send(cmd string, payload any) bool {
	msg, err := NewMessage(cmd, payload)
	if err != nil {
		b.logger.Error("Failed to encode control message", zap.String("type", cmd), zap.Error(err))
		return false
	}

	b.mu.Lock()
	if len(b.allowed) == 0 {
		if !b.warnedEmpty {
			b.warnedEmpty = true
			b.logger.Warn("Control send skipped: origin allowlist is empty")
		}
		b.mu.Unlock()
		return false
	}
	t := b.transport
	targets := make([]string, 0, len(b.allowed))
	for o := range b.allowed {
		targets = append(targets, o)
	}
	b.mu.Unlock()

	if t == nil {
		return false
	}

	for _, origin := range targets {
		if err := t.Post(msg, origin); err == nil {
			if b.metrics != nil {
				b.metrics.BridgeOutbound.WithLabelValues(cmd).Inc()
			}
			return true
		}
	}
	return false
}

// HandleInbound processes one raw message from a transport. Messages from
// an unattached source or a disallowed origin are silently dropped.
func (b *Bridge) HandleInbound(source Transport, origin string, raw []byte) {
	if origin == "" {
		origin = SandboxOrigin
	}

	b.mu.Lock()
	if b.transport == nil || source != b.transport {
		b.mu.Unlock()
		b.drop("source")
		return
	}
	if _, ok := b.allowed[origin]; !ok {
		b.mu.Unlock()
		b.drop("origin")
		return
	}
	b.mu.Unlock()

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.drop("malformed")
		return
	}

	switch msg.Type {
	case MsgReady:
		var p readyPayload
		json.Unmarshal(msg.Payload, &p)
		b.accept(msg.Type)
		b.handler.OnReady(p.BootTime)

	case MsgHeartbeat:
		b.accept(msg.Type)
		b.handler.OnHeartbeat()

	case MsgLog:
		if !b.admitChannel(MsgLog, LogCap) {
			return
		}
		b.accept(msg.Type)
		b.handler.OnLog(decodeLog(msg.Payload))

	case MsgStats:
		if !b.admitChannel(MsgStats, StatsCap) {
			return
		}
		var p map[string]any
		json.Unmarshal(msg.Payload, &p)
		b.accept(msg.Type)
		b.handler.OnStats(p)

	case MsgError:
		var p errorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Message == "" {
			p.Message = "sandbox reported an error with a malformed payload"
		}
		b.accept(msg.Type)
		b.handler.OnError(p.Message, p.Code)

	case MsgViolation:
		// Never capped, never dropped: security events must surface.
		b.accept(msg.Type)
		b.handler.OnViolation(decodeViolation(msg.Payload))

	default:
		b.drop("unknown_type")
	}
}

// admitChannel counts one message against a per-type lifetime cap.
// The first over-cap message triggers a single capped notice.
func (b *Bridge) admitChannel(msgType string, limit int) bool {
	b.mu.Lock()
	b.counts[msgType]++
	count := b.counts[msgType]
	alreadyCapped := b.capped[msgType]
	if count > limit && !alreadyCapped {
		b.capped[msgType] = true
	}
	b.mu.Unlock()

	if count <= limit {
		return true
	}
	if !alreadyCapped {
		b.logger.Warn("Inbound channel capped for session lifetime",
			zap.String("type", msgType), zap.Int("cap", limit))
		b.handler.OnChannelCapped(msgType)
	}
	b.drop("capped")
	return false
}

func (b *Bridge) accept(msgType string) {
	if b.metrics != nil {
		b.metrics.BridgeInbound.WithLabelValues(msgType).Inc()
	}
}

func (b *Bridge) drop(reason string) {
	if b.metrics != nil {
		b.metrics.BridgeDropped.WithLabelValues(reason).Inc()
	}
}
