package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single exchange
// flowing through the session data plane.
type LogContext struct {
	TraceID     string    // OpenTelemetry trace ID
	SpanID      string    // OpenTelemetry span ID
	SessionID   string    // Nexus/session handle (hex)
	ChannelKind string    // "fore" or "back"
	TransportID string    // transport instance id
	ExchangeID  uint64    // ExchangeID of the in-flight exchange
	CommandSN   uint32    // CommandSN, if assigned
	StartTime   time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a session.
func NewLogContext(sessionID string) *LogContext {
	return &LogContext{
		SessionID: sessionID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithChannel returns a copy with the channel kind and transport set.
func (lc *LogContext) WithChannel(kind, transportID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ChannelKind = kind
		clone.TransportID = transportID
	}
	return clone
}

// WithExchange returns a copy with exchange/commandSN identifiers set.
func (lc *LogContext) WithExchange(exchangeID uint64, commandSN uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ExchangeID = exchangeID
		clone.CommandSN = commandSN
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
