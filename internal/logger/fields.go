package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the session data plane.
// Use these keys consistently so log aggregation/querying stays uniform
// across the sequencer, slot table, channel, transport, and session layers.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Session / nexus identity
	KeySessionID      = "session_id"
	KeyClientTerminus = "client_terminus"
	KeyGeneration     = "generation"

	// Channel / transport
	KeyChannelKind = "channel_kind" // "fore" or "back"
	KeyTransportID = "transport_id"
	KeyXportState  = "transport_state"

	// Exchange / command
	KeyExchangeID    = "exchange_id"
	KeyFrameKind     = "frame_kind"
	KeyCommandSN     = "command_sn"
	KeyExpectedSN    = "expected_command_sn"
	KeyMaximumSN     = "maximum_command_sn"
	KeySlotID        = "slot_id"
	KeySlotSN        = "slot_sn"
	KeyCommandState  = "command_state"
	KeyOrderDistance = "order_distance"

	// Errors / status
	KeyStatus    = "status"
	KeyStatusMsg = "status_msg"
	KeyErrorCode = "error_code"

	// Generic
	KeyDurationMs = "duration_ms"
	KeyBytes      = "bytes"
	KeyAttempt    = "attempt"
)

// TraceID builds the trace_id attribute.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID builds the span_id attribute.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// SessionID builds the session_id attribute.
func SessionID(id string) slog.Attr { return slog.String(KeySessionID, id) }

// ChannelKind builds the channel_kind attribute ("fore"/"back").
func ChannelKind(kind string) slog.Attr { return slog.String(KeyChannelKind, kind) }

// TransportID builds the transport_id attribute.
func TransportID(id string) slog.Attr { return slog.String(KeyTransportID, id) }

// TransportState builds the transport_state attribute.
func TransportState(state string) slog.Attr { return slog.String(KeyXportState, state) }

// ExchangeID builds the exchange_id attribute.
func ExchangeID(id uint64) slog.Attr { return slog.Uint64(KeyExchangeID, id) }

// FrameKind builds the frame_kind attribute.
func FrameKind(kind string) slog.Attr { return slog.String(KeyFrameKind, kind) }

// CommandSN builds the command_sn attribute.
func CommandSN(sn uint32) slog.Attr { return slog.Uint64(KeyCommandSN, uint64(sn)) }

// ExpectedSN builds the expected_command_sn attribute.
func ExpectedSN(sn uint32) slog.Attr { return slog.Uint64(KeyExpectedSN, uint64(sn)) }

// MaximumSN builds the maximum_command_sn attribute.
func MaximumSN(sn uint32) slog.Attr { return slog.Uint64(KeyMaximumSN, uint64(sn)) }

// SlotID builds the slot_id attribute.
func SlotID(id uint32) slog.Attr { return slog.Uint64(KeySlotID, uint64(id)) }

// SlotSN builds the slot_sn attribute.
func SlotSN(sn uint32) slog.Attr { return slog.Uint64(KeySlotSN, uint64(sn)) }

// CommandState builds the command_state attribute.
func CommandState(state string) slog.Attr { return slog.String(KeyCommandState, state) }

// OrderDistance builds the order_distance attribute.
func OrderDistance(d uint32) slog.Attr { return slog.Uint64(KeyOrderDistance, uint64(d)) }

// Status builds the status attribute.
func Status(code int) slog.Attr { return slog.Int(KeyStatus, code) }

// StatusMsg builds the status_msg attribute.
func StatusMsg(msg string) slog.Attr { return slog.String(KeyStatusMsg, msg) }

// ErrorCode builds the error_code attribute.
func ErrorCode(code int) slog.Attr { return slog.Int(KeyErrorCode, code) }

// Err builds the standard "error" attribute from a Go error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// DurationMs builds the duration_ms attribute.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Bytes builds the bytes attribute.
func Bytes(n int) slog.Attr { return slog.Int(KeyBytes, n) }

// Attempt builds the attempt attribute.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }
