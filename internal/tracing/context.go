package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RoomKey is the context key for the room a request belongs to
	RoomKey ContextKey = "room"
	// ParticipantIDKey is the context key for the acting participant
	ParticipantIDKey ContextKey = "participant_id"
	// ClientIDKey is the context key for the gateway client
	ClientIDKey ContextKey = "client_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID       string
	Room          string
	ParticipantID string
	ClientID      string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRoom adds a room id to the context
func WithRoom(ctx context.Context, room string) context.Context {
	return context.WithValue(ctx, RoomKey, room)
}

// WithParticipantID adds a participant id to the context
func WithParticipantID(ctx context.Context, participantID string) context.Context {
	return context.WithValue(ctx, ParticipantIDKey, participantID)
}

// WithClientID adds a gateway client id to the context
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

func value(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return value(ctx, TraceIDKey)
}

// GetRoom retrieves the room id from the context
func GetRoom(ctx context.Context) string {
	return value(ctx, RoomKey)
}

// GetParticipantID retrieves the participant id from the context
func GetParticipantID(ctx context.Context) string {
	return value(ctx, ParticipantIDKey)
}

// GetClientID retrieves the gateway client id from the context
func GetClientID(ctx context.Context) string {
	return value(ctx, ClientIDKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:       GetTraceID(ctx),
		Room:          GetRoom(ctx),
		ParticipantID: GetParticipantID(ctx),
		ClientID:      GetClientID(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return WithTraceID(ctx, NewTraceID())
}

// LoggerFromContext adds the tracing fields held by ctx to baseLogger
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	logger := baseLogger

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.Room != "" {
		logger = logger.With().Str("room", tc.Room).Logger()
	}
	if tc.ParticipantID != "" {
		logger = logger.With().Str("participant_id", tc.ParticipantID).Logger()
	}
	if tc.ClientID != "" {
		logger = logger.With().Str("clientId", tc.ClientID).Logger()
	}

	return logger
}
