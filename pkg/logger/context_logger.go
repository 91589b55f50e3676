package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	// PeerIDKey carries the acting peer's id through a request context.
	PeerIDKey contextKey = "peer_id"
	// RoomIDKey carries the room the request operates on.
	RoomIDKey contextKey = "room_id"
	// RequestTypeKey carries the signaling message type being handled.
	RequestTypeKey contextKey = "request_type"
)

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext adds context fields to logger
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if peerID, ok := ctx.Value(PeerIDKey).(string); ok && peerID != "" {
		fields = append(fields, zap.String("peer_id", peerID))
	}
	if roomID, ok := ctx.Value(RoomIDKey).(string); ok && roomID != "" {
		fields = append(fields, zap.String("room_id", roomID))
	}
	if reqType, ok := ctx.Value(RequestTypeKey).(string); ok && reqType != "" {
		fields = append(fields, zap.String("request_type", reqType))
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// WithFields adds custom fields to logger
func (cl *ContextLogger) WithFields(fields ...zapcore.Field) *zap.Logger {
	return cl.logger.With(fields...)
}

// WithError adds error to logger
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}

// WithPeer returns a context tagged with the acting peer id.
func WithPeer(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, PeerIDKey, peerID)
}

// WithRoom returns a context tagged with the room id.
func WithRoom(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

// WithRequestType returns a context tagged with the signaling message type.
func WithRequestType(ctx context.Context, reqType string) context.Context {
	return context.WithValue(ctx, RequestTypeKey, reqType)
}
