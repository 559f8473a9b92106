package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestWithJobID(t *testing.T) {
	ctx := context.Background()
	jobID := "01JMZX0000000000000000JOB1"

	newCtx := WithJobID(ctx, jobID)

	if ctx.Value(JobIDKey) != nil {
		t.Error("original context should not be modified")
	}
	if got := newCtx.Value(JobIDKey); got != jobID {
		t.Errorf("context value = %v, want %q", got, jobID)
	}
}

func TestGetJobID(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{"with job ID", WithJobID(context.Background(), "job-999"), "job-999"},
		{"without job ID", context.Background(), ""},
		{"empty job ID", WithJobID(context.Background(), ""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetJobID(tt.ctx); got != tt.expected {
				t.Errorf("GetJobID() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetJobID_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), JobIDKey, 12345)

	if got := GetJobID(ctx); got != "" {
		t.Errorf("GetJobID() = %q, want empty for wrong type", got)
	}
}

func TestGetOwnerID(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{"with owner ID", WithOwnerID(context.Background(), "owner_abc"), "owner_abc"},
		{"without owner ID", context.Background(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetOwnerID(tt.ctx); got != tt.expected {
				t.Errorf("GetOwnerID() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFromContext_NilContext(t *testing.T) {
	logger := slog.Default()
	if result := FromContext(nil, logger); result != logger {
		t.Error("FromContext with nil context should return original logger")
	}
}

func TestFromContext_NoIDs(t *testing.T) {
	logger := slog.Default()
	if result := FromContext(context.Background(), logger); result != logger {
		t.Error("FromContext without ids should return original logger")
	}
}

func TestFromContext_WithJobID(t *testing.T) {
	logger := slog.Default()
	ctx := WithJobID(context.Background(), "job-test-123")

	if result := FromContext(ctx, logger); result == logger {
		t.Error("FromContext with job ID should return a new logger with attributes")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" debug ", slog.LevelDebug},

		{"info", slog.LevelInfo},
		{"", slog.LevelInfo}, // default

		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},

		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},

		{"invalid", slog.LevelInfo}, // default
		{"trace", slog.LevelInfo},   // unsupported, default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCombinedContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithJobID(ctx, "job-combined")
	ctx = WithOwnerID(ctx, "owner-combined")

	if got := GetJobID(ctx); got != "job-combined" {
		t.Errorf("GetJobID() = %q, want %q", got, "job-combined")
	}
	if got := GetOwnerID(ctx); got != "owner-combined" {
		t.Errorf("GetOwnerID() = %q, want %q", got, "owner-combined")
	}
}

func TestNew(t *testing.T) {
	if logger := New(); logger == nil {
		t.Fatal("New() should return a logger")
	}
}

func TestSetDefault(t *testing.T) {
	if logger := SetDefault(); logger == nil {
		t.Fatal("SetDefault() should return a logger")
	}
	if slog.Default() == nil {
		t.Error("slog.Default() should not be nil after SetDefault()")
	}
}
