package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsIgnoreCase(t *testing.T) {
	tests := []struct {
		s        string
		substr   string
		expected bool
	}{
		{"Hello World", "hello", true},
		{"Hello World", "WORLD", true},
		{"Hello World", "xyz", false},
		{"", "", true},
		{"abc", "", true},
		{"", "abc", false},
		{"connection refused", "Connection Refused", true},
		{"WRONGPASS invalid username-password pair", "wrongpass", true},
	}

	for _, tt := range tests {
		t.Run(tt.s+"_"+tt.substr, func(t *testing.T) {
			assert.Equal(t, tt.expected, containsIgnoreCase(tt.s, tt.substr))
		})
	}
}

func TestClassifyConnectionError(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "nil error returns empty string",
			err:      nil,
			contains: "",
		},
		{
			name:     "timeout",
			err:      fmt.Errorf("ping: %w", context.DeadlineExceeded),
			contains: "timed out",
		},
		{
			name:     "connection refused",
			err:      refused,
			contains: "Connection refused by Redis",
		},
		{
			name:     "unknown host",
			err:      errors.New("dial tcp: lookup redis.invalid: no such host"),
			contains: "Cannot resolve hostname",
		},
		{
			name:     "bad password",
			err:      errors.New("WRONGPASS invalid username-password pair"),
			contains: "Authentication failed",
		},
		{
			name:     "other",
			err:      errors.New("boom"),
			contains: "Failed to connect to Redis at localhost:6379: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyConnectionError(tt.err, "Redis", "localhost:6379")
			if tt.contains == "" {
				assert.Empty(t, result)
				return
			}
			assert.Contains(t, result, tt.contains)
		})
	}
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "localhost 6379", hostPort("localhost:6379"))
	assert.Equal(t, "redis", hostPort("redis"))
}
