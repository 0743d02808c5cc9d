package reqlib

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpeedLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"100", 100, false},
		{"100B", 100, false},
		{"512KB", 512_000, false},
		{"1MiB", 1 << 20, false},
		{" 2kib ", 2048, false},
		{"", 0, true},
		{"-5MB", 0, true},
		{"fast", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSpeedLimit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRateLimitedReader_Unlimited(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 64*1024)
	r := NewRateLimitedReader(context.Background(), bytes.NewReader(data), 0)

	start := time.Now()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int64(0), r.Limit())
}

func TestRateLimitedReader_Throttles(t *testing.T) {
	const limit = 4096
	data := bytes.Repeat([]byte("y"), limit+limit/2)
	r := NewRateLimitedReadCloser(context.Background(), io.NopCloser(bytes.NewReader(data)), limit)
	defer r.Close()

	start := time.Now()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, int64(limit), r.Limit())
}

func TestRateLimitedReader_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRateLimitedReader(ctx, bytes.NewReader(make([]byte, 100)), 10)

	_, err := io.ReadAll(r)
	assert.Error(t, err)
}
