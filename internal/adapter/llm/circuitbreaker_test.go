package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolbridge/internal/domain"
	"toolbridge/internal/infra/config"
	"toolbridge/internal/infra/logger"
)

type mockProvider struct {
	name       string
	streamFunc func(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error)
	calls      int
}

func (m *mockProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	m.calls++
	return m.streamFunc(ctx, req)
}

func (m *mockProvider) Name() string { return m.name }

func closedStream(deltas ...domain.StreamDelta) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "openai",
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			return closedStream(domain.StreamDelta{Content: "ok"}, domain.StreamDelta{Done: true}), nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, logger.Discard())
	assert.Equal(t, "openai", cb.Name())

	ch, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	deltas := collect(ch)
	require.Len(t, deltas, 2)
	assert.Equal(t, "ok", deltas[0].Content)
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &mockProvider{
		name: "flaky",
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			return nil, errors.New("provider error")
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
		Interval:    60 * time.Second,
	}, logger.Discard())

	for i := 0; i < 3; i++ {
		_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider error")
	}
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Equal(t, domain.CodeCircuitOpen, domain.ErrorCodeOf(err))
	assert.Equal(t, 3, inner.calls, "provider should not be called when circuit is open")
}

func TestCircuitBreakerClosesAfterTrialRequest(t *testing.T) {
	fail := true
	inner := &mockProvider{
		name: "recovering",
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			if fail {
				return nil, errors.New("down")
			}
			return closedStream(domain.StreamDelta{Done: true}), nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     50 * time.Millisecond,
	}, logger.Discard())

	_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	fail = false
	time.Sleep(80 * time.Millisecond)

	_, err = cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	inner := &mockProvider{
		name: "cancelled",
		streamFunc: func(ctx context.Context, _ domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			return nil, context.Canceled
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1}, logger.Discard())

	for i := 0; i < 3; i++ {
		_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
