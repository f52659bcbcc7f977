package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub *Subscription) string {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return ""
	}
}

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	a, err := h.Subscribe("priceUpdate", 4)
	require.NoError(t, err)
	b, err := h.Subscribe("priceUpdate", 4)
	require.NoError(t, err)
	other, err := h.Subscribe("chat", 4)
	require.NoError(t, err)

	require.NoError(t, h.Publish("priceUpdate", map[string]string{"symbol": "BTC-USD"}))

	assert.JSONEq(t, `{"symbol":"BTC-USD"}`, recv(t, a))
	assert.JSONEq(t, `{"symbol":"BTC-USD"}`, recv(t, b))
	select {
	case msg := <-other.C:
		t.Fatalf("unexpected message on other topic: %s", msg)
	default:
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	assert.NoError(t, h.Publish("nobody", 1))
}

func TestPublishEncodeError(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	assert.Error(t, h.Publish("x", make(chan int)))
}

func TestSlowSubscriberDropsMessages(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	slow, err := h.Subscribe("t", 1)
	require.NoError(t, err)
	fast, err := h.Subscribe("t", 10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Publish("t", i))
	}

	assert.Equal(t, "0", recv(t, slow))
	select {
	case msg := <-slow.C:
		t.Fatalf("expected dropped messages, got %s", msg)
	default:
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, string(rune('0'+i)), recv(t, fast))
	}
}

func TestSubscriptionClose(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	sub, err := h.Subscribe("t", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Subscribers("t"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Subscribers("t"))

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.NoError(t, h.Publish("t", "after close"))
}

func TestHubClose(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	sub, err := h.Subscribe("t", 1)
	require.NoError(t, err)

	h.Close()
	h.Close()

	_, ok := <-sub.C
	assert.False(t, ok)
	sub.Close()

	assert.ErrorIs(t, h.Publish("t", 1), ErrClosed)
	_, err = h.Subscribe("t", 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentPublishAndClose(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub, err := h.Subscribe("t", 2)
			if !assert.NoError(t, err) {
				return
			}
			sub.Close()
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Publish("t", "x"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Subscribers("t"))
}
