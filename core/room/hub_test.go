package room

import (
	"context"
	"strconv"
	"testing"
	"time"

	"cotowatch/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, broker Broker) *Hub {
	t.Helper()
	h := NewHub(broker)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case p, ok := <-c.Outbound():
		require.True(t, ok, "client queue closed")
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func TestHubDeliversInPublishOrder(t *testing.T) {
	h := startHub(t, nil)
	ctx := context.Background()
	a := NewClient(nil, 1, alice)
	b := NewClient(nil, 1, guest)
	other := NewClient(nil, 2, bob)
	require.NoError(t, h.Subscribe(ctx, a))
	require.NoError(t, h.Subscribe(ctx, b))
	require.NoError(t, h.Subscribe(ctx, other))

	for i := 0; i < 50; i++ {
		require.NoError(t, h.Publish(ctx, Topic(1), []byte(strconv.Itoa(i))))
	}
	for _, c := range []*Client{a, b} {
		for i := 0; i < 50; i++ {
			assert.Equal(t, strconv.Itoa(i), string(recv(t, c)))
		}
	}
	assert.Empty(t, other.Outbound(), "other rooms see nothing")
}

func TestHubReplacesDuplicateConnection(t *testing.T) {
	h := startHub(t, nil)
	ctx := context.Background()
	first := NewClient(nil, 1, alice)
	second := NewClient(nil, 1, alice)
	require.NoError(t, h.Subscribe(ctx, first))
	require.NoError(t, h.Subscribe(ctx, second))

	assert.Eventually(t, first.Replaced, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.SubscriberCount(Topic(1)) == 1 }, time.Second, 5*time.Millisecond)
	_, ok := <-first.Outbound()
	assert.False(t, ok)

	// the replaced session leaving must not remove the new one
	h.Unsubscribe(first)
	require.NoError(t, h.Publish(ctx, Topic(1), []byte("still here")))
	assert.Equal(t, "still here", string(recv(t, second)))
	assert.False(t, second.Replaced())
}

func TestHubGuestsNeverReplaceEachOther(t *testing.T) {
	h := startHub(t, nil)
	ctx := context.Background()
	require.NoError(t, h.Subscribe(ctx, NewClient(nil, 1, &model.User{})))
	require.NoError(t, h.Subscribe(ctx, NewClient(nil, 1, &model.User{})))
	assert.Eventually(t, func() bool { return h.SubscriberCount(Topic(1)) == 2 }, time.Second, 5*time.Millisecond)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := startHub(t, nil)
	ctx := context.Background()
	slow := NewClient(nil, 1, alice)
	fast := NewClient(nil, 1, bob)
	require.NoError(t, h.Subscribe(ctx, slow))
	require.NoError(t, h.Subscribe(ctx, fast))

	received := make(chan int, 1)
	go func() {
		n := 0
		for range fast.Outbound() {
			n++
			if n == sendBuffer+1 {
				received <- n
				return
			}
		}
	}()

	for i := 0; i <= sendBuffer; i++ {
		require.NoError(t, h.Publish(ctx, Topic(1), []byte("x")))
	}
	select {
	case n := <-received:
		assert.Equal(t, sendBuffer+1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("fast client starved")
	}
	assert.Eventually(t, func() bool { return h.SubscriberCount(Topic(1)) == 1 }, time.Second, 5*time.Millisecond)

	drained := 0
	for range slow.Outbound() {
		drained++
	}
	assert.Equal(t, sendBuffer, drained)
}

func TestHubCloseTopic(t *testing.T) {
	h := startHub(t, nil)
	ctx := context.Background()
	c := NewClient(nil, 3, alice)
	require.NoError(t, h.Subscribe(ctx, c))
	require.Eventually(t, func() bool { return h.SubscriberCount(Topic(3)) == 1 }, time.Second, 5*time.Millisecond)

	h.CloseTopic(Topic(3))
	_, ok := <-c.Outbound()
	assert.False(t, ok)
	assert.Zero(t, h.SubscriberCount(Topic(3)))
}

func TestHubStopRejectsSubscribers(t *testing.T) {
	h := NewHub(nil)
	h.Stop()
	assert.ErrorIs(t, h.Subscribe(context.Background(), NewClient(nil, 1, alice)), ErrHubStopped)
	assert.ErrorIs(t, h.Publish(context.Background(), Topic(1), []byte("x")), ErrHubStopped)
}
