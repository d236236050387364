package loghub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSubscriber_ReplaysBacklog(t *testing.T) {
	h := New()
	h.AddLog("proj-A", "line one", LineStdout)
	h.AddLog("proj-A", "line two", LineStdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := h.AddSubscriber(ctx, "proj-A")
	defer sub.Close()

	var texts []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Messages:
			require.NotNil(t, msg.Line)
			texts = append(texts, msg.Line.Text)
		case <-time.After(time.Second):
			t.Fatal("expected backlog replay")
		}
	}

	assert.Equal(t, []string{"line one", "line two"}, texts)
}

func TestAddSubscriber_ReceivesLiveMessages(t *testing.T) {
	h := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := h.AddSubscriber(ctx, "proj-A")
	defer sub.Close()

	h.AddLog("proj-A", "live line", LineStdout)

	select {
	case msg := <-sub.Messages:
		require.NotNil(t, msg.Line)
		assert.Equal(t, "live line", msg.Line.Text)
	case <-time.After(time.Second):
		t.Fatal("expected live message")
	}
}

func TestBroadcastEvent_DeliversToSubscriber(t *testing.T) {
	h := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := h.AddSubscriber(ctx, "proj-A")
	defer sub.Close()

	h.BroadcastEvent("proj-A", "session_expired", nil)

	select {
	case msg := <-sub.Messages:
		require.NotNil(t, msg.Event)
		assert.Equal(t, "session_expired", msg.Event.Name)
	case <-time.After(time.Second):
		t.Fatal("expected event message")
	}
}

func TestRing_CapsAtCapacity(t *testing.T) {
	h := New()
	for i := 0; i < ringCapacity+50; i++ {
		h.AddLog("proj-A", "line", LineStdout)
	}

	r := h.ringFor("proj-A")
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.LessOrEqual(t, len(r.buf), ringCapacity)
}

func TestStripAgentPrefix(t *testing.T) {
	assert.Equal(t, "hello world", stripAgentPrefix("[12:00:01] [stdout] hello world"))
	assert.Equal(t, "no prefix here", stripAgentPrefix("no prefix here"))
}
