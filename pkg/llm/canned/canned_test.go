package canned

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shopline/pkg/llm"
)

func TestCannedRunCompletesImmediately(t *testing.T) {
	e := New()
	ctx := context.Background()

	thread, err := e.CreateThread(ctx)
	require.NoError(t, err)
	require.NoError(t, e.AddMessage(ctx, thread, "Do you have green tea?"))
	run, err := e.CreateRun(ctx, thread, llm.RunOptions{Metadata: map[string]string{"language": "es"}})
	require.NoError(t, err)
	assert.Equal(t, llm.RunStatusCompleted, run.Status)

	reply, err := e.LatestReply(ctx, thread)
	require.NoError(t, err)
	assert.Equal(t, Replies["es"], reply)
}

func TestCannedUnknownLanguageFallsBack(t *testing.T) {
	e := New()
	ctx := context.Background()

	thread, _ := e.CreateThread(ctx)
	_, err := e.CreateRun(ctx, thread, llm.RunOptions{Metadata: map[string]string{"language": "xx"}})
	require.NoError(t, err)
	reply, err := e.LatestReply(ctx, thread)
	require.NoError(t, err)
	assert.Equal(t, Replies["en"], reply)
}

func TestCannedForgetsThreadsOnceReplied(t *testing.T) {
	e := New()
	ctx := context.Background()

	for i := range 100 {
		thread, err := e.CreateThread(ctx)
		require.NoError(t, err)
		require.NoError(t, e.AddMessage(ctx, thread, fmt.Sprintf("message %d", i)))
		_, err = e.CreateRun(ctx, thread, llm.RunOptions{Metadata: map[string]string{"language": "es"}})
		require.NoError(t, err)
		_, err = e.LatestReply(ctx, thread)
		require.NoError(t, err)
	}
	assert.Empty(t, e.pending)

	require.NoError(t, e.AddMessage(ctx, "thread_from_last_process", "hola"))
	assert.Empty(t, e.pending)
}

func TestCannedUnreadRepliesAreCapped(t *testing.T) {
	e := New()
	ctx := context.Background()

	for i := range maxPending + 10 {
		_, err := e.CreateRun(ctx, fmt.Sprintf("thread_%d", i), llm.RunOptions{})
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(e.pending), maxPending)
}
