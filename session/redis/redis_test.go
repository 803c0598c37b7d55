package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/xagent/core"
)

func newTestStore(t *testing.T, optFns ...func(o *Options)) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, optFns...), mr
}

func TestStore_Key(t *testing.T) {
	s, _ := newTestStore(t)

	assert.Equal(t, "chat:u1", s.Key("u1", ""))
	assert.Equal(t, "chat:u1:s1", s.Key("u1", "s1"))
}

func TestStore_AddAndGet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	call, result := core.NewToolCallPair("c1", "add", `{"a":1}`, "2")
	require.NoError(t, s.AddMessages(ctx, "u", "s",
		core.NewUserMessage("hi", "https://example.com/cat.png"),
		call, result,
		core.NewAssistantMessage("done"),
	))

	msgs, err := s.GetMessages(ctx, "u", "s", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "c1", msgs[0].ToolCall.CallID)
	assert.Equal(t, "c1", msgs[1].ToolCall.CallID)
	assert.Equal(t, "done", msgs[2].Content)

	all, err := s.GetMessages(ctx, "u", "s", 10)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cat.png", all[0].ImageSource)

	assert.Equal(t, DefaultTTL, mr.TTL("chat:u:s"))
}

func TestStore_TrimOnAppend(t *testing.T) {
	s, _ := newTestStore(t, func(o *Options) { o.MaxMessages = 2 })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.AddMessages(ctx, "u", "", core.NewUserMessage(fmt.Sprintf("m%d", i), "")))
	}

	msgs, err := s.GetMessages(ctx, "u", "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].Content)
}

func TestStore_TrimKeepsToolPairsWhole(t *testing.T) {
	s, _ := newTestStore(t, func(o *Options) { o.MaxMessages = 2 })
	ctx := context.Background()

	call, result := core.NewToolCallPair("c1", "add", "{}", "2")
	require.NoError(t, s.AddMessages(ctx, "u", "s", core.NewUserMessage("q", ""), call, result))
	require.NoError(t, s.AddMessages(ctx, "u", "s", core.NewAssistantMessage("2")))

	msgs, err := s.GetMessages(ctx, "u", "s", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, core.RoleAssistant, msgs[0].Role)
}

func TestStore_SkipsMalformedRecords(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := mr.Push("chat:u:s", "{not json", `{"role":"tool","content":"no call"}`)
	require.NoError(t, err)
	require.NoError(t, s.AddMessages(ctx, "u", "s", core.NewUserMessage("ok", "")))

	msgs, err := s.GetMessages(ctx, "u", "s", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok", msgs[0].Content)
}

func TestStore_PopSkipsTrailingToolMessages(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	call, result := core.NewToolCallPair("c1", "add", "{}", "2")
	require.NoError(t, s.AddMessages(ctx, "u", "s", core.NewUserMessage("q", ""), core.NewAssistantMessage("a"), call, result))

	popped, err := s.PopMessage(ctx, "u", "s")
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, "a", popped.Content)

	remaining, err := mr.List("chat:u:s")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	popped, err = s.PopMessage(ctx, "u", "s")
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, "q", popped.Content)

	popped, err = s.PopMessage(ctx, "u", "s")
	require.NoError(t, err)
	assert.Nil(t, popped)
}

func TestStore_ClearTrimAndExpire(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddMessages(ctx, "u", "s", core.NewAssistantMessage(fmt.Sprintf("m%d", i))))
	}

	require.NoError(t, s.TrimHistory(ctx, "u", "s", 2))
	msgs, err := s.GetMessages(ctx, "u", "s", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	require.NoError(t, s.SetExpire(ctx, "u", "s", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("chat:u:s"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("chat:u:s"))

	require.NoError(t, s.AddMessages(ctx, "u", "s", core.NewAssistantMessage("x")))
	require.NoError(t, s.ClearHistory(ctx, "u", "s"))
	assert.False(t, mr.Exists("chat:u:s"))
	require.NoError(t, s.Ping(ctx))
}
