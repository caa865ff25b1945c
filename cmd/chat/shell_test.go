package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChatGPT-CN/chat-ai/internal/chatstate"
	"github.com/ChatGPT-CN/chat-ai/internal/client"
	"github.com/ChatGPT-CN/chat-ai/internal/storage"
	"github.com/ChatGPT-CN/chat-ai/internal/wire"
)

type fakeClient struct {
	calls []wire.ChatRequest
	reply string
	err   error
}

func (f *fakeClient) Chat(_ context.Context, req wire.ChatRequest) (wire.ChatResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return wire.ChatResponse{}, f.err
	}
	return wire.ChatResponse{AIResponse: f.reply}, nil
}

func newTestShell(t *testing.T, fc *fakeClient) (*shell, *chatstate.Store, *bytes.Buffer) {
	t.Helper()
	kv, err := storage.OpenSQL(context.Background(), "sqlite", "file:"+filepath.Join(t.TempDir(), "chat.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	n := 0
	store := chatstate.New(chatstate.Config{
		KV:     kv,
		Logger: zerolog.Nop(),
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	out := &bytes.Buffer{}
	return newShell(store, fc, out, zerolog.Nop()), store, out
}

func TestTurnCreatesSessionAndSendsHistory(t *testing.T) {
	fc := &fakeClient{reply: "hi there"}
	sh, store, out := newTestShell(t, fc)
	ctx := context.Background()

	sh.handle(ctx, "/key deepseek sk-1")
	sh.handle(ctx, "hello")
	sh.handle(ctx, "again")

	sess, ok := store.CurrentSession()
	require.True(t, ok)
	require.Len(t, sess.Messages, 4)
	assert.Equal(t, wire.SenderUser, sess.Messages[0].Sender)
	assert.Equal(t, "hi there", sess.Messages[1].Text)

	require.Len(t, fc.calls, 2)
	last := fc.calls[1]
	assert.Equal(t, "deepseek", last.Provider)
	assert.Equal(t, "sk-1", last.APIKey)
	assert.Equal(t, []wire.Message{
		{Sender: "user", Text: "hello"},
		{Sender: "ai", Text: "hi there"},
		{Sender: "user", Text: "again"},
	}, last.Messages)
	assert.Contains(t, out.String(), "hi there")
}

func TestTurnWithoutCredentialRecordsError(t *testing.T) {
	fc := &fakeClient{reply: "unused"}
	sh, store, _ := newTestShell(t, fc)

	sh.handle(context.Background(), "hello")

	assert.Empty(t, fc.calls)
	sess, _ := store.CurrentSession()
	require.Len(t, sess.Messages, 2)
	assert.True(t, strings.HasPrefix(sess.Messages[1].Text, "Error: "), sess.Messages[1].Text)
	assert.Equal(t, wire.SenderAI, sess.Messages[1].Sender)
}

func TestTurnRelayErrorBecomesMessage(t *testing.T) {
	fc := &fakeClient{err: &client.RelayError{Status: 500, Message: "OpenAI API error (401): bad key"}}
	sh, store, _ := newTestShell(t, fc)
	ctx := context.Background()

	sh.handle(ctx, "/provider openai")
	sh.handle(ctx, "/key openai sk-x")
	sh.handle(ctx, "hello")

	sess, _ := store.CurrentSession()
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "Error: OpenAI API error (401): bad key", sess.Messages[1].Text)
}

func TestCustomCommands(t *testing.T) {
	fc := &fakeClient{reply: "ok"}
	sh, store, out := newTestShell(t, fc)
	ctx := context.Background()

	sh.handle(ctx, "/custom add local http://127.0.0.1:5000/generate")
	sh.handle(ctx, "/custom path local result.text")
	sh.handle(ctx, "/provider local")

	cfg, ok := store.CustomAPI("local")
	require.True(t, ok)
	require.NotNil(t, cfg.ResponsePath)
	assert.Equal(t, "result.text", *cfg.ResponsePath)
	assert.Equal(t, cfg.ID, store.Provider())

	sh.handle(ctx, "/custom list")
	assert.Contains(t, out.String(), "path: result.text")

	sh.handle(ctx, "hi")
	require.Len(t, fc.calls, 1)
	require.NotNil(t, fc.calls[0].CustomAPIConfig)
	assert.Equal(t, "http://127.0.0.1:5000/generate", fc.calls[0].CustomAPIConfig.Endpoint)
	assert.Empty(t, fc.calls[0].APIKey)

	sh.handle(ctx, "/custom remove local")
	assert.Equal(t, "deepseek", store.Provider())
}

func TestUnknownInputs(t *testing.T) {
	sh, store, out := newTestShell(t, &fakeClient{})
	ctx := context.Background()

	sh.handle(ctx, "/provider nope")
	sh.handle(ctx, "/key nope k")
	sh.handle(ctx, "/switch missing")
	sh.handle(ctx, "/bogus")

	assert.Equal(t, "deepseek", store.Provider())
	assert.Equal(t, 4, strings.Count(out.String(), "Error: "))
}

func TestSessionCommands(t *testing.T) {
	sh, store, out := newTestShell(t, &fakeClient{})
	ctx := context.Background()

	sh.handle(ctx, "/new first")
	sh.handle(ctx, "/new second")
	sh.handle(ctx, "/switch id-1")

	sess, ok := store.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, "first", sess.Name)

	out.Reset()
	sh.handle(ctx, "/sessions")
	assert.Contains(t, out.String(), "* id-1")
	assert.Contains(t, out.String(), "second")
}

func TestRunStopsOnQuit(t *testing.T) {
	fc := &fakeClient{}
	sh, _, _ := newTestShell(t, fc)

	err := sh.run(context.Background(), strings.NewReader("/help\n\n/quit\nnever sent\n"))
	require.NoError(t, err)
	assert.Empty(t, fc.calls)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel(""))
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("info"))
}
