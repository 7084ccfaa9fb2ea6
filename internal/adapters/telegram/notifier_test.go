package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (l *testLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *testLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *testLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *testLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestSend(t *testing.T) {
	var got sendMessageRequest
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n, err := New(Config{
		Token:   "token123",
		ChatID:  "42",
		APIBase: server.URL,
		Logger:  &testLogger{},
	})
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), "Trade opened"))
	assert.Equal(t, "/bottoken123/sendMessage", path)
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "Trade opened", got.Text)
	assert.Equal(t, "Markdown", got.ParseMode)
}

func TestSend_APIRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	n, err := New(Config{Token: "t", ChatID: "42", APIBase: server.URL, Logger: &testLogger{}})
	require.NoError(t, err)

	err = n.Send(context.Background(), "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSend_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	n, err := New(Config{Token: "t", ChatID: "42", APIBase: server.URL, Logger: &testLogger{}})
	require.NoError(t, err)

	err = n.Send(context.Background(), "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{Logger: &testLogger{}})
	require.Error(t, err)

	_, err = New(Config{Token: "t", ChatID: "42"})
	require.Error(t, err)
}
