package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampMessageTrimsAndTruncates(t *testing.T) {
	assert.Equal(t, "hello", ClampMessage("  hello  "))

	long := strings.Repeat("a", maxMessageRunes+50)
	clamped := ClampMessage(long)
	assert.Len(t, []rune(clamped), maxMessageRunes)
}

func TestClampMessageUnderLimit(t *testing.T) {
	short := "short message"
	assert.Equal(t, short, ClampMessage(short))
}

func newTestClient(endpoint string) *PushoverClient {
	return NewPushoverClient().WithEndpoint(endpoint)
}

func TestSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "u", r.FormValue("user"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Send(context.Background(), "u", "t", "title", "message")
	require.NoError(t, err)
}

func TestSendFailureOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Send(context.Background(), "u", "t", "title", "message")
	require.Error(t, err)
}

func TestSendTransportFailureOnUnreachableHost(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0")
	err := c.Send(context.Background(), "user", "token", "title", "message")
	require.Error(t, err)
}
