package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), "removal failed")
	require.NoError(t, err)
	assert.Equal(t, "removal failed", got["content"])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	assert.Error(t, NewDiscordNotifier("").Notify(context.Background(), "hello"))
}

type recordingNotifier struct {
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, content string) error {
	n.messages = append(n.messages, content)

	return n.err
}

type removerFunc func(ctx context.Context, infoHash string) error

func (f removerFunc) RemoveContent(ctx context.Context, infoHash string) error {
	return f(ctx, infoHash)
}

func TestAlertingRemover(t *testing.T) {
	removeErr := errors.New("client unreachable")

	t.Run("success is silent", func(t *testing.T) {
		n := &recordingNotifier{}
		r := AlertingRemover{
			Next:     removerFunc(func(context.Context, string) error { return nil }),
			Notifier: n,
		}

		require.NoError(t, r.RemoveContent(context.Background(), "abc"))
		assert.Empty(t, n.messages)
	})

	t.Run("failure notifies", func(t *testing.T) {
		n := &recordingNotifier{err: errors.New("webhook down")}
		r := AlertingRemover{
			Next:     removerFunc(func(context.Context, string) error { return removeErr }),
			Notifier: n,
		}

		err := r.RemoveContent(context.Background(), "abc")
		assert.ErrorIs(t, err, removeErr)
		require.Len(t, n.messages, 1)
		assert.True(t, strings.Contains(n.messages[0], "abc"))
	})

	t.Run("without notifier", func(t *testing.T) {
		r := AlertingRemover{Next: removerFunc(func(context.Context, string) error { return removeErr })}

		assert.ErrorIs(t, r.RemoveContent(context.Background(), "abc"), removeErr)
	})
}
