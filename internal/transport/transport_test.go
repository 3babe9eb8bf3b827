package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/swkit/internal/core"
)

func TestChannel_QueuesUntilStarted(t *testing.T) {
	host, worker := NewChannel()
	ctx := context.Background()

	require.NoError(t, host.PostMessage(ctx, core.Message{Type: core.MessageSkipWaiting}))
	require.NoError(t, host.PostMessage(ctx, core.Message{Type: core.MessageSetOfflineFallbackPath, Path: "/down"}))

	var got []core.Message
	worker.Start(func(m core.Message) { got = append(got, m) })

	require.Len(t, got, 2)
	assert.Equal(t, core.MessageSkipWaiting, got[0].Type)
	assert.Equal(t, "/down", got[1].Path)
}

func TestChannel_ClonesPolicies(t *testing.T) {
	host, worker := NewChannel()
	var got core.Message
	worker.Start(func(m core.Message) { got = m })

	policies := core.PolicyMap{{Pattern: ".css", Strategy: "CacheFirst"}}
	require.NoError(t, host.PostMessage(context.Background(), core.Message{Type: core.MessageSetCachePolicies, Policies: policies}))
	policies[0].Strategy = "CacheOnly"

	require.Len(t, got.Policies, 1)
	assert.Equal(t, "CacheFirst", got.Policies[0].Strategy)
}

func TestChannel_PostAfterClose(t *testing.T) {
	host, worker := NewChannel()
	host.Close()
	assert.ErrorIs(t, host.PostMessage(context.Background(), core.Message{}), core.ErrClosed)

	// The remote end still points at host but host drops deliveries.
	assert.NoError(t, worker.PostMessage(context.Background(), core.Message{Type: "x"}))
}

func TestWSPort_RoundTrip(t *testing.T) {
	var mu sync.Mutex
	var received []core.Message
	gotOne := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		port, err := Accept(w, r, nil)
		if err != nil {
			return
		}
		defer port.Close()
		_ = port.Listen(r.Context(), func(m core.Message) {
			mu.Lock()
			received = append(received, m)
			mu.Unlock()
			_ = port.PostMessage(r.Context(), core.Message{Type: core.MessageUpdateAvailable})
			gotOne <- struct{}{}
		})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	port, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer port.Close()

	replies := make(chan core.Message, 1)
	go func() { _ = port.Listen(ctx, func(m core.Message) { replies <- m }) }()

	policies := core.PolicyMap{{Pattern: "api/", Strategy: "NetworkFirst"}, {Pattern: ".css", Strategy: "CacheFirst"}}
	require.NoError(t, port.PostMessage(ctx, core.Message{Type: core.MessageSetCachePolicies, Policies: policies}))

	select {
	case <-gotOne:
	case <-ctx.Done():
		t.Fatal("server never received the message")
	}
	select {
	case m := <-replies:
		assert.Equal(t, core.MessageUpdateAvailable, m.Type)
	case <-ctx.Done():
		t.Fatal("no reply from server")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	data, _ := json.Marshal(received[0].Policies)
	assert.Equal(t, `{"api/":"NetworkFirst",".css":"CacheFirst"}`, string(data))
}
