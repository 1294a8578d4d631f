package broker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-authbroker"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

// newChannelServer runs a host endpoint that answers each request through
// handle; a nil return means no response (the request is left pending).
func newChannelServer(t *testing.T, handle func(env broker.ChannelEnvelope) *broker.ChannelEnvelope) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env broker.ChannelEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			if response := handle(env); response != nil {
				payload, _ := json.Marshal(response)
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTestChannel(t *testing.T, url string, opts ...broker.WebChannelOption) *broker.WebChannel {
	t.Helper()

	c, err := broker.DialWebChannel(context.Background(), url, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestWebChannelRequestRoundTrip(t *testing.T) {
	url := newChannelServer(t, func(env broker.ChannelEnvelope) *broker.ChannelEnvelope {
		return &broker.ChannelEnvelope{
			MessageID: env.MessageID,
			Data:      map[string]any{"echo": env.Command, "channel_id": env.Data["channel_id"]},
		}
	})

	c := dialTestChannel(t, url)

	response, err := c.Request(context.Background(), broker.CommandHeartbeat, map[string]any{
		"channel_id": "3f1a8b6e90c4",
	})
	require.NoError(t, err)
	assert.Equal(t, broker.CommandHeartbeat, response["echo"])
	assert.Equal(t, "3f1a8b6e90c4", response["channel_id"])
}

func TestWebChannelCorrelatesConcurrentRequests(t *testing.T) {
	url := newChannelServer(t, func(env broker.ChannelEnvelope) *broker.ChannelEnvelope {
		return &broker.ChannelEnvelope{
			MessageID: env.MessageID,
			Data:      map[string]any{"command": env.Command},
		}
	})

	c := dialTestChannel(t, url)
	ctx := context.Background()

	type result struct {
		command string
		got     map[string]any
		err     error
	}
	results := make(chan result, 2)
	for _, command := range []string{broker.CommandHeartbeat, broker.CommandSupplicantMetadata} {
		go func(command string) {
			got, err := c.Request(ctx, command, nil)
			results <- result{command: command, got: got, err: err}
		}(command)
	}

	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, r.command, r.got["command"])
	}
}

func TestWebChannelRequestTimeout(t *testing.T) {
	url := newChannelServer(t, func(broker.ChannelEnvelope) *broker.ChannelEnvelope {
		return nil // never answer
	})

	c := dialTestChannel(t, url, broker.WithRequestTimeout(50*time.Millisecond))

	_, err := c.Request(context.Background(), broker.CommandHeartbeat, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrChannelTimeout)
}

func TestWebChannelClassifiesUnknownCommand(t *testing.T) {
	url := newChannelServer(t, func(env broker.ChannelEnvelope) *broker.ChannelEnvelope {
		return &broker.ChannelEnvelope{
			MessageID: env.MessageID,
			Data:      map[string]any{"error": "No such channel"},
		}
	})

	c := dialTestChannel(t, url)

	_, err := c.Request(context.Background(), broker.CommandStatus, nil)
	require.Error(t, err)
	assert.True(t, broker.IsInvalidWebChannelError(err))
	assert.Empty(t, broker.ErrInvalidWebChannel.Metadata)
}

func TestWebChannelGenericErrorIsNotInvalidChannel(t *testing.T) {
	url := newChannelServer(t, func(env broker.ChannelEnvelope) *broker.ChannelEnvelope {
		return &broker.ChannelEnvelope{
			MessageID: env.MessageID,
			Data:      map[string]any{"error": "storage exploded"},
		}
	})

	c := dialTestChannel(t, url)

	_, err := c.Request(context.Background(), broker.CommandStatus, nil)
	require.Error(t, err)
	assert.False(t, broker.IsInvalidWebChannelError(err))
}

func TestWebChannelSendIsOneWay(t *testing.T) {
	var sends int32
	url := newChannelServer(t, func(env broker.ChannelEnvelope) *broker.ChannelEnvelope {
		if env.Command == broker.CommandDecline {
			atomic.AddInt32(&sends, 1)
		}
		return nil
	})

	c := dialTestChannel(t, url)

	require.NoError(t, c.Send(context.Background(), broker.CommandDecline, map[string]any{
		"channel_id": "3f1a8b6e90c4",
	}))

	waitFor(t, 2*time.Second, func() bool {
		return atomic.LoadInt32(&sends) == 1
	})
}

func TestWebChannelDuplicateResponseDoesNotStallReads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env broker.ChannelEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			payload, _ := json.Marshal(broker.ChannelEnvelope{
				MessageID: env.MessageID,
				Data:      map[string]any{"echo": env.Command},
			})
			// replay every response; the client must drop the duplicate
			for i := 0; i < 2; i++ {
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	c := dialTestChannel(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	ctx := context.Background()

	first, err := c.Request(ctx, broker.CommandHeartbeat, nil)
	require.NoError(t, err)
	assert.Equal(t, broker.CommandHeartbeat, first["echo"])

	// a stalled read pump would time this one out
	second, err := c.Request(ctx, broker.CommandStatus, nil)
	require.NoError(t, err)
	assert.Equal(t, broker.CommandStatus, second["echo"])
}

func TestWebChannelClosedFailsRequests(t *testing.T) {
	url := newChannelServer(t, func(broker.ChannelEnvelope) *broker.ChannelEnvelope {
		return nil
	})

	c := dialTestChannel(t, url)
	c.Close()

	_, err := c.Request(context.Background(), broker.CommandHeartbeat, nil)
	require.Error(t, err)
	assert.True(t, broker.IsInvalidWebChannelError(err))
}

func TestWebChannelHostInitiatedMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		payload, _ := json.Marshal(broker.ChannelEnvelope{
			MessageID: "host-1",
			Command:   broker.CommandComplete,
			Data:      map[string]any{"channel_id": "3f1a8b6e90c4"},
		})
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	type incoming struct {
		command string
		data    map[string]any
	}
	received := make(chan incoming, 1)

	dialTestChannel(t, "ws"+strings.TrimPrefix(srv.URL, "http"),
		broker.WithMessageHandler(func(command string, data map[string]any) {
			received <- incoming{command: command, data: data}
		}))

	select {
	case msg := <-received:
		assert.Equal(t, broker.CommandComplete, msg.command)
		assert.Equal(t, "3f1a8b6e90c4", msg.data["channel_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("host-initiated message never arrived")
	}
}

func TestWebChannelStatusSupport(t *testing.T) {
	url := newChannelServer(t, func(broker.ChannelEnvelope) *broker.ChannelEnvelope { return nil })

	supported := dialTestChannel(t, url)
	assert.True(t, supported.IsStatusSupported())

	unsupported := dialTestChannel(t, url, broker.WithStatusSupport(false))
	assert.False(t, unsupported.IsStatusSupported())
}

func TestDialWebChannelFailure(t *testing.T) {
	_, err := broker.DialWebChannel(context.Background(), "ws://127.0.0.1:1")
	require.Error(t, err)
}
