package actorlink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type greetArgs struct {
	Name string `json:"name"`
}

type greetResult struct {
	Message string `json:"message"`
}

func greetHandler(ctx context.Context, raw json.RawMessage) (any, error) {
	var args greetArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return greetResult{Message: "hello, " + args.Name}, nil
}

func TestRuntimeDiscoverAndRemoteCall(t *testing.T) {
	server, err := New(WithRPCTimeout(2 * time.Second))
	require.NoError(t, err)
	defer server.Close()

	client, err := New(WithRPCTimeout(2 * time.Second))
	require.NoError(t, err)
	defer client.Close()

	greeterID := server.AssignId("Greeter")
	require.NoError(t, server.Ready(greeterID, nil, "Greeter", map[string]MethodHandler{
		Target("Greeter", "greet"): greetHandler,
	}))
	require.NoError(t, server.StartAdvertising("Greeter"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peers, err := client.Discover(ctx, "Greeter", time.Second)
	require.NoError(t, err)
	require.Len(t, peers, 1)

	result, err := Call[greetResult](ctx, client, peers[0], Target("Greeter", "greet"), greetArgs{Name: "actorlink"})
	require.NoError(t, err)
	require.Equal(t, "hello, actorlink", result.Message)

	// The first call on a just-discovered peer must already succeed; a
	// second call exercises the same, now-warm proxy path.
	result2, err := Call[greetResult](ctx, client, peers[0], Target("Greeter", "greet"), greetArgs{Name: "again"})
	require.NoError(t, err)
	require.Equal(t, "hello, again", result2.Message)
}

func TestRuntimeLocalCallNeverTouchesTheLink(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)
	defer rt.Close()

	id := rt.AssignId("Greeter")
	require.NoError(t, rt.Ready(id, nil, "Greeter", map[string]MethodHandler{
		Target("Greeter", "greet"): greetHandler,
	}))

	ctx := context.Background()
	result, err := Call[greetResult](ctx, rt, id, Target("Greeter", "greet"), greetArgs{Name: "local"})
	require.NoError(t, err)
	require.Equal(t, "hello, local", result.Message)
}

func TestRuntimeRemoteCallUnknownMethod(t *testing.T) {
	server, err := New()
	require.NoError(t, err)
	defer server.Close()
	client, err := New()
	require.NoError(t, err)
	defer client.Close()

	id := server.AssignId("Greeter")
	require.NoError(t, server.Ready(id, nil, "Greeter", map[string]MethodHandler{
		Target("Greeter", "greet"): greetHandler,
	}))
	require.NoError(t, server.StartAdvertising("Greeter"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	peers, err := client.Discover(ctx, "Greeter", time.Second)
	require.NoError(t, err)
	require.Len(t, peers, 1)

	_, err = client.RemoteCall(ctx, peers[0], Target("Greeter", "missing"), greetArgs{Name: "x"})
	require.Error(t, err)
	var notSupported *MethodNotSupportedError
	require.ErrorAs(t, err, &notSupported)
}

func TestRuntimeResignDropsProxyOnPeer(t *testing.T) {
	server, err := New()
	require.NoError(t, err)
	defer server.Close()
	client, err := New()
	require.NoError(t, err)
	defer client.Close()

	id := server.AssignId("Greeter")
	require.NoError(t, server.Ready(id, nil, "Greeter", map[string]MethodHandler{
		Target("Greeter", "greet"): greetHandler,
	}))
	require.NoError(t, server.StartAdvertising("Greeter"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	peers, err := client.Discover(ctx, "Greeter", time.Second)
	require.NoError(t, err)
	require.Len(t, peers, 1)

	client.Resign(peers[0])
	_, ok := client.proxies.Get(peers[0])
	require.False(t, ok, "resign must evict the proxy")
}
