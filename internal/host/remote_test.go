package host_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godlp/godlp/internal/host"
	"github.com/godlp/godlp/internal/testutil"
)

func TestRemoteHost_CallsCarryTokenAndArgs(t *testing.T) {
	server := testutil.NewMockHostServerT(t,
		testutil.WithToken("secret"),
		testutil.WithResult("resolvedOutputPath", map[string]string{"path": "/dl/Clip.webm"}),
		testutil.WithResult("analyze", map[string]any{"title": "Clip", "duration": 61}),
	)
	h := host.NewRemoteHost(server.URL(), "secret", time.Second)
	ctx := context.Background()

	require.NoError(t, h.Download(ctx, "https://example.com/v", "best", "/dl/Clip.%(ext)s"))
	path, err := h.ResolvedOutputPath(ctx, "Clip")
	require.NoError(t, err)
	assert.Equal(t, "/dl/Clip.webm", path)

	meta, err := h.Analyze(ctx, "https://example.com/v")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Clip","duration":61}`, string(meta))

	calls := server.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "download", calls[0].Method)
	assert.Equal(t, "Bearer secret", calls[0].Auth)
	assert.Equal(t, "best", calls[0].Body["formatID"])
	assert.Equal(t, "/dl/Clip.%(ext)s", calls[0].Body["outputPath"])
}

func TestRemoteHost_SettingsRoundTrip(t *testing.T) {
	want := host.Settings{ProxyMode: "manual", ProxyAddress: "http://127.0.0.1:8080", Language: "ru"}
	server := testutil.NewMockHostServerT(t, testutil.WithResult("getSettings", want))
	h := host.NewRemoteHost(server.URL(), "", time.Second)

	got, err := h.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, h.UpdateSettings(context.Background(), want))
	calls := server.Calls()
	assert.Equal(t, "updateSettings", calls[len(calls)-1].Method)
	assert.Equal(t, "manual", calls[len(calls)-1].Body["proxy_mode"])
}

func TestRemoteHost_ErrorCarriesRetryAfter(t *testing.T) {
	server := testutil.NewMockHostServerT(t, testutil.WithFailOnNthRequest(1, http.StatusTooManyRequests, "120"))
	h := host.NewRemoteHost(server.URL(), "", time.Second)

	err := h.Download(context.Background(), "https://example.com/v", "best", "/dl/x")
	require.Error(t, err)

	var rpcErr *host.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "download", rpcErr.Method)
	assert.Equal(t, http.StatusTooManyRequests, rpcErr.Status)
	assert.Equal(t, "simulated failure", rpcErr.Message)
	assert.True(t, rpcErr.RetryAfter.After(time.Now()))
}

func TestRemoteHost_Unreachable(t *testing.T) {
	h := host.NewRemoteHost("http://127.0.0.1:1", "", 200*time.Millisecond)
	err := h.CancelActiveDownload(context.Background())

	var rpcErr *host.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Zero(t, rpcErr.Status)
}

func TestRemoteHost_EventStream(t *testing.T) {
	server := testutil.NewMockHostServerT(t, testutil.WithToken("tok"))
	h := host.NewRemoteHost(server.URL(), "tok", time.Second)

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return server.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	server.Emit(host.Event{Name: host.EventDownloadProgress, Data: json.RawMessage(`{"progress":10,"speed":"1MiB/s"}`)})
	server.Emit(host.Event{Name: host.EventDownloadComplete})

	var got []host.Event
	for len(got) < 2 {
		select {
		case ev := <-sub.Events():
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events, want 2", len(got))
		}
	}
	assert.Equal(t, host.EventDownloadProgress, got[0].Name)
	rec, err := host.Decode(got[0])
	require.NoError(t, err)
	assert.Equal(t, 10.0, rec.(host.DownloadProgress).Percent)
	assert.Equal(t, host.EventDownloadComplete, got[1].Name)
	assert.Empty(t, got[1].Data)
}

func TestRemoteHost_CloseStopsStream(t *testing.T) {
	server := testutil.NewMockHostServerT(t)
	h := host.NewRemoteHost(server.URL(), "", time.Second)

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return server.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Close())
	assert.Eventually(t, func() bool { return server.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
