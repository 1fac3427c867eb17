package testutil

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockHostServer_RecordsCalls(t *testing.T) {
	server := NewMockHostServerT(t,
		WithToken("tok"),
		WithResult("resolvedOutputPath", map[string]string{"path": "/dl/a.mp4"}),
	)

	req, _ := http.NewRequest(http.MethodPost, server.URL()+"/rpc/resolvedOutputPath", bytes.NewBufferString(`{"title":"a"}`))
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	calls := server.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "resolvedOutputPath", calls[0].Method)
	assert.Equal(t, "a", calls[0].Body["title"])
}

func TestMockHostServer_RejectsMissingToken(t *testing.T) {
	server := NewMockHostServerT(t, WithToken("tok"))

	resp, err := http.Post(server.URL()+"/rpc/download", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMockHostServer_FailOnNth(t *testing.T) {
	server := NewMockHostServerT(t, WithFailOnNthRequest(2, http.StatusTooManyRequests, "5"))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK} {
		resp, err := http.Post(server.URL()+"/rpc/download", "application/json", nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, "request %d", i+1)
		if want == http.StatusTooManyRequests {
			assert.Equal(t, "5", resp.Header.Get("Retry-After"))
		}
	}
	assert.EqualValues(t, 3, server.RequestCount.Load())
}
