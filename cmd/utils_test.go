package cmd

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/testutil"
)

func TestResolveIDFromCandidates(t *testing.T) {
	candidates := []string{"abcd1234-0000", "abce5678-0000", "ffff0000-1111", "abcd1234-0000"}

	id, err := resolveIDFromCandidates("ff", candidates)
	require.NoError(t, err)
	assert.Equal(t, "ffff0000-1111", id)

	id, err = resolveIDFromCandidates("abcd", candidates)
	require.NoError(t, err, "duplicates count once")
	assert.Equal(t, "abcd1234-0000", id)

	_, err = resolveIDFromCandidates("abc", candidates)
	assert.ErrorContains(t, err, "ambiguous")

	id, err = resolveIDFromCandidates("zzz", candidates)
	require.NoError(t, err)
	assert.Equal(t, "zzz", id)
}

func TestReadURLsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "https://example.com/a\n\n# comment\n  https://example.com/b  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	urls, err := readURLsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)

	_, err = readURLsFromFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestResolveConnectBaseURL(t *testing.T) {
	tests := []struct {
		target  string
		want    string
		wantErr bool
	}{
		{"127.0.0.1:7340", "http://127.0.0.1:7340", false},
		{"localhost:7340", "http://localhost:7340", false},
		{"example.com:7340", "https://example.com:7340", false},
		{"https://example.com/ignored/path", "https://example.com", false},
		{"http://[::1]:7340", "http://[::1]:7340", false},
		{"http://example.com:7340", "", true},
		{"ftp://example.com", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, err := resolveConnectBaseURL(tt.target, false)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := resolveConnectBaseURL("http://example.com:7340", true)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:7340", got)
}

func TestIsLoopbackHost(t *testing.T) {
	assert.True(t, isLoopbackHost("localhost"))
	assert.True(t, isLoopbackHost("LOCALHOST"))
	assert.True(t, isLoopbackHost("127.0.0.1"))
	assert.True(t, isLoopbackHost("::1"))
	assert.False(t, isLoopbackHost(""))
	assert.False(t, isLoopbackHost("10.0.0.1"))
	assert.False(t, isLoopbackHost("example.com"))
	assert.Equal(t, "127.0.0.1", hostnameFromTarget("127.0.0.1:80"))
	assert.Equal(t, "example.com", hostnameFromTarget("example.com"))
}

func TestEnsureAuthToken_Persists(t *testing.T) {
	t.Setenv("GODLP_HOME", t.TempDir())

	first := ensureAuthToken()
	require.NotEmpty(t, first)
	assert.Equal(t, first, ensureAuthToken())

	info, err := os.Stat(tokenPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestResolveLocalToken_Precedence(t *testing.T) {
	t.Setenv("GODLP_HOME", t.TempDir())
	t.Setenv("GODLP_TOKEN", "from-env")
	assert.Equal(t, "from-env", resolveLocalToken())

	globalToken = "from-flag"
	defer func() { globalToken = "" }()
	assert.Equal(t, "from-flag", resolveLocalToken())
}

func TestResolveAPIConnection_AddrFile(t *testing.T) {
	t.Setenv("GODLP_HOME", t.TempDir())
	t.Setenv("GODLP_API", "")
	t.Setenv("GODLP_TOKEN", "")

	saveActiveAddr("127.0.0.1:9123")
	baseURL, token, err := resolveAPIConnection()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9123", baseURL)
	assert.Equal(t, ensureAuthToken(), token)

	removeActiveAddr()
	assert.Empty(t, readActiveAddr())
}

func TestResolveAPIConnection_RemoteNeedsToken(t *testing.T) {
	t.Setenv("GODLP_HOME", t.TempDir())
	t.Setenv("GODLP_API", "https://example.com")
	t.Setenv("GODLP_TOKEN", "")

	_, _, err := resolveAPIConnection()
	assert.ErrorContains(t, err, "no token")

	t.Setenv("GODLP_TOKEN", "remote")
	baseURL, token, err := resolveAPIConnection()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", baseURL)
	assert.Equal(t, "remote", token)
}

func TestLock_SingleInstance(t *testing.T) {
	t.Setenv("GODLP_HOME", t.TempDir())

	ok, err := AcquireLock()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, ReleaseLock())

	ok, err = AcquireLock()
	require.NoError(t, err)
	assert.True(t, ok, "lock can be taken again after release")
	require.NoError(t, ReleaseLock())
	assert.NoError(t, ReleaseLock(), "releasing twice is a no-op")
}

func TestListenAPI_FallsBackWhenBusy(t *testing.T) {
	busy := testutil.ListenT(t)
	defer busy.Close()
	addr := busy.Addr().String()

	_, err := listenAPI(addr, true)
	assert.Error(t, err, "strict bind must fail on a busy port")

	ln, err := listenAPI(addr, false)
	require.NoError(t, err)
	defer ln.Close()

	_, busyPort, _ := net.SplitHostPort(addr)
	_, gotPort, _ := net.SplitHostPort(ln.Addr().String())
	want, _ := strconv.Atoi(busyPort)
	got, _ := strconv.Atoi(gotPort)
	assert.Greater(t, got, want)
}

func TestDrained(t *testing.T) {
	assert.True(t, drained(nil))
	assert.True(t, drained([]queue.Item{{Status: queue.StatusCompleted}, {Status: queue.StatusFailed}}))
	assert.False(t, drained([]queue.Item{{Status: queue.StatusCompleted}, {Status: queue.StatusPaused}}))
	assert.False(t, drained([]queue.Item{{Status: queue.StatusPending}}))
}

func TestFormatSize(t *testing.T) {
	size := func(n int64) *int64 { return &n }
	assert.Equal(t, "-", formatSize(nil))
	assert.Equal(t, "512 B", formatSize(size(512)))
	assert.Equal(t, "1.5 KiB", formatSize(size(1536)))
	assert.Equal(t, "2.0 MiB", formatSize(size(2*1024*1024)))
}

func TestPrintDownloads(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printDownloads(&buf, nil, false))
	assert.Equal(t, "No downloads.\n", buf.String())

	buf.Reset()
	require.NoError(t, printDownloads(&buf, nil, true))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	items := []queue.Item{{
		ID: "0123456789abcdef", Locator: "https://example.com/v/1", Title: "Clip",
		Status: queue.StatusInProgress, Priority: queue.PriorityHigh, Progress: 42.5, Speed: "1.00MiB/s",
	}}
	require.NoError(t, printDownloads(&buf, items, false))
	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "42.5%")
	assert.Contains(t, out, "Clip")
	assert.Contains(t, out, "1.00MiB/s")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
