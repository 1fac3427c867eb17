package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/godlp/godlp/internal/api"
	"github.com/godlp/godlp/internal/config"
	"github.com/godlp/godlp/internal/utils"
)

// readActiveAddr reads the address the running instance listens on
func readActiveAddr() string {
	data, err := os.ReadFile(filepath.Join(config.GetAppDir(), "addr"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// saveActiveAddr records the API address for CLI discovery
func saveActiveAddr(addr string) {
	if err := os.WriteFile(filepath.Join(config.GetAppDir(), "addr"), []byte(addr), 0644); err != nil {
		utils.Debug("Error writing addr file: %v", err)
	}
	utils.Debug("API listening on %s", addr)
}

func removeActiveAddr() {
	if err := os.Remove(filepath.Join(config.GetAppDir(), "addr")); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing addr file: %v", err)
	}
}

// listenAPI binds addr. Unless strict, a busy port falls through to the
// next free one.
func listenAPI(addr string, strict bool) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err == nil || strict {
		return ln, err
	}
	host, port, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		return nil, err
	}
	var start int
	if _, scanErr := fmt.Sscanf(port, "%d", &start); scanErr != nil {
		return nil, err
	}
	if _, ln = findAvailablePort(host, start+1); ln == nil {
		return nil, fmt.Errorf("no free port after %s: %w", addr, err)
	}
	return ln, nil
}

// findAvailablePort tries ports starting from 'start' until one is available
func findAvailablePort(host string, start int) (int, net.Listener) {
	for port := start; port < start+100; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err == nil {
			return port, ln
		}
	}
	return 0, nil
}

// readURLsFromFile reads locators from a file, one per line. Blank lines
// and # comments are skipped.
func readURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	scanner := bufio.NewScanner(file)
	const maxCapacity = 1024 * 1024 // long playlist URLs
	scanner.Buffer(make([]byte, maxCapacity), maxCapacity)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return urls, nil
}

func resolveLocalToken() string {
	if token := strings.TrimSpace(globalToken); token != "" {
		return token
	}
	if token := strings.TrimSpace(os.Getenv("GODLP_TOKEN")); token != "" {
		return token
	}
	return ensureAuthToken()
}

func resolveHostTarget() string {
	if host := strings.TrimSpace(globalHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv("GODLP_API"))
}

// resolveAPIConnection finds the running instance: --host, then the addr
// file written by the instance, then the configured api_addr.
func resolveAPIConnection() (string, string, error) {
	if target := resolveHostTarget(); target != "" {
		baseURL, err := resolveConnectBaseURL(target, false)
		if err != nil {
			return "", "", err
		}
		token := strings.TrimSpace(globalToken)
		if token == "" {
			token = strings.TrimSpace(os.Getenv("GODLP_TOKEN"))
		}
		if token == "" && isLoopbackHost(hostnameFromTarget(target)) {
			token = ensureAuthToken()
		}
		if token == "" {
			return "", "", errors.New("no token for remote instance. use --token or set GODLP_TOKEN")
		}
		return baseURL, token, nil
	}

	addr := readActiveAddr()
	if addr == "" {
		addr = loadSettings().General.APIAddr
	}
	return "http://" + addr, resolveLocalToken(), nil
}

// apiClient connects to the running instance and checks it answers.
func apiClient(ctx context.Context) (*api.Client, error) {
	baseURL, token, err := resolveAPIConnection()
	if err != nil {
		return nil, err
	}
	client := api.NewClient(baseURL, token)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("godlp is not running at %s (start it with 'godlp' or 'godlp server start'): %w", baseURL, err)
	}
	return client, nil
}

func resolveConnectBaseURL(target string, allowInsecureHTTP bool) (string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid target: %v", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported scheme %q (use http or https)", u.Scheme)
		}
		if u.Host == "" {
			return "", fmt.Errorf("invalid target: missing host")
		}
		if u.Scheme == "http" && !allowInsecureHTTP && !isLoopbackHost(u.Hostname()) {
			return "", fmt.Errorf("refusing insecure HTTP for non-loopback target, use https://")
		}
		return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
	}

	scheme := "https"
	if isLoopbackHost(hostnameFromTarget(target)) {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, target), nil
}

func hostnameFromTarget(target string) string {
	if host, _, err := net.SplitHostPort(target); err == nil {
		return host
	}
	return target
}

func isLoopbackHost(host string) bool {
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// resolveID expands a unique id prefix against the running queue.
func resolveID(ctx context.Context, client *api.Client, partialID string) (string, error) {
	if len(partialID) >= 32 {
		return partialID, nil // already a full UUID
	}
	items, err := client.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list downloads: %w", err)
	}
	candidates := make([]string, 0, len(items))
	for _, it := range items {
		candidates = append(candidates, it.ID)
	}
	return resolveIDFromCandidates(partialID, candidates)
}

func resolveIDFromCandidates(partialID string, candidates []string) (string, error) {
	var matches []string
	seen := make(map[string]bool)
	for _, id := range candidates {
		if strings.HasPrefix(id, partialID) && !seen[id] {
			matches = append(matches, id)
			seen[id] = true
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("ambiguous ID prefix '%s' matches %d downloads", partialID, len(matches))
	}
	return partialID, nil // no match, the server answers not found
}

func loadSettings() *config.Settings {
	settings, err := config.LoadSettings()
	if err != nil {
		settings = config.DefaultSettings()
	}
	config.ApplyEnv(settings)
	return settings
}
