package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	debugFile *os.File
	debugDir  string
	debugOnce sync.Once
	debugMu   sync.Mutex
)

// ConfigureDebug sets the directory where debug logs are written.
// Must be called before the first Debug call to take effect.
func ConfigureDebug(dir string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugDir = dir
}

// Debug writes a message to the debug log file of this run
func Debug(format string, args ...any) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	debugOnce.Do(func() {
		debugMu.Lock()
		dir := debugDir
		debugMu.Unlock()
		if dir == "" {
			return
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return
		}
		name := fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405"))
		debugFile, _ = os.Create(filepath.Join(dir, name))
	})
	if debugFile != nil {
		debugMu.Lock()
		fmt.Fprintf(debugFile, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
		debugFile.Sync() // Flush immediately
		debugMu.Unlock()
	}
}

// DebugWriter adapts the debug log to an io.Writer, one Debug line per
// write.
func DebugWriter() io.Writer {
	return debugWriter{}
}

type debugWriter struct{}

func (debugWriter) Write(p []byte) (int, error) {
	Debug("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// CleanupLogs keeps the newest keep debug logs and removes the rest.
func CleanupLogs(keep int) {
	debugMu.Lock()
	dir := debugDir
	debugMu.Unlock()
	if dir == "" || keep < 1 {
		return
	}
	removeOldLogs(dir, keep)
}

func removeOldLogs(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var logs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "debug-") || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		logs = append(logs, e.Name())
	}
	if len(logs) <= keep {
		return
	}

	// Names embed the start time, so lexical order is chronological
	sort.Strings(logs)
	for _, name := range logs[:len(logs)-keep] {
		_ = os.Remove(filepath.Join(dir, name))
	}
}
