package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General GeneralSettings `json:"general"`
	Queue   QueueSettings   `json:"queue"`
	Host    HostSettings    `json:"host"`
	Network NetworkSettings `json:"network"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DefaultDownloadDir  string `json:"default_download_dir"`
	Language            string `json:"language"`
	AutoRedirectToQueue bool   `json:"auto_redirect_to_queue"`
	AutoResume          bool   `json:"auto_resume"`
	Theme               int    `json:"theme"`
	LogLevel            string `json:"log_level"`
	LogRetentionCount   int    `json:"log_retention_count"`
	APIAddr             string `json:"api_addr"`
}

const (
	ThemeAdaptive = 0
	ThemeLight    = 1
	ThemeDark     = 2
)

// QueueSettings controls the download queue scheduler.
type QueueSettings struct {
	MaxConcurrentDownloads int           `json:"max_concurrent_downloads"`
	MinDispatchDelay       time.Duration `json:"min_dispatch_delay"`
	CancelAckTimeout       time.Duration `json:"cancel_ack_timeout"`
	SnapshotInterval       time.Duration `json:"snapshot_interval"`
	DefaultPriority        string        `json:"default_priority"`
}

// HostSettings describes how to reach the host backend.
type HostSettings struct {
	BaseURL        string        `json:"base_url"`
	Token          string        `json:"token"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// NetworkSettings are passed through to the host untouched.
type NetworkSettings struct {
	ProxyMode      string `json:"proxy_mode"`      // "none", "system", "manual"
	ProxyAddress   string `json:"proxy_address"`   // used when ProxyMode is "manual"
	CookiesMode    string `json:"cookies_mode"`    // "none", "browser", "file"
	CookiesBrowser string `json:"cookies_browser"` // used when CookiesMode is "browser"
	CookiesFile    string `json:"cookies_file"`    // used when CookiesMode is "file"
	UseJSRuntime   bool   `json:"use_js_runtime"`
}

// SettingMeta provides metadata for a single setting (for UI rendering).
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string // Help text displayed in right pane
	Type        string // "string", "int", "bool", "duration"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "default_download_dir", Label: "Default Download Dir", Description: "Directory used when a download has no explicit destination.", Type: "string"},
			{Key: "language", Label: "Language", Description: "Interface language code (en, ru, zh...).", Type: "string"},
			{Key: "auto_redirect_to_queue", Label: "Redirect to Queue", Description: "Switch to the queue view after adding a download.", Type: "bool"},
			{Key: "auto_resume", Label: "Auto Resume", Description: "Re-enqueue unfinished downloads on startup.", Type: "bool"},
			{Key: "theme", Label: "App Theme", Description: "UI Theme (System, Light, Dark).", Type: "int"},
			{Key: "log_level", Label: "Log Level", Description: "debug, info, warn or error.", Type: "string"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
			{Key: "api_addr", Label: "API Address", Description: "Listen address of the local API (e.g. 127.0.0.1:7340).", Type: "string"},
		},
		"Queue": {
			{Key: "max_concurrent_downloads", Label: "Max Concurrent Downloads", Description: "Downloads dispatched to the host at once. The host runs one operation, keep this at 1.", Type: "int"},
			{Key: "min_dispatch_delay", Label: "Dispatch Delay", Description: "Minimum pause between two consecutive downloads (e.g., 2s).", Type: "duration"},
			{Key: "cancel_ack_timeout", Label: "Cancel Timeout", Description: "How long to wait for the host to confirm a cancel or pause. 0 waits forever.", Type: "duration"},
			{Key: "snapshot_interval", Label: "Snapshot Interval", Description: "How often unfinished downloads are saved for recovery.", Type: "duration"},
			{Key: "default_priority", Label: "Default Priority", Description: "Priority for new downloads (low, normal, high).", Type: "string"},
		},
		"Host": {
			{Key: "base_url", Label: "Host URL", Description: "Address of the host backend (e.g. http://127.0.0.1:7341).", Type: "string"},
			{Key: "token", Label: "Host Token", Description: "Bearer token sent to the host backend.", Type: "string"},
			{Key: "request_timeout", Label: "Request Timeout", Description: "Timeout for short host calls.", Type: "duration"},
		},
		"Network": {
			{Key: "proxy_mode", Label: "Proxy Mode", Description: "none, system or manual.", Type: "string"},
			{Key: "proxy_address", Label: "Proxy Address", Description: "Proxy used when mode is manual.", Type: "string"},
			{Key: "cookies_mode", Label: "Cookies Mode", Description: "none, browser or file.", Type: "string"},
			{Key: "cookies_browser", Label: "Cookies Browser", Description: "Browser to read cookies from.", Type: "string"},
			{Key: "cookies_file", Label: "Cookies File", Description: "Netscape cookies file.", Type: "string"},
			{Key: "use_js_runtime", Label: "JS Runtime", Description: "Let the host use a JavaScript runtime for sites that need it.", Type: "bool"},
		},
	}
}

// CategoryOrder returns the order of categories for UI tabs.
func CategoryOrder() []string {
	return []string{"General", "Queue", "Host", "Network"}
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Downloads")

	return &Settings{
		General: GeneralSettings{
			DefaultDownloadDir:  defaultDir,
			Language:            "en",
			AutoRedirectToQueue: false,
			AutoResume:          true,
			Theme:               ThemeAdaptive,
			LogLevel:            "info",
			LogRetentionCount:   5,
			APIAddr:             "127.0.0.1:7340",
		},
		Queue: QueueSettings{
			MaxConcurrentDownloads: 1,
			MinDispatchDelay:       2 * time.Second,
			CancelAckTimeout:       30 * time.Second,
			SnapshotInterval:       2 * time.Second,
			DefaultPriority:        "normal",
		},
		Host: HostSettings{
			BaseURL:        "http://127.0.0.1:7341",
			RequestTimeout: 30 * time.Second,
		},
		Network: NetworkSettings{
			ProxyMode:   "none",
			CookiesMode: "none",
		},
	}
}

// Validate clamps out-of-range values back into their accepted range.
func (s *Settings) Validate() {
	def := DefaultSettings()

	if s.Queue.MaxConcurrentDownloads < 1 {
		s.Queue.MaxConcurrentDownloads = 1
	}
	if s.Queue.MaxConcurrentDownloads > 10 {
		s.Queue.MaxConcurrentDownloads = 10
	}
	if s.Queue.MinDispatchDelay < 0 {
		s.Queue.MinDispatchDelay = 0
	}
	if s.Queue.CancelAckTimeout < 0 {
		s.Queue.CancelAckTimeout = 0
	}
	if s.Queue.SnapshotInterval <= 0 {
		s.Queue.SnapshotInterval = def.Queue.SnapshotInterval
	}
	switch s.Queue.DefaultPriority {
	case "low", "normal", "high":
	default:
		s.Queue.DefaultPriority = def.Queue.DefaultPriority
	}
	if s.Host.RequestTimeout <= 0 {
		s.Host.RequestTimeout = def.Host.RequestTimeout
	}
	if s.General.LogRetentionCount < 1 {
		s.General.LogRetentionCount = def.General.LogRetentionCount
	}
	if s.General.APIAddr == "" {
		s.General.APIAddr = def.General.APIAddr
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetAppDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	path := GetSettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}
	settings.Validate()

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// QueueConfig is the scheduler view of the settings handed to the queue manager.
type QueueConfig struct {
	MaxConcurrent    int
	MinDispatchDelay time.Duration
	CancelAckTimeout time.Duration
}

// ToQueueConfig creates a QueueConfig from user Settings
func (s *Settings) ToQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrent:    s.Queue.MaxConcurrentDownloads,
		MinDispatchDelay: s.Queue.MinDispatchDelay,
		CancelAckTimeout: s.Queue.CancelAckTimeout,
	}
}
