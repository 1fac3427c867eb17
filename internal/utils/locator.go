package utils

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// OutputTemplateExt is the extension placeholder the host fills in once the
// real container format is known.
const OutputTemplateExt = ".%(ext)s"

// ValidateLocator checks that raw is an absolute http(s) URL.
func ValidateLocator(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty locator")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid locator %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("locator %q has no host", raw)
	}
	return raw, nil
}

// SanitizeFilename replaces characters that are invalid in file names on
// common platforms.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	name = replacer.Replace(name)
	name = strings.Trim(name, ". ")
	if name == "" {
		return "download"
	}
	return name
}

// DestinationPath builds the output template for title inside dir.
func DestinationPath(dir, title string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, SanitizeFilename(title)+OutputTemplateExt)
}

// AbsPath makes path absolute so that it survives working directory
// changes. It returns path unchanged if that fails.
func AbsPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// ShortID trims an identifier for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
