package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateLocator(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"https URL", "https://example.com/watch?v=abc", false},
		{"http URL with spaces", "  http://example.com/v/1  ", false},
		{"empty", "", true},
		{"ftp scheme", "ftp://example.com/file", true},
		{"no host", "https:///path", true},
		{"garbage", "://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateLocator(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateLocator(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Video", "My Video"},
		{"a/b\\c:d", "a_b_c_d"},
		{"what?*", "what__"},
		{"  ..  ", "download"},
		{"", "download"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDestinationPath(t *testing.T) {
	got := DestinationPath("/tmp/dl", "Clip: one")
	want := filepath.Join("/tmp/dl", "Clip_ one.%(ext)s")
	if got != want {
		t.Errorf("DestinationPath = %q, want %q", got, want)
	}
	if got := DestinationPath("", "x"); got != filepath.Join(".", "x.%(ext)s") {
		t.Errorf("DestinationPath with empty dir = %q", got)
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("ShortID = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID = %q", got)
	}
}

func TestRemoveOldLogs(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"debug-20240101-000000.log",
		"debug-20240102-000000.log",
		"debug-20240103-000000.log",
		"other.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	removeOldLogs(dir, 2)

	if _, err := os.Stat(filepath.Join(dir, names[0])); !os.IsNotExist(err) {
		t.Error("oldest log should be removed")
	}
	for _, n := range names[1:] {
		if _, err := os.Stat(filepath.Join(dir, n)); err != nil {
			t.Errorf("%s should be kept: %v", n, err)
		}
	}
}

func TestAbsPath(t *testing.T) {
	got := AbsPath("downloads")
	if !filepath.IsAbs(got) {
		t.Errorf("AbsPath(downloads) = %s, want absolute", got)
	}
	if AbsPath("/tmp/x") != "/tmp/x" {
		t.Errorf("absolute path should be unchanged")
	}
}
