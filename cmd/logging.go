package cmd

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// setupLogger installs a tint handler on w. Color is off unless w is the
// terminal.
func setupLogger(w io.Writer, level slog.Level, color bool) {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    !color,
	})
	slog.SetDefault(slog.New(handler))
}
