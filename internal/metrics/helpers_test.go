package metrics

import (
	"context"

	"github.com/godlp/godlp/internal/config"
)

type nopHost struct{}

func (nopHost) Download(ctx context.Context, locator, format, destination string) error {
	return nil
}
func (nopHost) CancelActiveDownload(ctx context.Context) error { return nil }
func (nopHost) PauseActiveDownload(ctx context.Context) error  { return nil }

func queueConfig() config.QueueConfig {
	return config.QueueConfig{MaxConcurrent: 1}
}
