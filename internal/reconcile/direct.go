package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/godlp/godlp/internal/history"
	"github.com/godlp/godlp/internal/host"
)

// Step is the screen a direct download session is on.
type Step string

const (
	StepInput      Step = "input"
	StepSelection  Step = "selection"
	StepDownload   Step = "download"
	StepCompletion Step = "completion"
	StepSetup      Step = "setup"
)

const calculating = "Calculating..."

// DirectDownload is a single download started outside the queue.
type DirectDownload struct {
	Locator     string   `json:"url"`
	Title       string   `json:"title"`
	Format      string   `json:"formatID"`
	Destination string   `json:"outputPath"`
	Duration    *float64 `json:"duration,omitempty"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
}

// DirectState is the UI-facing view of the direct session.
type DirectState struct {
	Step       Step           `json:"step"`
	Download   DirectDownload `json:"download"`
	Progress   float64        `json:"progress"`
	Size       string         `json:"size"`
	Speed      string         `json:"speed"`
	ETA        string         `json:"eta"`
	OutputPath string         `json:"outputPath,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Active reports whether host download events belong to the session.
func (s DirectState) Active() bool {
	return s.Step == StepDownload
}

// Direct returns the current direct session state.
func (r *Reconciler) Direct() DirectState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.direct
}

func (r *Reconciler) inDirectMode() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.direct.Active()
}

// StartDirect switches to the download step and asks the host to fetch d.
// The host call runs in the background; a rejection sends the session back
// to input.
func (r *Reconciler) StartDirect(ctx context.Context, d DirectDownload) error {
	r.mu.Lock()
	if r.direct.Active() {
		r.mu.Unlock()
		return fmt.Errorf("%w: direct download of %s", ErrBusy, r.direct.Download.Locator)
	}
	r.direct = DirectState{
		Step:     StepDownload,
		Download: d,
		Size:     calculating,
		Speed:    calculating,
		ETA:      calculating,
	}
	r.mu.Unlock()
	r.notifyChange()

	go func() {
		err := r.host.Download(context.WithoutCancel(ctx), d.Locator, d.Format, d.Destination)
		if err == nil {
			return
		}
		r.mu.Lock()
		if !r.direct.Active() || r.direct.Download.Locator != d.Locator {
			r.mu.Unlock()
			return
		}
		msg := fmt.Sprintf("Download failed: %v\n\nPlease try again with a different format.", err)
		r.direct.Step = StepInput
		r.direct.Error = msg
		r.mu.Unlock()

		slog.Warn("Direct download rejected", "url", d.Locator, "error", err)
		r.notifier.Error(msg)
		r.notifyChange()
	}()
	return nil
}

// CancelDirect asks the host to stop the direct download. The session
// changes when the cancelled event arrives.
func (r *Reconciler) CancelDirect(ctx context.Context) error {
	if !r.inDirectMode() {
		return fmt.Errorf("%w: no direct download", ErrIdle)
	}
	if err := r.host.CancelActiveDownload(ctx); err != nil {
		return fmt.Errorf("host cancel failed: %w", err)
	}
	return nil
}

// LeaveDirect returns the session to the input step. It does not touch a
// running host download.
func (r *Reconciler) LeaveDirect() {
	r.mu.Lock()
	r.direct = DirectState{Step: StepInput}
	r.mu.Unlock()
	r.notifyChange()
}

func (r *Reconciler) handleDirect(ctx context.Context, rec host.Record) {
	switch rec := rec.(type) {
	case host.DownloadProgress:
		r.mu.Lock()
		r.direct.Progress = rec.Percent
		r.direct.Size = orCalculating(rec.Size)
		r.direct.Speed = orCalculating(rec.Speed)
		r.direct.ETA = orCalculating(rec.ETA)
		r.mu.Unlock()

	case host.DownloadComplete:
		r.mu.Lock()
		r.direct.Progress = 100
		r.direct.Size = "Complete"
		r.direct.Speed = "0"
		r.direct.ETA = "00:00"
		d := r.direct.Download
		r.mu.Unlock()
		r.verifyDirect(ctx, d)

	case host.DownloadError:
		r.mu.Lock()
		d := r.direct.Download
		r.direct.Step = StepSelection
		r.direct.Size = "Error"
		r.direct.Speed = "0"
		r.direct.ETA = "00:00"
		r.direct.Error = rec.Message
		r.mu.Unlock()

		r.addHistory(r.directRecord(d, history.StatusFailed, ""))
		r.refreshSnapshot()
		r.notifier.Error(fmt.Sprintf("Download Error: %s", rec.Message))

	case host.DownloadCancelled:
		r.mu.Lock()
		d := r.direct.Download
		r.direct.Step = StepInput
		r.direct.Size = "Cancelled"
		r.direct.Speed = "0"
		r.direct.ETA = "00:00"
		r.mu.Unlock()

		r.addHistory(r.directRecord(d, history.StatusCancelled, ""))
		r.refreshSnapshot()
	}
	r.notifyChange()
}

// verifyDirect resolves the finished file and only records success when
// the host reports a complete one.
func (r *Reconciler) verifyDirect(ctx context.Context, d DirectDownload) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	path, err := r.host.ResolvedOutputPath(callCtx, d.Title)
	cancel()

	fail := func(msg string) {
		r.mu.Lock()
		r.direct.Step = StepSelection
		r.direct.Error = msg
		r.mu.Unlock()
		r.notifier.Error(msg)
	}

	switch {
	case err != nil:
		text := err.Error()
		if strings.Contains(text, "incomplete") || strings.Contains(text, "temporary") {
			fail(fmt.Sprintf("Download appears to be incomplete: %s", text))
		} else {
			fail(fmt.Sprintf("Failed to verify download: %s", text))
		}
		return
	case path == "":
		fail("Download failed: No file path returned")
		return
	case looksIncomplete(path):
		fail("Download appears to be incomplete. Please check the download status.")
		return
	}

	rec := r.directRecord(d, history.StatusCompleted, path)
	describeFile(&rec)
	r.addHistory(rec)
	r.refreshSnapshot()

	r.mu.Lock()
	r.direct.Step = StepCompletion
	r.direct.OutputPath = path
	r.direct.Error = ""
	r.mu.Unlock()
	r.notifier.Success("Download completed!")
}

func (r *Reconciler) directRecord(d DirectDownload, status history.Status, path string) history.Item {
	now := r.now()
	return history.Item{
		URL:          d.Locator,
		Title:        d.Title,
		FormatID:     d.Format,
		OutputPath:   path,
		Status:       status,
		Duration:     d.Duration,
		Thumbnail:    d.Thumbnail,
		DownloadedAt: &now,
	}
}

// looksIncomplete matches the markers the host puts in place of a path
// when only partial files exist.
func looksIncomplete(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "download incomplete") || strings.Contains(lower, "temporary files")
}

func orCalculating(v *string) string {
	if v == nil || *v == "" {
		return calculating
	}
	return *v
}
