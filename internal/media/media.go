// Package media decodes the host's analysis results and picks formats.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidInfo is returned when an analysis result has no title.
var ErrInvalidInfo = errors.New("invalid video information received")

type Format struct {
	FormatID   string  `json:"format_id"`
	FormatNote string  `json:"format_note,omitempty"`
	Ext        string  `json:"ext,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
	FileSize   float64 `json:"filesize,omitempty"`
	VCodec     string  `json:"vcodec,omitempty"`
	ACodec     string  `json:"acodec,omitempty"`
}

type VideoInfo struct {
	ID         string   `json:"id,omitempty"`
	Title      string   `json:"title"`
	Duration   float64  `json:"duration,omitempty"`
	Thumbnail  string   `json:"thumbnail,omitempty"`
	Uploader   string   `json:"uploader,omitempty"`
	WebpageURL string   `json:"webpage_url,omitempty"`
	Formats    []Format `json:"formats,omitempty"`
}

type PlaylistEntry struct {
	ID       string  `json:"id,omitempty"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration,omitempty"`
}

type Playlist struct {
	ID      string          `json:"id,omitempty"`
	Title   string          `json:"title"`
	Entries []PlaylistEntry `json:"entries"`
}

// ParseVideo decodes a single-video analysis result.
func ParseVideo(raw json.RawMessage) (VideoInfo, error) {
	var info VideoInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return VideoInfo{}, fmt.Errorf("decode video info: %w", err)
	}
	if info.Title == "" {
		return VideoInfo{}, ErrInvalidInfo
	}
	return info, nil
}

// ParsePlaylist decodes a playlist analysis result.
func ParsePlaylist(raw json.RawMessage) (Playlist, error) {
	var p Playlist
	if err := json.Unmarshal(raw, &p); err != nil {
		return Playlist{}, fmt.Errorf("decode playlist info: %w", err)
	}
	return p, nil
}

// Analyzer is the analysis part of the host.
type Analyzer interface {
	Analyze(ctx context.Context, locator string) (json.RawMessage, error)
	AnalyzePlaylist(ctx context.Context, locator string) (json.RawMessage, error)
}

// Result holds exactly one of Video or Playlist. Best is set for a video
// with at least one rankable format.
type Result struct {
	Video    *VideoInfo `json:"video,omitempty"`
	Playlist *Playlist  `json:"playlist,omitempty"`
	Best     *Format    `json:"best,omitempty"`
}

// Analyze tries the locator as a playlist first and falls back to a single
// video when that fails or yields no entries.
func Analyze(ctx context.Context, a Analyzer, locator string) (Result, error) {
	if raw, err := a.AnalyzePlaylist(ctx, locator); err == nil {
		if p, err := ParsePlaylist(raw); err == nil && len(p.Entries) > 0 {
			return Result{Playlist: &p}, nil
		}
	}

	raw, err := a.Analyze(ctx, locator)
	if err != nil {
		return Result{}, fmt.Errorf("analysis failed: %w", err)
	}
	info, err := ParseVideo(raw)
	if err != nil {
		return Result{}, fmt.Errorf("analysis failed: %w", err)
	}
	res := Result{Video: &info}
	if best, ok := BestFormat(info.Formats); ok {
		res.Best = &best
	}
	return res, nil
}

func parseResolution(res string) (w, h int, ok bool) {
	parts := strings.Split(res, "x")
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return w, h, true
}

// BestFormat picks the highest resolution video format, then the largest
// file. Audio-only formats rank below any format with a resolution.
func BestFormat(formats []Format) (Format, bool) {
	var candidates []Format
	for _, f := range formats {
		if f.FormatID == "" {
			continue
		}
		_, _, hasRes := parseResolution(f.Resolution)
		audioOnly := f.ACodec != "" && f.ACodec != "none" && f.VCodec == "none"
		if hasRes || audioOnly {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return Format{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aw, ah, aok := parseResolution(a.Resolution)
		bw, bh, bok := parseResolution(b.Resolution)
		if aok != bok {
			return aok
		}
		if aok {
			if ah != bh {
				return ah > bh
			}
			if aw != bw {
				return aw > bw
			}
		}
		return a.FileSize > b.FileSize
	})
	return candidates[0], true
}

// ErrNoFormat is returned when a playlist entry has no rankable format.
var ErrNoFormat = errors.New("no suitable format found for download")

// Folder is the directory playlist entries are written under.
func (p Playlist) Folder() string {
	if strings.TrimSpace(p.Title) == "" {
		return "playlist"
	}
	return p.Title
}

// Select returns the entries matching ids or the 1-based positions in
// items, in playlist order. With neither, every entry is selected.
func (p Playlist) Select(ids []string, items []int) []PlaylistEntry {
	if len(ids) == 0 && len(items) == 0 {
		return append([]PlaylistEntry(nil), p.Entries...)
	}
	wantID := make(map[string]bool, len(ids))
	for _, id := range ids {
		wantID[id] = true
	}
	wantPos := make(map[int]bool, len(items))
	for _, n := range items {
		wantPos[n] = true
	}
	var out []PlaylistEntry
	for i, e := range p.Entries {
		if (e.ID != "" && wantID[e.ID]) || wantPos[i+1] {
			out = append(out, e)
		}
	}
	return out
}

// EntryFormat analyzes entry and returns its best format. The playlist
// document carries no formats, so the first selected entry stands in for
// the whole selection.
func EntryFormat(ctx context.Context, a Analyzer, entry PlaylistEntry) (Format, error) {
	raw, err := a.Analyze(ctx, entry.URL)
	if err != nil {
		return Format{}, fmt.Errorf("analysis failed: %w", err)
	}
	info, err := ParseVideo(raw)
	if err != nil {
		return Format{}, fmt.Errorf("analysis failed: %w", err)
	}
	best, ok := BestFormat(info.Formats)
	if !ok {
		return Format{}, ErrNoFormat
	}
	return best, nil
}
