// Package media resolves YouTube audio, metadata and search results.
package media

import (
	"context"
	"io"
	"regexp"
)

// Service is the media-fetching backend used by the API handlers.
//
// An absent result is not an error: ResolveAudio returns a nil Stream,
// FetchInfo and SearchMedia return an empty string. Errors are reserved for
// upstream failures.
type Service interface {
	ResolveAudio(ctx context.Context, id string, quality int) (AudioResult, error)
	FetchInfo(ctx context.Context, id string) (string, error)
	SearchMedia(ctx context.Context, query string, maxResults int) (string, error)
}

// AudioResult is a resolved audio stream. The caller owns Stream and must
// close it.
type AudioResult struct {
	Stream   io.ReadCloser
	Name     string
	Metadata string
}

// Found reports whether the audio was resolved.
func (r AudioResult) Found() bool {
	return r.Stream != nil
}

// Quality selects the audio bitrate tier.
type Quality int

const (
	QualityBest Quality = iota
	QualityMedium
	QualityWorst
)

// ClampQuality maps any integer onto a supported tier.
func ClampQuality(q int) Quality {
	switch {
	case q <= int(QualityBest):
		return QualityBest
	case q >= int(QualityWorst):
		return QualityWorst
	default:
		return Quality(q)
	}
}

// AudioQuality returns the yt-dlp --audio-quality value (0 best, 9 worst).
func (q Quality) AudioQuality() string {
	switch q {
	case QualityMedium:
		return "5"
	case QualityWorst:
		return "9"
	default:
		return "0"
	}
}

func (q Quality) String() string {
	switch q {
	case QualityMedium:
		return "medium"
	case QualityWorst:
		return "worst"
	default:
		return "best"
	}
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id looks like a YouTube video id.
func ValidID(id string) bool {
	return videoIDPattern.MatchString(id)
}

// VideoInfo is the normalized metadata document returned by FetchInfo.
type VideoInfo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	Thumbnail   string  `json:"thumbnail"`
	ViewCount   int64   `json:"view_count"`
	UploadDate  string  `json:"upload_date"`
	URL         string  `json:"url"`
}

// SearchResult is one entry of the SearchMedia payload.
type SearchResult struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	URL       string  `json:"url"`
}
