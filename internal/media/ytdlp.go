package media

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/strefethen/tunegate/internal/config"
)

const (
	watchURLPrefix = "https://www.youtube.com/watch?v="
	audioExt       = ".mp3"
)

// Messages yt-dlp prints when the requested video cannot be served.
var notFoundMarkers = []string{
	"video unavailable",
	"this video is unavailable",
	"private video",
	"is not a valid url",
	"incomplete youtube id",
	"does not exist",
	"has been removed",
	"http error 404",
}

type operation string

const (
	opInfo     operation = "info"
	opSearch   operation = "search"
	opDownload operation = "download"
)

// runFunc executes a prepared yt-dlp command against target.
type runFunc func(ctx context.Context, op operation, cmd *ytdlp.Command, target string) (*ytdlp.Result, error)

func runCommand(ctx context.Context, _ operation, cmd *ytdlp.Command, target string) (*ytdlp.Result, error) {
	return cmd.Run(ctx, target)
}

// YtdlpService implements Service on top of the yt-dlp executable.
type YtdlpService struct {
	executable string
	workDir    string
	timeout    time.Duration
	limiter    *rate.Limiter
	group      singleflight.Group
	run        runFunc
	logger     *log.Logger
}

// NewYtdlpService creates the service and its work directory.
func NewYtdlpService(cfg config.Config, logger *log.Logger) (*YtdlpService, error) {
	if logger == nil {
		logger = log.Default()
	}

	workDir := cfg.MediaWorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "tunegate")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media work dir: %w", err)
	}

	timeout := time.Duration(cfg.MediaTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	limit := rate.Inf
	if cfg.MediaRatePerSec > 0 {
		limit = rate.Limit(cfg.MediaRatePerSec)
	}
	burst := cfg.MediaRateBurst
	if burst <= 0 {
		burst = 1
	}

	return &YtdlpService{
		executable: cfg.YtdlpPath,
		workDir:    workDir,
		timeout:    timeout,
		limiter:    rate.NewLimiter(limit, burst),
		run:        runCommand,
		logger:     logger,
	}, nil
}

func (s *YtdlpService) command() *ytdlp.Command {
	cmd := ytdlp.New().NoWarnings().NoProgress()
	if s.executable != "" {
		cmd = cmd.SetExecutable(s.executable)
	}
	return cmd
}

// invoke waits for the rate limiter, then runs cmd under the call timeout.
// A not-found outcome is reported as (nil, nil).
func (s *YtdlpService) invoke(ctx context.Context, op operation, cmd *ytdlp.Command, target string) (*ytdlp.Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("media rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	result, err := s.run(ctx, op, cmd, target)
	s.logger.Printf("[DEBUG] yt-dlp %s %s finished in %v (err=%v)", op, target, time.Since(started), err)
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("yt-dlp %s: %w", target, ctxErr)
	}
	if isNotFound(result, err) {
		return nil, nil
	}
	return nil, fmt.Errorf("yt-dlp %s: %w", target, err)
}

// shared runs fn once per key for all concurrent callers. The shared run is
// detached from any single caller and bounded by the service timeout; each
// caller stops waiting when its own ctx is done.
func (s *YtdlpService) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("media %s: %w", key, err)
	}

	ch := s.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return fn(runCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("media %s: %w", key, ctx.Err())
	}
}

func isNotFound(result *ytdlp.Result, err error) bool {
	text := strings.ToLower(err.Error())
	if result != nil {
		text += "\n" + strings.ToLower(result.Stderr)
	}
	for _, marker := range notFoundMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// ==========================================================================
// Metadata
// ==========================================================================

// rawVideo is the subset of yt-dlp's info dict used here.
type rawVideo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Uploader    string  `json:"uploader"`
	Channel     string  `json:"channel"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	Thumbnail   string  `json:"thumbnail"`
	ViewCount   int64   `json:"view_count"`
	UploadDate  string  `json:"upload_date"`
	WebpageURL  string  `json:"webpage_url"`
	URL         string  `json:"url"`
}

func (v rawVideo) author() string {
	if v.Uploader != "" {
		return v.Uploader
	}
	return v.Channel
}

func (v rawVideo) pageURL() string {
	if v.WebpageURL != "" {
		return v.WebpageURL
	}
	if strings.HasPrefix(v.URL, "http") {
		return v.URL
	}
	return watchURLPrefix + v.ID
}

func (s *YtdlpService) videoInfo(ctx context.Context, id string) (*VideoInfo, error) {
	value, err := s.shared(ctx, "info:"+id, func(ctx context.Context) (any, error) {
		result, err := s.invoke(ctx, opInfo, s.command().DumpJSON().NoPlaylist(), watchURLPrefix+id)
		if err != nil || result == nil {
			return (*VideoInfo)(nil), err
		}

		var raw rawVideo
		if err := json.Unmarshal([]byte(firstLine(result.Stdout)), &raw); err != nil {
			return (*VideoInfo)(nil), fmt.Errorf("failed to decode video info: %w", err)
		}
		if raw.ID == "" {
			return (*VideoInfo)(nil), nil
		}
		return &VideoInfo{
			ID:          raw.ID,
			Title:       raw.Title,
			Author:      raw.author(),
			Description: raw.Description,
			Duration:    raw.Duration,
			Thumbnail:   raw.Thumbnail,
			ViewCount:   raw.ViewCount,
			UploadDate:  raw.UploadDate,
			URL:         raw.pageURL(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*VideoInfo), nil
}

// FetchInfo returns the video's metadata as JSON, or "" if it doesn't exist.
func (s *YtdlpService) FetchInfo(ctx context.Context, id string) (string, error) {
	if !ValidID(id) {
		return "", nil
	}
	info, err := s.videoInfo(ctx, id)
	if err != nil || info == nil {
		return "", err
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to encode video info: %w", err)
	}
	return string(payload), nil
}

// ==========================================================================
// Search
// ==========================================================================

// SearchMedia returns a JSON array of results, or "" when nothing matched.
func (s *YtdlpService) SearchMedia(ctx context.Context, query string, maxResults int) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" || maxResults <= 0 {
		return "", nil
	}

	key := "search:" + strconv.Itoa(maxResults) + ":" + query
	value, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		target := fmt.Sprintf("ytsearch%d:%s", maxResults, query)
		result, err := s.invoke(ctx, opSearch, s.command().DumpJSON().FlatPlaylist(), target)
		if err != nil || result == nil {
			return "", err
		}

		results, err := parseSearchResults(result.Stdout)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "", nil
		}
		payload, err := json.Marshal(results)
		if err != nil {
			return "", fmt.Errorf("failed to encode search results: %w", err)
		}
		return string(payload), nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// parseSearchResults decodes yt-dlp's one-object-per-line output.
func parseSearchResults(stdout string) ([]SearchResult, error) {
	results := make([]SearchResult, 0)
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var raw rawVideo
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("failed to decode search result: %w", err)
		}
		if raw.ID == "" {
			continue
		}
		results = append(results, SearchResult{
			ID:        raw.ID,
			Title:     raw.Title,
			Author:    raw.author(),
			Duration:  raw.Duration,
			Thumbnail: raw.Thumbnail,
			URL:       raw.pageURL(),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search output: %w", err)
	}
	return results, nil
}

// ==========================================================================
// Audio
// ==========================================================================

// ResolveAudio downloads the video's audio as mp3 into a private temp dir.
// The returned stream removes that dir when closed.
func (s *YtdlpService) ResolveAudio(ctx context.Context, id string, quality int) (AudioResult, error) {
	if !ValidID(id) {
		return AudioResult{}, nil
	}

	info, err := s.videoInfo(ctx, id)
	if err != nil || info == nil {
		return AudioResult{}, err
	}

	metadata, err := json.Marshal(info)
	if err != nil {
		return AudioResult{}, fmt.Errorf("failed to encode video info: %w", err)
	}
	found := AudioResult{Name: FileName(info.Title, id), Metadata: string(metadata)}

	dir, err := os.MkdirTemp(s.workDir, "dl-")
	if err != nil {
		return AudioResult{}, fmt.Errorf("failed to create download dir: %w", err)
	}

	level := ClampQuality(quality)
	cmd := s.command().
		NoPlaylist().
		ExtractAudio().
		AudioFormat("mp3").
		AudioQuality(level.AudioQuality()).
		Output(filepath.Join(dir, "%(id)s.%(ext)s"))

	s.logger.Printf("[DEBUG] Downloading %s at %s quality", id, level)
	result, err := s.invoke(ctx, opDownload, cmd, watchURLPrefix+id)
	if err != nil || result == nil {
		os.RemoveAll(dir)
		// Metadata without a stream still lets the caller report it.
		return AudioResult{Metadata: found.Metadata}, err
	}

	path, err := findAudioFile(dir)
	if err != nil {
		os.RemoveAll(dir)
		return AudioResult{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		os.RemoveAll(dir)
		return AudioResult{}, fmt.Errorf("failed to open downloaded audio: %w", err)
	}

	found.Stream = &tempFileStream{File: file, dir: dir}
	return found, nil
}

func findAudioFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read download dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), audioExt) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", errors.New("yt-dlp produced no audio file")
}

// tempFileStream is a downloaded file whose directory is removed on Close.
type tempFileStream struct {
	*os.File
	dir string
}

func (t *tempFileStream) Close() error {
	err := t.File.Close()
	if rmErr := os.RemoveAll(t.dir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// FileName builds a download filename from a video title, falling back to id.
func FileName(title, id string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r == '"' || r == '\\' || r == '/' || r == ':' || r == '*' || r == '?' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case r < 0x20 || r == 0x7f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	name := strings.Trim(b.String(), " .")
	if name == "" {
		name = id
	}
	return name + audioExt
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
