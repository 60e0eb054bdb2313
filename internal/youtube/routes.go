// Package youtube exposes the audio download, info and search endpoints.
package youtube

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/tunegate/internal/api"
	"github.com/strefethen/tunegate/internal/apperrors"
	"github.com/strefethen/tunegate/internal/audit"
	"github.com/strefethen/tunegate/internal/auth"
	"github.com/strefethen/tunegate/internal/media"
)

const (
	// RoutePrefix is where the endpoints are mounted.
	RoutePrefix = "/api/yt"

	// MetadataHeader carries the video metadata on download responses.
	MetadataHeader = "Metadata"

	DefaultMaxResults = 10
)

// Client-facing not-found reasons.
const (
	reasonIDNotFound    = "Id couldn't be found"
	reasonVideoNotFound = "Video doesn't exist"
	reasonNoVideos      = "No videos found"
)

// Options configures the router.
type Options struct {
	// TrustedProxies lists peer IPs whose X-Forwarded-For is honored.
	TrustedProxies []string
	// SplitErrors reports upstream failures as 503 instead of 404.
	SplitErrors bool
	Logger      *log.Logger
}

type router struct {
	media  media.Service
	sink   audit.Sink
	opts   Options
	logger *log.Logger
}

// ==========================================================================
// Route Registration
// ==========================================================================

// RegisterRoutes wires the media endpoints to the router.
func RegisterRoutes(r chi.Router, svc media.Service, sink audit.Sink, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if sink == nil {
		sink = audit.Discard
	}
	h := &router{media: svc, sink: sink, opts: opts, logger: logger}

	r.Method(http.MethodGet, RoutePrefix+"/search", api.Handler(h.search))
	r.Method(http.MethodGet, RoutePrefix+"/{id}/download", api.Handler(h.download))
	r.Method(http.MethodGet, RoutePrefix+"/{id}/info", api.Handler(h.info))
}

// ==========================================================================
// Handlers
// ==========================================================================

// download streams the audio for a video.
// GET /api/yt/{id}/download?quality=<int>&appendMetadata=<bool>
func (h *router) download(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	query := r.URL.Query()
	quality := intParam(query.Get("quality"), int(media.QualityBest))
	appendMetadata := boolParam(query.Get("appendMetadata"))

	result, err := h.media.ResolveAudio(r.Context(), id, quality)
	if result.Stream != nil {
		defer result.Stream.Close()
	}

	if appendMetadata && result.Metadata != "" {
		w.Header().Set(MetadataHeader, result.Metadata)
	}

	if err != nil {
		return h.failure(r.Context(), "download", id, err, apperrors.ErrorCodeVideoNotFound, reasonIDNotFound)
	}
	if !result.Found() {
		return apperrors.NewMediaNotFound(apperrors.ErrorCodeVideoNotFound, reasonIDNotFound)
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", contentDisposition(result.Name, id))
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, result.Stream)
	if err != nil {
		// Headers are gone; all that is left is to stop.
		h.logger.Printf("Download of %s aborted after %d bytes: %v (request_id=%s)",
			id, written, err, api.GetRequestID(r))
		return nil
	}

	h.record(r, fmt.Sprintf("Downloaded '%s'", id))
	return nil
}

// info returns the video's metadata document verbatim.
// GET /api/yt/{id}/info
func (h *router) info(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")

	payload, err := h.media.FetchInfo(r.Context(), id)
	if err != nil {
		return h.failure(r.Context(), "info", id, err, apperrors.ErrorCodeVideoNotFound, reasonVideoNotFound)
	}
	if payload == "" {
		return apperrors.NewMediaNotFound(apperrors.ErrorCodeVideoNotFound, reasonVideoNotFound)
	}

	if err := api.WriteRawJSON(w, http.StatusOK, payload); err != nil {
		return nil
	}
	h.record(r, fmt.Sprintf("Get info of '%s'", id))
	return nil
}

// search returns the search results document verbatim.
// GET /api/yt/search?query=<string>&maxResults=<int>
func (h *router) search(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	term := query.Get("query")
	maxResults := intParam(query.Get("maxResults"), DefaultMaxResults)

	payload, err := h.media.SearchMedia(r.Context(), term, maxResults)
	if err != nil {
		return h.failure(r.Context(), "search", term, err, apperrors.ErrorCodeNoResults, reasonNoVideos)
	}
	if payload == "" {
		return apperrors.NewMediaNotFound(apperrors.ErrorCodeNoResults, reasonNoVideos)
	}

	if err := api.WriteRawJSON(w, http.StatusOK, payload); err != nil {
		return nil
	}
	h.record(r, fmt.Sprintf("Search for '%s' with %d results", term, maxResults))
	return nil
}

// ==========================================================================
// Helper Functions
// ==========================================================================

// failure logs an upstream error and maps it onto the client response.
func (h *router) failure(ctx context.Context, op, target string, err error, code apperrors.ErrorCode, reason string) error {
	h.logger.Printf("Media %s failed for %q: %v (request_id=%s)", op, target, err, api.RequestIDFromContext(ctx))
	if h.opts.SplitErrors && ctx.Err() == nil {
		return apperrors.NewServiceUnavailableError("Media service unavailable")
	}
	return apperrors.NewMediaNotFound(code, reason)
}

func (h *router) record(r *http.Request, message string) {
	h.sink.Write(audit.LogEntry{
		Origin:    api.ClientOrigin(r, h.opts.TrustedProxies),
		Message:   message,
		RequestID: api.GetRequestID(r),
		Subject:   auth.SubjectFromContext(r.Context()),
	})
}

func intParam(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func boolParam(raw string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && value
}

// contentDisposition builds an attachment header, adding an RFC 5987
// filename* parameter when the name is not plain ASCII.
func contentDisposition(name, id string) string {
	if name == "" {
		name = id + ".mp3"
	}

	fallback := strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\\':
			return '_'
		case r > unicode.MaxASCII || unicode.IsControl(r):
			return '_'
		default:
			return r
		}
	}, name)

	header := fmt.Sprintf("attachment; filename=\"%s\"", fallback)
	if fallback != name {
		header += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return header
}
