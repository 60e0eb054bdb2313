package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/tunegate/internal/api"
	"github.com/strefethen/tunegate/internal/audit"
	"github.com/strefethen/tunegate/internal/auth"
	"github.com/strefethen/tunegate/internal/media"
)

// ==========================================================================
// Fakes
// ==========================================================================

type trackingStream struct {
	io.Reader
	closed bool
}

func (s *trackingStream) Close() error {
	s.closed = true
	return nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("upstream connection reset")
}

type fakeMedia struct {
	audio    media.AudioResult
	info     string
	search   string
	err      error
	quality  int
	query    string
	max      int
	calledID string
}

func (f *fakeMedia) ResolveAudio(_ context.Context, id string, quality int) (media.AudioResult, error) {
	f.calledID = id
	f.quality = quality
	return f.audio, f.err
}

func (f *fakeMedia) FetchInfo(_ context.Context, id string) (string, error) {
	f.calledID = id
	return f.info, f.err
}

func (f *fakeMedia) SearchMedia(_ context.Context, query string, maxResults int) (string, error) {
	f.query = query
	f.max = maxResults
	return f.search, f.err
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.LogEntry
}

func (s *recordingSink) Write(entry audit.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *recordingSink) Entries() []audit.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.LogEntry(nil), s.entries...)
}

// ==========================================================================
// Helpers
// ==========================================================================

func newTestRouter(svc media.Service, sink audit.Sink, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	router := chi.NewRouter()
	router.Use(api.RequestIDMiddleware)
	RegisterRoutes(router, svc, sink, opts)
	return router
}

func doGet(handler http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "198.51.100.7:5123"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// ==========================================================================
// Download
// ==========================================================================

func TestDownload_StreamsAudio(t *testing.T) {
	stream := &trackingStream{Reader: bytes.NewReader(make([]byte, 5000))}
	svc := &fakeMedia{audio: media.AudioResult{Stream: stream, Name: "song.mp3", Metadata: `{"id":"abc123"}`}}
	sink := &recordingSink{}

	rec := doGet(newTestRouter(svc, sink, Options{}), "/api/yt/abc123/download")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="song.mp3"`, rec.Header().Get("Content-Disposition"))
	require.Len(t, rec.Body.Bytes(), 5000)
	require.Empty(t, rec.Header().Get(MetadataHeader))
	require.True(t, stream.closed)
	require.Equal(t, "abc123", svc.calledID)
	require.Equal(t, 0, svc.quality)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "Downloaded 'abc123'", entries[0].Message)
	require.Equal(t, "198.51.100.7:5123", entries[0].Origin)
	require.Equal(t, rec.Header().Get(api.RequestIDHeader), entries[0].RequestID)
}

func TestDownload_AppendMetadata(t *testing.T) {
	stream := &trackingStream{Reader: bytes.NewReader([]byte("mp3"))}
	svc := &fakeMedia{audio: media.AudioResult{Stream: stream, Name: "song.mp3", Metadata: `{"id":"abc123"}`}}

	rec := doGet(newTestRouter(svc, &recordingSink{}, Options{}), "/api/yt/abc123/download?appendMetadata=true&quality=2")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `{"id":"abc123"}`, rec.Header().Get(MetadataHeader))
	require.Equal(t, 2, svc.quality)
}

func TestDownload_EmptyMetadataOmitsHeader(t *testing.T) {
	stream := &trackingStream{Reader: bytes.NewReader([]byte("mp3"))}
	svc := &fakeMedia{audio: media.AudioResult{Stream: stream, Name: "song.mp3"}}

	rec := doGet(newTestRouter(svc, &recordingSink{}, Options{}), "/api/yt/abc123/download?appendMetadata=true")

	require.Equal(t, http.StatusOK, rec.Code)
	_, present := rec.Header()[MetadataHeader]
	require.False(t, present)
}

func TestDownload_NotFound(t *testing.T) {
	svc := &fakeMedia{}
	sink := &recordingSink{}

	rec := doGet(newTestRouter(svc, sink, Options{}), "/api/yt/missing/download")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	require.Equal(t, "Id couldn't be found", body.Error.Message)
	require.Equal(t, "VIDEO_NOT_FOUND", body.Error.Code)
	require.Empty(t, sink.Entries())
}

func TestDownload_NotFoundStillCarriesMetadata(t *testing.T) {
	svc := &fakeMedia{audio: media.AudioResult{Metadata: `{"id":"x"}`}}
	sink := &recordingSink{}

	rec := doGet(newTestRouter(svc, sink, Options{}), "/api/yt/x/download?appendMetadata=true")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, `{"id":"x"}`, rec.Header().Get(MetadataHeader))
	require.Empty(t, sink.Entries())
}

func TestDownload_QualityParsing(t *testing.T) {
	cases := map[string]int{
		"":    0,
		"abc": 0,
		"1":   1,
		"7":   7,
		"-1":  -1,
		" 2 ": 2,
	}
	for raw, want := range cases {
		svc := &fakeMedia{}
		doGet(newTestRouter(svc, &recordingSink{}, Options{}), "/api/yt/abc123/download?quality="+url.QueryEscape(raw))
		require.Equal(t, want, svc.quality, "quality=%q", raw)
	}
}

func TestDownload_UnparsableAppendMetadataIsFalse(t *testing.T) {
	stream := &trackingStream{Reader: bytes.NewReader([]byte("mp3"))}
	svc := &fakeMedia{audio: media.AudioResult{Stream: stream, Name: "song.mp3", Metadata: "{}"}}

	rec := doGet(newTestRouter(svc, &recordingSink{}, Options{}), "/api/yt/abc123/download?appendMetadata=yes-please")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get(MetadataHeader))
}

func TestDownload_CopyFailureClosesStreamWithoutAudit(t *testing.T) {
	stream := &trackingStream{Reader: failingReader{}}
	svc := &fakeMedia{audio: media.AudioResult{Stream: stream, Name: "song.mp3"}}
	sink := &recordingSink{}

	rec := doGet(newTestRouter(svc, sink, Options{}), "/api/yt/abc123/download")

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, stream.closed)
	require.Empty(t, sink.Entries())
}

func TestDownload_NonASCIIName(t *testing.T) {
	stream := &trackingStream{Reader: bytes.NewReader([]byte("mp3"))}
	svc := &fakeMedia{audio: media.AudioResult{Stream: stream, Name: "café.mp3"}}

	rec := doGet(newTestRouter(svc, &recordingSink{}, Options{}), "/api/yt/abc123/download")

	require.Equal(t, `attachment; filename="caf_.mp3"; filename*=UTF-8''caf%C3%A9.mp3`,
		rec.Header().Get("Content-Disposition"))
}

// ==========================================================================
// Info
// ==========================================================================

func TestInfo_ReturnsPayloadVerbatim(t *testing.T) {
	payload := `{"id":"abc123","title":"Song"}`
	svc := &fakeMedia{info: payload}
	sink := &recordingSink{}

	rec := doGet(newTestRouter(svc, sink, Options{}), "/api/yt/abc123/info")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, payload, rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	entries := sink.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "Get info of 'abc123'", entries[0].Message)
}

func TestInfo_NotFound(t *testing.T) {
	sink := &recordingSink{}

	rec := doGet(newTestRouter(&fakeMedia{}, sink, Options{}), "/api/yt/nope/info")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Video doesn't exist", decodeError(t, rec).Error.Message)
	require.Empty(t, sink.Entries())
}

// ==========================================================================
// Search
// ==========================================================================

func TestSearch_EmptyArrayIsSuccess(t *testing.T) {
	svc := &fakeMedia{search: "[]"}
	sink := &recordingSink{}

	rec := doGet(newTestRouter(svc, sink, Options{}), "/api/yt/search?query=test&maxResults=5")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]", rec.Body.String())
	require.Equal(t, "test", svc.query)
	require.Equal(t, 5, svc.max)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "Search for 'test' with 5 results", entries[0].Message)
}

func TestSearch_DefaultMaxResults(t *testing.T) {
	for _, target := range []string{
		"/api/yt/search?query=lofi",
		"/api/yt/search?query=lofi&maxResults=lots",
	} {
		svc := &fakeMedia{search: `[{"id":"a"}]`}
		sink := &recordingSink{}

		rec := doGet(newTestRouter(svc, sink, Options{}), target)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, DefaultMaxResults, svc.max)
		require.Equal(t, "Search for 'lofi' with 10 results", sink.Entries()[0].Message)
	}
}

func TestSearch_LargeMaxResultsPassedThrough(t *testing.T) {
	svc := &fakeMedia{search: "[]"}

	doGet(newTestRouter(svc, &recordingSink{}, Options{}), "/api/yt/search?query=x&maxResults=500")

	require.Equal(t, 500, svc.max)
}

func TestSearch_NoResults(t *testing.T) {
	sink := &recordingSink{}

	rec := doGet(newTestRouter(&fakeMedia{}, sink, Options{}), "/api/yt/search?query=zzzz")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	require.Equal(t, "No videos found", body.Error.Message)
	require.Equal(t, "NO_RESULTS", body.Error.Code)
	require.Empty(t, sink.Entries())
}

// ==========================================================================
// Failures
// ==========================================================================

func TestUpstreamErrorCollapsesToNotFound(t *testing.T) {
	svc := &fakeMedia{err: errors.New("yt-dlp exploded"), info: "ignored", search: "ignored"}
	sink := &recordingSink{}
	handler := newTestRouter(svc, sink, Options{})

	for target, reason := range map[string]string{
		"/api/yt/abc123/download":  "Id couldn't be found",
		"/api/yt/abc123/info":      "Video doesn't exist",
		"/api/yt/search?query=abc": "No videos found",
	} {
		rec := doGet(handler, target)
		require.Equal(t, http.StatusNotFound, rec.Code, target)
		require.Equal(t, reason, decodeError(t, rec).Error.Message, target)
	}
	require.Empty(t, sink.Entries())
}

func TestUpstreamErrorSplitMode(t *testing.T) {
	svc := &fakeMedia{err: errors.New("yt-dlp exploded")}
	sink := &recordingSink{}
	handler := newTestRouter(svc, sink, Options{SplitErrors: true})

	for _, target := range []string{"/api/yt/abc123/download", "/api/yt/abc123/info", "/api/yt/search?query=abc"} {
		rec := doGet(handler, target)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
		require.Equal(t, "MEDIA_UNAVAILABLE", decodeError(t, rec).Error.Code)
	}

	// Absent results are still 404 in split mode.
	svc.err = nil
	rec := doGet(handler, "/api/yt/abc123/info")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, sink.Entries())
}

// ==========================================================================
// Audit attribution
// ==========================================================================

func TestAuditCarriesSubjectAndForwardedOrigin(t *testing.T) {
	svc := &fakeMedia{info: `{}`}
	sink := &recordingSink{}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithDevice(r.Context(), auth.Device{ID: "device-42", Name: "Desk"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	RegisterRoutes(router, svc, sink, Options{
		TrustedProxies: []string{"10.0.0.1"},
		Logger:         log.New(io.Discard, "", 0),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/yt/abc123/info", nil)
	req.RemoteAddr = "10.0.0.1:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	entries := sink.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "Desk (device-42)", entries[0].Subject)
	require.Equal(t, "203.0.113.9", entries[0].Origin)
}

func TestNilSinkIsAllowed(t *testing.T) {
	svc := &fakeMedia{info: `{}`}
	rec := doGet(newTestRouter(svc, nil, Options{}), "/api/yt/abc123/info")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestContentDisposition(t *testing.T) {
	require.Equal(t, `attachment; filename="abc.mp3"`, contentDisposition("", "abc"))
	require.Equal(t, `attachment; filename="a_b.mp3"; filename*=UTF-8''a%22b.mp3`, contentDisposition(`a"b.mp3`, "x"))
}

// blockingMedia parks every call until the caller's context ends and records
// what the context reported.
type blockingMedia struct {
	entered chan struct{}
	mu      sync.Mutex
	ctxErr  error
}

func newBlockingMedia() *blockingMedia {
	return &blockingMedia{entered: make(chan struct{}, 1)}
}

func (b *blockingMedia) wait(ctx context.Context) error {
	b.entered <- struct{}{}
	<-ctx.Done()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctxErr = ctx.Err()
	return b.ctxErr
}

func (b *blockingMedia) seenErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctxErr
}

func (b *blockingMedia) ResolveAudio(ctx context.Context, _ string, _ int) (media.AudioResult, error) {
	return media.AudioResult{}, b.wait(ctx)
}

func (b *blockingMedia) FetchInfo(ctx context.Context, _ string) (string, error) {
	return "", b.wait(ctx)
}

func (b *blockingMedia) SearchMedia(ctx context.Context, _ string, _ int) (string, error) {
	return "", b.wait(ctx)
}

func TestClientDisconnectCancelsMediaCall(t *testing.T) {
	for _, target := range []string{
		"/api/yt/abc123/download",
		"/api/yt/abc123/info",
		"/api/yt/search?query=lofi",
	} {
		t.Run(target, func(t *testing.T) {
			svc := newBlockingMedia()
			sink := &recordingSink{}
			handler := newTestRouter(svc, sink, Options{SplitErrors: true})

			ctx, cancel := context.WithCancel(context.Background())
			req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
			rec := httptest.NewRecorder()
			done := make(chan struct{})
			go func() {
				defer close(done)
				handler.ServeHTTP(rec, req)
			}()

			<-svc.entered
			cancel()
			<-done

			require.ErrorIs(t, svc.seenErr(), context.Canceled)
			require.NotEqual(t, http.StatusServiceUnavailable, rec.Code)
			require.Empty(t, sink.Entries())
		})
	}
}
