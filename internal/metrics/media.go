package metrics

import (
	"context"
	"time"

	"github.com/strefethen/tunegate/internal/media"
)

type instrumentedMedia struct {
	next    media.Service
	metrics *Metrics
}

// InstrumentMedia wraps svc so every call is counted by outcome.
func InstrumentMedia(svc media.Service, m *Metrics) media.Service {
	return &instrumentedMedia{next: svc, metrics: m}
}

func (s *instrumentedMedia) ResolveAudio(ctx context.Context, id string, quality int) (media.AudioResult, error) {
	start := time.Now()
	result, err := s.next.ResolveAudio(ctx, id, quality)
	s.metrics.RecordMedia("download", outcome(result.Found(), err), time.Since(start))
	return result, err
}

func (s *instrumentedMedia) FetchInfo(ctx context.Context, id string) (string, error) {
	start := time.Now()
	payload, err := s.next.FetchInfo(ctx, id)
	s.metrics.RecordMedia("info", outcome(payload != "", err), time.Since(start))
	return payload, err
}

func (s *instrumentedMedia) SearchMedia(ctx context.Context, query string, maxResults int) (string, error) {
	start := time.Now()
	payload, err := s.next.SearchMedia(ctx, query, maxResults)
	s.metrics.RecordMedia("search", outcome(payload != "", err), time.Since(start))
	return payload, err
}

func outcome(found bool, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case found:
		return OutcomeFound
	default:
		return OutcomeNotFound
	}
}
