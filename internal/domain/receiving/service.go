package receiving

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/seattleflu/id3c-sub000/internal/platform/metrics"
)

// Service is the only write path into the receiving log from outside the
// reconciliation engine: callers supply the document, the database assigns
// everything else.
type Service struct {
	repo    Repository
	logger  zerolog.Logger
	metrics *metrics.HTTPMetrics
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "receiving").Logger()}
}

// SetMetrics attaches optional Prometheus collectors.
func (s *Service) SetMetrics(m *metrics.HTTPMetrics) {
	s.metrics = m
}

// Receive appends one JSON document to table.
func (s *Service) Receive(ctx context.Context, table Table, body []byte) (int64, error) {
	if !json.Valid(body) {
		return 0, &BadDocumentError{Err: errors.New("not valid JSON")}
	}
	id, err := s.repo.Insert(ctx, table, body)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordDocuments(string(table), "api", 1)
	s.logger.Debug().Str("table", string(table)).Int64("id", id).Msg("received document")
	return id, nil
}

// Upload bulk-loads newline-delimited JSON documents into table and returns
// how many were copied. Blank lines are ignored.
func (s *Service) Upload(ctx context.Context, table Table, r io.Reader) (int64, error) {
	n, err := s.repo.CopyNDJSON(ctx, table, r)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordDocuments(string(table), "upload", n)
	s.logger.Info().Str("table", string(table)).Int64("documents", n).Msg("uploaded documents")
	return n, nil
}

// ProcessingLog returns the processing history of one document.
func (s *Service) ProcessingLog(ctx context.Context, table Table, id int64) ([]LogEntry, error) {
	return s.repo.ProcessingLog(ctx, table, id)
}
