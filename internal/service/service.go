package service

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"docqa/internal/domain"
	"docqa/internal/telemetry"
)

// Components are the adapters shared by both pipelines.
type Components struct {
	Extractor domain.Extractor
	Chunker   domain.Chunker
	Embedder  domain.Embedder
	Index     domain.VectorIndex
	Answerer  domain.Answerer
}

// Options configures both pipelines for one collection.
type Options struct {
	Ingest IngestOptions
	Query  QueryOptions
}

// Service is the caller-facing entry point: index a document once, then
// answer questions about it.
type Service struct {
	components Components
	ingest     *IngestionPipeline
	query      *QueryPipeline
}

func New(c Components, opts Options, log logrus.FieldLogger, metrics *telemetry.Metrics) *Service {
	return &Service{
		components: c,
		ingest:     NewIngestionPipeline(c, opts.Ingest, log, metrics),
		query:      NewQueryPipeline(c, opts.Query, log, metrics),
	}
}

// IndexDocument ingests doc; it does nothing when the collection already exists.
func (s *Service) IndexDocument(ctx context.Context, doc domain.SourceDocument) (*domain.IngestReport, error) {
	return s.ingest.Run(ctx, doc)
}

// ReindexDocument drops and rebuilds the collection from doc.
func (s *Service) ReindexDocument(ctx context.Context, doc domain.SourceDocument) (*domain.IngestReport, error) {
	return s.ingest.Rebuild(ctx, doc)
}

func (s *Service) AnswerQuestion(ctx context.Context, query string) (*domain.AnswerResponse, error) {
	return s.query.Answer(ctx, domain.AnswerRequest{Query: query})
}

// Close releases the index and any provider clients.
func (s *Service) Close() error {
	var errs []error
	if s.components.Index != nil {
		errs = append(errs, s.components.Index.Close())
	}
	for _, c := range []any{s.components.Embedder, s.components.Answerer} {
		if closer, ok := c.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
