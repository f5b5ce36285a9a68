package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docqa/internal/domain"
	"docqa/internal/telemetry"
)

type QueryOptions struct {
	Collection string
	TopK       int
	// MinScore drops results scoring below it; nil keeps everything.
	MinScore *float64
}

// QueryPipeline answers questions from the chunks of one collection.
type QueryPipeline struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	answerer domain.Answerer
	opts     QueryOptions
	log      logrus.FieldLogger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

func NewQueryPipeline(c Components, opts QueryOptions, log logrus.FieldLogger, metrics *telemetry.Metrics) *QueryPipeline {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &QueryPipeline{
		embedder: c.Embedder,
		index:    c.Index,
		answerer: c.Answerer,
		opts:     opts,
		log:      log.WithField("collection", opts.Collection),
		metrics:  metrics,
		tracer:   telemetry.Tracer(),
	}
}

// Answer retrieves context for req.Query and asks the answerer. A query
// matching nothing is still answered, with an empty context.
func (q *QueryPipeline) Answer(ctx context.Context, req domain.AnswerRequest) (resp *domain.AnswerResponse, err error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidArgument)
	}

	start := time.Now()
	ctx, span := q.tracer.Start(ctx, "answer", trace.WithAttributes(
		attribute.String("collection", q.opts.Collection),
		attribute.Int("top_k", q.opts.TopK),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			q.log.WithError(err).Warn("answer failed")
		}
		q.metrics.RecordQuery(ctx, q.opts.Collection, err == nil, time.Since(start))
		span.End()
	}()

	vector, err := q.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	results, err := q.index.Search(ctx, q.opts.Collection, vector, q.opts.TopK)
	if err != nil {
		return nil, err
	}

	contexts := make([]string, 0, len(results))
	for _, r := range results {
		if q.opts.MinScore != nil && r.Score < *q.opts.MinScore {
			continue
		}
		contexts = append(contexts, r.Text)
	}
	span.SetAttributes(attribute.Int("context_chunks", len(contexts)))

	answer, err := q.answerer.Generate(ctx, BuildPrompt(contexts, req.Query))
	if err != nil {
		return nil, err
	}

	q.log.WithFields(logrus.Fields{
		"provider":       q.answerer.Name(),
		"context_chunks": len(contexts),
	}).Debug("question answered")
	return &domain.AnswerResponse{Answer: answer, ContextUsed: contexts}, nil
}
