package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"docqa/internal/domain"
	"docqa/internal/telemetry"
)

// IngestOptions controls a single-collection ingestion pipeline. The
// collection dimension is taken from the embedder.
type IngestOptions struct {
	Collection      string
	Distance        domain.Distance
	BatchSize       int
	Workers         int
	UpsertBatchSize int
}

// IngestionPipeline turns a document into an indexed collection. Running it
// against a collection that already exists is a no-op.
type IngestionPipeline struct {
	extractor domain.Extractor
	chunker   domain.Chunker
	embedder  domain.Embedder
	index     domain.VectorIndex
	opts      IngestOptions
	log       logrus.FieldLogger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

func NewIngestionPipeline(c Components, opts IngestOptions, log logrus.FieldLogger, metrics *telemetry.Metrics) *IngestionPipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.UpsertBatchSize <= 0 {
		opts.UpsertBatchSize = 64
	}
	if opts.Distance == "" {
		opts.Distance = domain.DistanceCosine
	}
	return &IngestionPipeline{
		extractor: c.Extractor,
		chunker:   c.Chunker,
		embedder:  c.Embedder,
		index:     c.Index,
		opts:      opts,
		log:       log.WithField("collection", opts.Collection),
		metrics:   metrics,
		tracer:    telemetry.Tracer(),
	}
}

// Run ingests doc unless the collection already exists.
func (p *IngestionPipeline) Run(ctx context.Context, doc domain.SourceDocument) (*domain.IngestReport, error) {
	return p.run(ctx, doc, false)
}

// Rebuild drops the collection and ingests doc again. It is the way to
// recover from an interrupted ingestion.
func (p *IngestionPipeline) Rebuild(ctx context.Context, doc domain.SourceDocument) (*domain.IngestReport, error) {
	return p.run(ctx, doc, true)
}

type ingestRun struct {
	report *domain.IngestReport
	log    logrus.FieldLogger
	span   trace.Span
	start  time.Time
}

func (r *ingestRun) transition(state domain.IngestState) {
	r.report.State = state
	r.span.AddEvent(string(state))
	r.log.WithField("state", state).Debug("ingestion state changed")
}

func (p *IngestionPipeline) run(ctx context.Context, doc domain.SourceDocument, recreate bool) (*domain.IngestReport, error) {
	ctx, span := p.tracer.Start(ctx, "ingest", trace.WithAttributes(
		attribute.String("collection", p.opts.Collection),
		attribute.String("document", doc.Path),
		attribute.Bool("recreate", recreate),
	))
	defer span.End()

	r := &ingestRun{
		report: &domain.IngestReport{RunID: uuid.NewString(), Collection: p.opts.Collection, State: domain.StateNotStarted},
		span:   span,
		start:  time.Now(),
	}
	r.log = p.log.WithFields(logrus.Fields{"run_id": r.report.RunID, "document": doc.Path})

	err := p.steps(ctx, r, doc, recreate)
	r.report.Duration = time.Since(r.start)
	if err != nil {
		r.report.Err = err
		r.transition(domain.StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.WithError(err).Error("ingestion failed")
	} else {
		r.log.WithFields(logrus.Fields{
			"state":    r.report.State,
			"chunks":   r.report.Chunks,
			"points":   r.report.Points,
			"duration": r.report.Duration,
		}).Info("ingestion finished")
	}
	p.metrics.RecordIngest(ctx, p.opts.Collection, string(r.report.State), r.report.Duration)
	return r.report, err
}

func (p *IngestionPipeline) steps(ctx context.Context, r *ingestRun, doc domain.SourceDocument, recreate bool) error {
	if !recreate {
		exists, err := p.index.CollectionExists(ctx, p.opts.Collection)
		if err != nil {
			return err
		}
		if exists {
			r.transition(domain.StateSkippedAlreadyIndexed)
			return nil
		}
	}

	dimension := p.embedder.Dimension()
	if dimension <= 0 {
		return fmt.Errorf("%w: embedder %s reports dimension %d", domain.ErrConfiguration, p.embedder.Name(), dimension)
	}

	r.transition(domain.StateExtracting)
	text, err := p.extractor.Extract(ctx, doc)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s", domain.ErrNoContent, doc.Path)
	}

	r.transition(domain.StateChunking)
	chunks, err := p.chunker.Split(text)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: %s produced no chunks", domain.ErrNoContent, doc.Path)
	}
	r.report.Chunks = len(chunks)

	r.transition(domain.StateEmbedding)
	vectors, err := p.embedAll(ctx, chunks, dimension)
	if err != nil {
		return err
	}
	p.metrics.RecordChunksEmbedded(ctx, p.embedder.Name(), len(chunks))

	r.transition(domain.StateIndexing)
	collection := domain.Collection{Name: p.opts.Collection, Dimension: dimension, Distance: p.opts.Distance}
	if recreate {
		err = p.index.RecreateCollection(ctx, collection)
	} else {
		err = p.index.CreateCollection(ctx, collection)
	}
	if errors.Is(err, domain.ErrAlreadyExists) {
		// another ingester created it after our existence check
		r.transition(domain.StateSkippedAlreadyIndexed)
		return nil
	}
	if err != nil {
		return err
	}

	points := make([]domain.IndexedPoint, len(chunks))
	for i, c := range chunks {
		points[i] = domain.IndexedPoint{ID: uint64(c.Index), Vector: vectors[i], Payload: domain.Payload{Text: c.Text}}
	}
	for start := 0; start < len(points); start += p.opts.UpsertBatchSize {
		end := min(start+p.opts.UpsertBatchSize, len(points))
		if err := p.index.Upsert(ctx, p.opts.Collection, points[start:end]); err != nil {
			if errors.Is(err, domain.ErrIndex) {
				return err
			}
			return fmt.Errorf("%w: upsert points %d-%d: %w", domain.ErrIndex, start, end-1, err)
		}
		r.report.Points = end
	}

	r.transition(domain.StateIndexed)
	return nil
}

// embedAll embeds chunks in fixed batches on a bounded pool. Vectors are
// placed by chunk position so completion order does not matter.
func (p *IngestionPipeline) embedAll(ctx context.Context, chunks []domain.Chunk, dimension int) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		start, end := start, min(start+p.opts.BatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = chunks[start+i].Text
			}
			batch, err := p.embedder.EmbedMany(gctx, texts)
			if err != nil {
				return err
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("%w: %s returned %d vectors for %d chunks", domain.ErrEmbedding, p.embedder.Name(), len(batch), len(texts))
			}
			for i, v := range batch {
				if len(v) != dimension {
					return fmt.Errorf("%w: chunk %d embedded to dimension %d, expected %d", domain.ErrEmbedding, start+i, len(v), dimension)
				}
				vectors[start+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
