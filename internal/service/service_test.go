package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/extractor"
	"docqa/internal/logging"
	"docqa/internal/telemetry"
	"docqa/internal/vectorstore/memory"
)

// wordEmbedder marks the presence of each vocabulary word, so dot products
// count shared words.
type wordEmbedder struct {
	vocab []string
	fail  error

	mu    sync.Mutex
	calls int
}

func newWordEmbedder(vocab ...string) *wordEmbedder { return &wordEmbedder{vocab: vocab} }

func (e *wordEmbedder) Name() string   { return "words" }
func (e *wordEmbedder) Dimension() int { return len(e.vocab) }

func (e *wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *wordEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		words := make(map[string]bool)
		for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) }) {
			words[w] = true
		}
		v := make([]float32, len(e.vocab))
		for j, w := range e.vocab {
			if words[w] {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func (e *wordEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type countingExtractor struct {
	domain.Extractor
	calls int
}

func (c *countingExtractor) Extract(ctx context.Context, doc domain.SourceDocument) (string, error) {
	c.calls++
	return c.Extractor.Extract(ctx, doc)
}

// recordingAnswerer echoes a fixed answer and keeps the prompts it saw.
type recordingAnswerer struct {
	answer  string
	err     error
	prompts []string
}

func (a *recordingAnswerer) Name() string { return "recording" }

func (a *recordingAnswerer) Generate(_ context.Context, prompt string) (string, error) {
	a.prompts = append(a.prompts, prompt)
	if a.err != nil {
		return "", a.err
	}
	return a.answer, nil
}

// faultyIndex fails selected operations of the wrapped index.
type faultyIndex struct {
	domain.VectorIndex
	existsLies bool
	upsertErr  error

	mu       sync.Mutex
	upserted []domain.IndexedPoint
}

func (f *faultyIndex) CollectionExists(ctx context.Context, name string) (bool, error) {
	if f.existsLies {
		return false, nil
	}
	return f.VectorIndex.CollectionExists(ctx, name)
}

func (f *faultyIndex) Upsert(ctx context.Context, name string, points []domain.IndexedPoint) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	f.upserted = append(f.upserted, points...)
	f.mu.Unlock()
	return f.VectorIndex.Upsert(ctx, name, points)
}

const energyDoc = "Solar panels convert sunlight into electricity using photovoltaic cells.\n\n" +
	"Wind turbines generate power when the wind spins their blades.\n\n" +
	"Hydroelectric dams store water and release it through turbines."

var energyVocab = []string{"solar", "sunlight", "photovoltaic", "wind", "blades", "spins", "hydroelectric", "dams", "water", "turbines", "electricity", "power"}

type fixture struct {
	extractor *countingExtractor
	embedder  *wordEmbedder
	index     *faultyIndex
	answerer  *recordingAnswerer
	svc       *Service
	doc       domain.SourceDocument
}

func newFixture(t *testing.T, topK int) *fixture {
	t.Helper()
	ch, err := chunker.NewRecursiveChunker(80, 0)
	require.NoError(t, err)

	f := &fixture{
		extractor: &countingExtractor{Extractor: extractor.New(extractor.Config{})},
		embedder:  newWordEmbedder(energyVocab...),
		index:     &faultyIndex{VectorIndex: memory.NewStorage()},
		answerer:  &recordingAnswerer{answer: "Wind turbines."},
		doc:       domain.SourceDocument{Path: "energy.txt", Data: []byte(energyDoc)},
	}
	f.svc = New(Components{
		Extractor: f.extractor,
		Chunker:   ch,
		Embedder:  f.embedder,
		Index:     f.index,
		Answerer:  f.answerer,
	}, Options{
		Ingest: IngestOptions{Collection: "energy", Distance: domain.DistanceDot, BatchSize: 1, Workers: 3, UpsertBatchSize: 2},
		Query:  QueryOptions{Collection: "energy", TopK: topK},
	}, logging.Discard(), nil)
	return f
}

func TestIndexDocumentIsIdempotent(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	report, err := f.svc.IndexDocument(ctx, f.doc)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIndexed, report.State)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 3, report.Points)
	assert.NotEmpty(t, report.RunID)

	extractions, embeddings := f.extractor.calls, f.embedder.callCount()

	again, err := f.svc.IndexDocument(ctx, f.doc)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSkippedAlreadyIndexed, again.State)
	assert.NotEqual(t, report.RunID, again.RunID)
	assert.Equal(t, extractions, f.extractor.calls, "no extraction on skip")
	assert.Equal(t, embeddings, f.embedder.callCount(), "no embedding on skip")

	n, err := f.index.Count(ctx, "energy")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestVectorsArePlacedByChunkIndex(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.svc.IndexDocument(ctx, f.doc)
	require.NoError(t, err)

	require.Len(t, f.index.upserted, 3)
	for _, p := range f.index.upserted {
		want, err := f.embedder.Embed(ctx, p.Payload.Text)
		require.NoError(t, err)
		assert.Equal(t, want, p.Vector, "point %d", p.ID)
	}
}

func TestEmbeddingFailureLeavesNoCollection(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.embedder.fail = &domain.ProviderError{Kind: domain.ErrEmbedding, Provider: "words", StatusCode: 401}

	report, err := f.svc.IndexDocument(ctx, f.doc)
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Equal(t, domain.StateFailed, report.State)
	assert.ErrorIs(t, report.Err, domain.ErrEmbedding)

	exists, err := f.index.CollectionExists(ctx, "energy")
	require.NoError(t, err)
	assert.False(t, exists)

	f.embedder.fail = nil
	report, err = f.svc.IndexDocument(ctx, f.doc)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIndexed, report.State)
}

func TestEmptyDocumentFailsWithoutCollection(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	report, err := f.svc.IndexDocument(ctx, domain.SourceDocument{Path: "blank.txt", Data: []byte(" \n\n ")})
	assert.ErrorIs(t, err, domain.ErrNoContent)
	assert.Equal(t, domain.StateFailed, report.State)
	assert.Zero(t, f.embedder.callCount())

	exists, err := f.index.CollectionExists(ctx, "energy")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExtractionFailureIsReported(t *testing.T) {
	f := newFixture(t, 1)
	report, err := f.svc.IndexDocument(context.Background(), domain.SourceDocument{Path: "broken.pdf", Data: []byte("not a pdf")})
	assert.ErrorIs(t, err, domain.ErrExtraction)
	assert.Equal(t, domain.StateFailed, report.State)
	assert.Zero(t, f.embedder.callCount())
}

func TestUpsertFailureNeverReportsSuccess(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.index.upsertErr = errors.New("disk full")

	report, err := f.svc.IndexDocument(ctx, f.doc)
	assert.ErrorIs(t, err, domain.ErrIndex)
	assert.Equal(t, domain.StateFailed, report.State)
	assert.Zero(t, report.Points)

	// the half-built collection now blocks Run; Rebuild is the recovery path
	f.index.upsertErr = nil
	report, err = f.svc.IndexDocument(ctx, f.doc)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSkippedAlreadyIndexed, report.State)

	report, err = f.svc.ReindexDocument(ctx, f.doc)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIndexed, report.State)
	n, err := f.index.Count(ctx, "energy")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConcurrentIngesterWinsCreate(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.index.CreateCollection(ctx, domain.Collection{Name: "energy", Dimension: len(energyVocab), Distance: domain.DistanceDot}))
	f.index.existsLies = true

	report, err := f.svc.IndexDocument(ctx, f.doc)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSkippedAlreadyIndexed, report.State)
	assert.Empty(t, f.index.upserted)
}

func TestReindexReplacesPoints(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	_, err := f.svc.IndexDocument(ctx, f.doc)
	require.NoError(t, err)

	report, err := f.svc.ReindexDocument(ctx, domain.SourceDocument{Path: "short.txt", Data: []byte("Only solar power here.")})
	require.NoError(t, err)
	assert.Equal(t, domain.StateIndexed, report.State)
	assert.Equal(t, 1, report.Chunks)

	n, err := f.index.Count(ctx, "energy")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAnswerQuestionEndToEnd(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	_, err := f.svc.IndexDocument(ctx, f.doc)
	require.NoError(t, err)

	resp, err := f.svc.AnswerQuestion(ctx, "Which machines spin their blades in the wind?")
	require.NoError(t, err)
	assert.Equal(t, "Wind turbines.", resp.Answer)
	require.Len(t, resp.ContextUsed, 2)
	assert.Equal(t, "Wind turbines generate power when the wind spins their blades.", resp.ContextUsed[0])
	// the remaining chunks tie at zero; the lower id wins
	assert.Equal(t, "Solar panels convert sunlight into electricity using photovoltaic cells.", resp.ContextUsed[1])

	require.Len(t, f.answerer.prompts, 1)
	assert.Equal(t, BuildPrompt(resp.ContextUsed, "Which machines spin their blades in the wind?"), f.answerer.prompts[0])
}

func TestTwoPageDocumentAnswersFromFirstPage(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := telemetry.NewMetrics(mp.Meter("docqa"))
	require.NoError(t, err)

	ch, err := chunker.NewRecursiveChunker(200, 20)
	require.NoError(t, err)
	answerer := &recordingAnswerer{answer: "Alpha is the first page."}
	svc := New(Components{
		Extractor: extractor.New(extractor.Config{}),
		Chunker:   ch,
		Embedder:  newWordEmbedder("alpha", "beta", "gamma", "delta", "epsilon", "zeta"),
		Index:     memory.NewStorage(),
		Answerer:  answerer,
	}, Options{
		Ingest: IngestOptions{Collection: "pages", Distance: domain.DistanceCosine, BatchSize: 4, Workers: 2},
		Query:  QueryOptions{Collection: "pages", TopK: 3},
	}, logging.Discard(), metrics)

	// a form feed is the page break of plain-text documents
	text := strings.Repeat("Alpha beta gamma. ", 50) + "\f" + strings.Repeat("Delta epsilon zeta. ", 50)
	ctx := context.Background()

	report, err := svc.IndexDocument(ctx, domain.SourceDocument{Path: "pages.txt", Data: []byte(text)})
	require.NoError(t, err)
	assert.Equal(t, domain.StateIndexed, report.State)
	assert.GreaterOrEqual(t, report.Chunks, 2)

	resp, err := svc.AnswerQuestion(ctx, "What is alpha?")
	require.NoError(t, err)
	assert.Equal(t, "Alpha is the first page.", resp.Answer)
	require.NotEmpty(t, resp.ContextUsed)
	assert.Contains(t, resp.ContextUsed[0], "Alpha")
	assert.NotContains(t, resp.ContextUsed[0], "Delta")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["docqa.ingest.runs"])
	assert.True(t, names["docqa.chunks.embedded"])
	assert.True(t, names["docqa.query.duration"])
}

func TestAnswerWithMinScoreProceedsWithEmptyContext(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	_, err := f.svc.IndexDocument(ctx, f.doc)
	require.NoError(t, err)

	threshold := 1.0
	f.svc.query.opts.MinScore = &threshold

	resp, err := f.svc.AnswerQuestion(ctx, "Tell me about nuclear fusion")
	require.NoError(t, err)
	assert.Empty(t, resp.ContextUsed)
	assert.Equal(t, "Context:\n\n\nQuestion: Tell me about nuclear fusion\nAnswer:", f.answerer.prompts[0])
}

func TestAnswerOnEmptyCollection(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	require.NoError(t, f.index.CreateCollection(ctx, domain.Collection{Name: "energy", Dimension: len(energyVocab), Distance: domain.DistanceDot}))

	resp, err := f.svc.AnswerQuestion(ctx, "anything")
	require.NoError(t, err)
	assert.Empty(t, resp.ContextUsed)
	assert.Equal(t, "Wind turbines.", resp.Answer)
}

func TestAnswerRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.svc.AnswerQuestion(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Zero(t, f.embedder.callCount())
	assert.Empty(t, f.answerer.prompts)
}

func TestAnswerPropagatesErrors(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.svc.AnswerQuestion(ctx, "wind?")
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
	assert.Empty(t, f.answerer.prompts)

	_, err = f.svc.IndexDocument(ctx, f.doc)
	require.NoError(t, err)
	f.answerer.err = &domain.ProviderError{Kind: domain.ErrGeneration, Provider: "recording", StatusCode: 500, Transient: true}
	resp, err := f.svc.AnswerQuestion(ctx, "wind?")
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, domain.ErrGeneration)
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt([]string{"first chunk", "second chunk"}, "What?")
	assert.Equal(t, "Context:\nfirst chunk\n\nsecond chunk\n\nQuestion: What?\nAnswer:", got)
}
