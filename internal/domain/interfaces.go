package domain

import (
	"context"
	"time"
)

// SourceDocument identifies a document to ingest. When Data is nil the
// extractor reads the file at Path.
type SourceDocument struct {
	Path string
	Data []byte
}

// Chunk is a contiguous slice of a document's text used for indexing.
// Index is the position of the chunk in the document and doubles as its point ID.
type Chunk struct {
	Index int
	Text  string
}

// Payload is the data stored next to a vector.
type Payload struct {
	Text string
}

// IndexedPoint is a single vector stored in a collection.
type IndexedPoint struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// Distance is the similarity metric of a collection.
type Distance string

const (
	DistanceCosine    Distance = "cosine"
	DistanceDot       Distance = "dot"
	DistanceEuclidean Distance = "euclidean"
)

// Valid reports whether d is a supported metric.
func (d Distance) Valid() bool {
	switch d {
	case DistanceCosine, DistanceDot, DistanceEuclidean:
		return true
	}
	return false
}

// Collection describes a named, dimensioned container of points.
type Collection struct {
	Name      string
	Dimension int
	Distance  Distance
}

// SearchResult represents a matching point with a relevance score.
// Higher scores are always more similar; euclidean scores are negated distances.
type SearchResult struct {
	ID    uint64
	Text  string
	Score float64
}

// AnswerRequest is a question posed to the query pipeline.
type AnswerRequest struct {
	Query string
}

// AnswerResponse carries the generated answer and the context it was built from.
type AnswerResponse struct {
	Answer      string
	ContextUsed []string
}

// IngestState is a state of the ingestion state machine.
type IngestState string

const (
	StateNotStarted            IngestState = "not_started"
	StateExtracting            IngestState = "extracting"
	StateChunking              IngestState = "chunking"
	StateEmbedding             IngestState = "embedding"
	StateIndexing              IngestState = "indexing"
	StateIndexed               IngestState = "indexed"
	StateSkippedAlreadyIndexed IngestState = "skipped_already_indexed"
	StateFailed                IngestState = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s IngestState) Terminal() bool {
	switch s {
	case StateIndexed, StateSkippedAlreadyIndexed, StateFailed:
		return true
	}
	return false
}

// IngestReport summarises one ingestion run.
type IngestReport struct {
	RunID      string
	Collection string
	State      IngestState
	Chunks     int
	Points     int
	Duration   time.Duration
	Err        error
}

// Extractor converts a source document into plain text.
type Extractor interface {
	Extract(ctx context.Context, doc SourceDocument) (string, error)
}

// Chunker splits text into ordered, overlapping chunks.
type Chunker interface {
	Split(text string) ([]Chunk, error)
}

// Embedder converts free text into fixed-dimension vectors.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex stores points in named collections and runs top-k similarity search.
type VectorIndex interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, c Collection) error
	RecreateCollection(ctx context.Context, c Collection) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, points []IndexedPoint) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error)
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

// Answerer generates an answer for a prompt.
type Answerer interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}
