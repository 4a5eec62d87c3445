// Package schemaindex splits a schema definition into per-table documents and
// retrieves the tables most relevant to a natural-language question.
package schemaindex

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
)

const (
	DefaultTopK           = 3
	DefaultMaxSchemaBytes = 8 << 20

	contextHeader = "# Relevant Database Schema\n\n"
)

type Config struct {
	DefaultTopK    int
	Scorer         Scorer
	MaxSchemaBytes int64
}

// Index holds one generation of documents at a time. Load replaces the whole
// generation; readers never observe a partially loaded schema.
type Index struct {
	mu         sync.RWMutex
	documents  []Document
	ranker     Ranker
	generation uint64

	defaultTopK    int
	scorer         Scorer
	maxSchemaBytes int64
}

func New(cfg Config) *Index {
	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = NewLexicalScorer()
	}
	maxBytes := cfg.MaxSchemaBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSchemaBytes
	}
	return &Index{
		defaultTopK:    topK,
		scorer:         scorer,
		maxSchemaBytes: maxBytes,
	}
}

// Loaded describes the generation a successful load installed.
type Loaded struct {
	Documents  int
	Generation uint64
}

func (i *Index) Load(schemaText string) error {
	_, err := i.Replace(schemaText)
	return err
}

// Replace is Load that also reports what it swapped in, read under the same
// lock as the swap.
func (i *Index) Replace(schemaText string) (Loaded, error) {
	if strings.TrimSpace(schemaText) == "" {
		return Loaded{}, &SchemaLoadError{Reason: "schema text is empty", Err: ErrNoTables}
	}
	documents := parseDocuments(schemaText)
	if len(documents) == 0 {
		return Loaded{}, &SchemaLoadError{Reason: "no CREATE TABLE statements", Err: ErrNoTables}
	}
	ranker := i.scorer.Prepare(documents)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.documents = documents
	i.ranker = ranker
	i.generation++
	return Loaded{Documents: len(documents), Generation: i.generation}, nil
}

func (i *Index) LoadReader(r io.Reader) error {
	_, err := i.ReplaceFrom(r)
	return err
}

// ReplaceFrom reads at most MaxSchemaBytes from r and calls Replace.
func (i *Index) ReplaceFrom(r io.Reader) (Loaded, error) {
	if r == nil {
		return Loaded{}, &SchemaLoadError{Reason: "schema source is nil"}
	}
	raw, err := io.ReadAll(io.LimitReader(r, i.maxSchemaBytes+1))
	if err != nil {
		return Loaded{}, &SchemaLoadError{Reason: "read schema source", Err: err}
	}
	if int64(len(raw)) > i.maxSchemaBytes {
		return Loaded{}, &SchemaLoadError{
			Reason: fmt.Sprintf("schema is larger than %d bytes", i.maxSchemaBytes),
			Err:    ErrSchemaTooLarge,
		}
	}
	return i.Replace(string(raw))
}

// Retrieve returns min(topK, Len()) documents ordered by descending score.
// Equal scores keep load order. A non-positive topK returns no matches;
// callers wanting the configured default pass DefaultTopK().
func (i *Index) Retrieve(query string, topK int) Result {
	if topK <= 0 {
		return Result{}
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(i.documents) == 0 {
		return Result{}
	}

	scores := i.ranker.Score(query)
	if len(scores) != len(i.documents) {
		scores = make([]float64, len(i.documents))
	}
	order := make([]int, len(i.documents))
	for idx := range order {
		order[idx] = idx
		if math.IsNaN(scores[idx]) {
			scores[idx] = math.Inf(-1)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	limit := min(topK, len(order))
	matches := make([]Match, 0, limit)
	for _, idx := range order[:limit] {
		matches = append(matches, Match{
			Document: i.documents[idx].clone(),
			Score:    scores[idx],
		})
	}
	return Result{Matches: matches}
}

// BuildContext renders the default top-K matches as fenced SQL blocks for
// prompt assembly.
func (i *Index) BuildContext(query string) string {
	return RenderContext(i.Retrieve(query, i.defaultTopK))
}

func RenderContext(result Result) string {
	var b strings.Builder
	b.WriteString(contextHeader)
	for _, match := range result.Matches {
		b.WriteString("```sql\n")
		b.WriteString(match.Document.RawText)
		b.WriteString("\n```\n\n")
	}
	return b.String()
}

func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.documents = nil
	i.ranker = nil
	i.generation++
}

func (i *Index) Documents() []Document {
	i.mu.RLock()
	defer i.mu.RUnlock()
	documents := make([]Document, 0, len(i.documents))
	for _, document := range i.documents {
		documents = append(documents, document.clone())
	}
	return documents
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.documents)
}

// Generation increases on every successful Load and every Reset.
func (i *Index) Generation() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.generation
}

func (i *Index) DefaultTopK() int {
	return i.defaultTopK
}
