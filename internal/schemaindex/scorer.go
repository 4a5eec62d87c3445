package schemaindex

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Scorer builds a Ranker for one generation of documents.
type Scorer interface {
	Prepare(documents []Document) Ranker
}

// Ranker scores a query against every prepared document. The returned slice
// has one entry per document, in document order. Higher is more relevant.
type Ranker interface {
	Score(query string) []float64
}

const defaultNameBoost = 0.5

// LexicalScorer ranks documents by TF-IDF cosine similarity, plus a boost for
// the share of a table's name terms that appear in the query.
type LexicalScorer struct {
	NameBoost float64
}

func NewLexicalScorer() LexicalScorer {
	return LexicalScorer{NameBoost: defaultNameBoost}
}

func (s LexicalScorer) Prepare(documents []Document) Ranker {
	counts := make([]map[string]int, len(documents))
	docFreq := map[string]int{}
	for i, document := range documents {
		counts[i] = termCounts(tokenize(document.RawText))
		for term := range counts[i] {
			docFreq[term]++
		}
	}

	total := float64(len(documents))
	idf := make(map[string]float64, len(docFreq))
	for term, freq := range docFreq {
		idf[term] = math.Log((1+total)/(1+float64(freq))) + 1
	}

	ranker := &lexicalRanker{
		idf:       idf,
		unseenIDF: math.Log(1+total) + 1,
		vectors:   make([]map[string]float64, len(documents)),
		nameTerms: make([][]string, len(documents)),
		nameBoost: s.NameBoost,
	}
	for i, document := range documents {
		ranker.vectors[i] = ranker.weigh(counts[i])
		ranker.nameTerms[i] = sortedKeys(termCounts(tokenize(document.TableName)))
	}
	return ranker
}

type lexicalRanker struct {
	idf       map[string]float64
	unseenIDF float64
	vectors   []map[string]float64
	nameTerms [][]string
	nameBoost float64
}

func (r *lexicalRanker) Score(query string) []float64 {
	queryCounts := termCounts(tokenize(query))
	queryVector := r.weigh(queryCounts)
	queryTerms := sortedKeys(queryCounts)

	scores := make([]float64, len(r.vectors))
	for i, vector := range r.vectors {
		var dot float64
		for _, term := range queryTerms {
			dot += queryVector[term] * vector[term]
		}
		scores[i] = dot + r.nameBoost*nameCoverage(r.nameTerms[i], queryCounts)
	}
	return scores
}

// weigh returns the L2-normalised TF-IDF vector for the given term counts.
func (r *lexicalRanker) weigh(counts map[string]int) map[string]float64 {
	terms := sortedKeys(counts)
	vector := make(map[string]float64, len(terms))
	var norm float64
	for _, term := range terms {
		idf, ok := r.idf[term]
		if !ok {
			idf = r.unseenIDF
		}
		weight := float64(counts[term]) * idf
		vector[term] = weight
		norm += weight * weight
	}
	if norm == 0 {
		return vector
	}
	norm = math.Sqrt(norm)
	for _, term := range terms {
		vector[term] /= norm
	}
	return vector
}

func nameCoverage(nameTerms []string, queryCounts map[string]int) float64 {
	if len(nameTerms) == 0 {
		return 0
	}
	hits := 0
	for _, term := range nameTerms {
		if queryCounts[term] > 0 {
			hits++
		}
	}
	return float64(hits) / float64(len(nameTerms))
}

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

// DDL keywords, common column types and question filler carry no signal.
var stopwords = map[string]struct{}{
	"create": {}, "table": {}, "if": {}, "not": {}, "exists": {}, "null": {},
	"primary": {}, "key": {}, "foreign": {}, "references": {}, "unique": {},
	"default": {}, "constraint": {}, "check": {}, "int": {}, "integer": {},
	"bigint": {}, "smallint": {}, "serial": {}, "varchar": {}, "char": {},
	"text": {}, "decimal": {}, "numeric": {}, "real": {}, "float": {},
	"double": {}, "boolean": {}, "bool": {}, "timestamp": {}, "autoincrement": {},
	"the": {}, "a": {}, "an": {}, "of": {}, "for": {}, "by": {}, "in": {},
	"on": {}, "and": {}, "or": {}, "to": {}, "is": {}, "are": {}, "with": {},
	"from": {}, "per": {}, "show": {}, "me": {}, "all": {}, "what": {},
	"which": {}, "list": {}, "get": {}, "find": {}, "give": {}, "how": {},
	"many": {}, "much": {},
}

// tokenize lowercases text and splits it into terms. Snake_case identifiers
// yield the whole identifier and each of its parts.
func tokenize(text string) []string {
	var terms []string
	for _, raw := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		raw = strings.Trim(raw, "_")
		if raw == "" {
			continue
		}
		parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '_' })
		if len(parts) > 1 {
			terms = appendTerm(terms, raw)
		}
		for _, part := range parts {
			terms = appendTerm(terms, part)
		}
	}
	return terms
}

func appendTerm(terms []string, term string) []string {
	if _, skip := stopwords[term]; skip {
		return terms
	}
	return append(terms, foldPlural(term))
}

func foldPlural(term string) string {
	switch {
	case len(term) > 4 && strings.HasSuffix(term, "ies"):
		return strings.TrimSuffix(term, "ies") + "y"
	case len(term) > 3 && strings.HasSuffix(term, "s") && !strings.HasSuffix(term, "ss"):
		return strings.TrimSuffix(term, "s")
	default:
		return term
	}
}

func termCounts(terms []string) map[string]int {
	counts := make(map[string]int, len(terms))
	for _, term := range terms {
		counts[term]++
	}
	return counts
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
