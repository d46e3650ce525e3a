// Package nlu is the semantic fallback of the router: example phrases per
// intent are embedded once, and an utterance is assigned to the intent whose
// closest example scores at least the configured cosine similarity.
package nlu

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultMinConfidence is the similarity an utterance must reach.
const DefaultMinConfidence = 0.22

// Embedder turns text into a vector. llm.Client implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DefaultExamples are the example phrases per intent.
var DefaultExamples = map[string][]string{
	"weather":   {"what is the weather like", "will it rain today", "forecast please", "temperature now"},
	"news":      {"show me latest news", "what is happening today in the world", "headlines please"},
	"search":    {"search the web for this", "look this up online", "find information about this topic", "find web results for this", "google this for me"},
	"wikipedia": {"tell me about this person", "who is this", "give me encyclopedia info"},
	"status":    {"show bot status", "are you running", "system health check"},
	"briefing":  {"give me daily briefing", "morning summary please", "brief me now"},
	"notes":     {"create a note for me", "save this as a note", "show my notes"},
	"shopping":  {"add item to shopping list", "show shopping list", "clear shopping list"},
	"timer":     {"set a timer", "start countdown", "show active timers"},
}

// Match is a detected intent with its similarity.
type Match struct {
	Intent string
	Score  float64
}

// Config tunes the matcher.
type Config struct {
	MinConfidence float64

	// Examples maps intent → phrases. Defaults to DefaultExamples.
	Examples map[string][]string

	// Parallelism bounds concurrent embedding calls while preparing.
	Parallelism int
}

// Matcher scores utterances against embedded examples. It is safe for
// concurrent use; Prepare runs at most once successfully.
type Matcher struct {
	embedder Embedder
	cfg      Config
	logger   *slog.Logger

	mu      sync.RWMutex
	vectors map[string][][]float32
	ready   bool
}

// New creates a matcher. Call Prepare before Match, or let the first Match
// prepare lazily.
func New(embedder Embedder, cfg Config, logger *slog.Logger) *Matcher {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.Examples == nil {
		cfg.Examples = DefaultExamples
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{embedder: embedder, cfg: cfg, logger: logger.With("component", "nlu")}
}

// Intents lists the intents the matcher knows, sorted.
func (m *Matcher) Intents() []string {
	return slices.Sorted(maps.Keys(m.cfg.Examples))
}

// Prepare embeds every example phrase. A failed Prepare can be retried.
func (m *Matcher) Prepare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}

	type job struct {
		intent string
		index  int
		text   string
	}
	var jobs []job
	vectors := make(map[string][][]float32, len(m.cfg.Examples))
	for intent, phrases := range m.cfg.Examples {
		vectors[intent] = make([][]float32, len(phrases))
		for i, p := range phrases {
			jobs = append(jobs, job{intent, i, p})
		}
	}

	var vmu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Parallelism)
	for _, j := range jobs {
		g.Go(func() error {
			vec, err := m.embedder.Embed(gctx, j.text)
			if err != nil {
				return fmt.Errorf("embed example %q: %w", j.text, err)
			}
			vmu.Lock()
			vectors[j.intent][j.index] = vec
			vmu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.vectors = vectors
	m.ready = true
	m.logger.Info("semantic matcher ready", "intents", len(vectors), "examples", len(jobs))
	return nil
}

// Match returns the best intent for text if it reaches MinConfidence.
// Embedding failures are logged and reported as no match.
func (m *Matcher) Match(ctx context.Context, text string) (Match, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Match{}, false
	}
	if err := m.Prepare(ctx); err != nil {
		m.logger.Debug("semantic matcher unavailable", "error", err)
		return Match{}, false
	}
	query, err := m.embedder.Embed(ctx, text)
	if err != nil {
		m.logger.Debug("embedding failed", "error", err)
		return Match{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	best := Match{Score: -1}
	for _, intent := range slices.Sorted(maps.Keys(m.vectors)) {
		for _, vec := range m.vectors[intent] {
			if score := CosineSimilarity(query, vec); score > best.Score {
				best = Match{Intent: intent, Score: score}
			}
		}
	}
	if best.Intent == "" || best.Score < m.cfg.MinConfidence {
		return Match{}, false
	}
	return best, true
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 for
// mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// FilterExamples keeps the intents for which keep returns true.
func FilterExamples(examples map[string][]string, keep func(intent string) bool) map[string][]string {
	out := make(map[string][]string, len(examples))
	for intent, phrases := range examples {
		if keep(intent) {
			out[intent] = phrases
		}
	}
	return out
}
