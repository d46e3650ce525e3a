package patterns

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same upsert semantics. It backs
// tests and the local chat REPL when no database is wanted.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[memoryKey]*Pattern
	now    func() time.Time
}

type memoryKey struct {
	user, patternType, input string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[memoryKey]*Pattern), now: time.Now}
}

// Record upserts the key under the store mutex.
func (m *MemoryStore) Record(_ context.Context, userID, patternType, input, intent string) error {
	input = Normalize(input)
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := memoryKey{userID, patternType, input}
	if p, ok := m.rows[key]; ok {
		p.Confidence = math.Min(MaxConfidence, math.Round((p.Confidence+ConfidenceStep)*100)/100)
		p.SuccessCount++
		p.DetectedIntent = intent
		p.LastUsedAt = now
		return nil
	}
	m.nextID++
	m.rows[key] = &Pattern{
		ID:             m.nextID,
		UserID:         userID,
		PatternType:    patternType,
		UserInput:      input,
		DetectedIntent: intent,
		Confidence:     InitialConfidence,
		SuccessCount:   1,
		CreatedAt:      now,
		LastUsedAt:     now,
	}
	return nil
}

// Lookup mirrors Store.Lookup.
func (m *MemoryStore) Lookup(_ context.Context, userID string, patternTypes ...string) ([]Pattern, error) {
	want := make(map[string]bool, len(patternTypes))
	for _, t := range patternTypes {
		want[t] = true
	}

	m.mu.Lock()
	var out []Pattern
	for _, p := range m.rows {
		if p.UserID != userID {
			continue
		}
		if len(want) > 0 && !want[p.PatternType] {
			continue
		}
		out = append(out, *p)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if !out[i].LastUsedAt.Equal(out[j].LastUsedAt) {
			return out[i].LastUsedAt.After(out[j].LastUsedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Delete mirrors Store.Delete.
func (m *MemoryStore) Delete(_ context.Context, userID string, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range m.rows {
		if p.UserID == userID && p.ID == id {
			delete(m.rows, k)
			return true, nil
		}
	}
	return false, nil
}

// Clear mirrors Store.Clear.
func (m *MemoryStore) Clear(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, p := range m.rows {
		if p.UserID == userID {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}
