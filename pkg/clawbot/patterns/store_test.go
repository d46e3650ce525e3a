package patterns

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "patterns.db")})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db.DB, nil)
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func repositories(t *testing.T) map[string]Repository {
	return map[string]Repository{
		"sqlite": newTestStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestRecord_FirstObservation(t *testing.T) {
	t.Parallel()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := repo.Record(ctx, "u1", "skill", "  Show   My Jobs ", "cron_manage:list"); err != nil {
				t.Fatalf("Record: %v", err)
			}
			got, err := repo.Lookup(ctx, "u1", "skill")
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("len = %d, want 1", len(got))
			}
			p := got[0]
			if p.UserInput != "show my jobs" {
				t.Errorf("input = %q, want normalized", p.UserInput)
			}
			if !approx(p.Confidence, InitialConfidence) || p.SuccessCount != 1 {
				t.Errorf("confidence/count = %v/%d, want 0.5/1", p.Confidence, p.SuccessCount)
			}
		})
	}
}

func TestRecord_IncrementsAndCaps(t *testing.T) {
	t.Parallel()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.0, 1.0}
			for i, w := range want {
				if err := repo.Record(ctx, "u1", "skill", "weather", "weather:current"); err != nil {
					t.Fatalf("Record %d: %v", i, err)
				}
				got, _ := repo.Lookup(ctx, "u1")
				if len(got) != 1 {
					t.Fatalf("len = %d, want 1", len(got))
				}
				if !approx(got[0].Confidence, w) {
					t.Errorf("after %d records confidence = %v, want %v", i+1, got[0].Confidence, w)
				}
				if got[0].SuccessCount != i+1 {
					t.Errorf("after %d records count = %d", i+1, got[0].SuccessCount)
				}
			}
		})
	}
}

func TestRecord_RefreshesIntent(t *testing.T) {
	t.Parallel()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = repo.Record(ctx, "u1", "skill", "list", "notes:list")
			_ = repo.Record(ctx, "u1", "skill", "list", "shopping:list")
			got, _ := repo.Lookup(ctx, "u1")
			if len(got) != 1 || got[0].DetectedIntent != "shopping:list" {
				t.Fatalf("got %+v, want single pattern with latest intent", got)
			}
		})
	}
}

func TestLookup_UserIsolationAndTypes(t *testing.T) {
	t.Parallel()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = repo.Record(ctx, "alice", "skill", "weather", "weather:current")
			_ = repo.Record(ctx, "alice", "time", "what time is it", "time_query")
			_ = repo.Record(ctx, "bob", "skill", "weather", "weather:current")

			all, _ := repo.Lookup(ctx, "alice")
			if len(all) != 2 {
				t.Errorf("alice patterns = %d, want 2", len(all))
			}
			skill, _ := repo.Lookup(ctx, "alice", "skill")
			if len(skill) != 1 || skill[0].PatternType != "skill" {
				t.Errorf("alice skill patterns = %+v", skill)
			}
			none, _ := repo.Lookup(ctx, "carol")
			if len(none) != 0 {
				t.Errorf("carol patterns = %d, want 0", len(none))
			}
		})
	}
}

func TestLookup_OrderedByConfidence(t *testing.T) {
	t.Parallel()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = repo.Record(ctx, "u1", "skill", "a", "x:a")
			for i := 0; i < 3; i++ {
				_ = repo.Record(ctx, "u1", "skill", "b", "x:b")
			}
			got, _ := repo.Lookup(ctx, "u1")
			if len(got) != 2 || got[0].UserInput != "b" {
				t.Fatalf("order = %+v, want b first", got)
			}
		})
	}
}

func TestRecord_ConcurrentNoLostUpdates(t *testing.T) {
	t.Parallel()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 50
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := repo.Record(ctx, "u1", "skill", "check my email", "email:check"); err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("concurrent Record: %v", err)
			}

			got, _ := repo.Lookup(ctx, "u1")
			if len(got) != 1 {
				t.Fatalf("len = %d, want 1", len(got))
			}
			if got[0].SuccessCount != n {
				t.Errorf("count = %d, want %d", got[0].SuccessCount, n)
			}
			if !approx(got[0].Confidence, MaxConfidence) {
				t.Errorf("confidence = %v, want capped at 1.0", got[0].Confidence)
			}
		})
	}
}

func TestDeleteAndClear(t *testing.T) {
	t.Parallel()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = repo.Record(ctx, "u1", "skill", "a", "x:a")
			_ = repo.Record(ctx, "u1", "skill", "b", "x:b")
			_ = repo.Record(ctx, "u2", "skill", "a", "x:a")

			got, _ := repo.Lookup(ctx, "u1")
			ok, err := repo.Delete(ctx, "u2", got[0].ID)
			if err != nil || ok {
				t.Errorf("deleting another user's pattern: ok=%v err=%v", ok, err)
			}
			ok, err = repo.Delete(ctx, "u1", got[0].ID)
			if err != nil || !ok {
				t.Errorf("Delete: ok=%v err=%v", ok, err)
			}

			n, err := repo.Clear(ctx, "u1")
			if err != nil || n != 1 {
				t.Errorf("Clear = %d, %v, want 1", n, err)
			}
			rest, _ := repo.Lookup(ctx, "u2")
			if len(rest) != 1 {
				t.Errorf("u2 patterns = %d, want 1", len(rest))
			}
		})
	}
}

func TestBestMatch(t *testing.T) {
	t.Parallel()
	now := time.Now()
	candidates := []Pattern{
		{ID: 1, UserInput: "weather", DetectedIntent: "weather:current", Confidence: 0.6, LastUsedAt: now},
		{ID: 2, UserInput: "weather in paris", DetectedIntent: "weather:paris", Confidence: 0.6, LastUsedAt: now.Add(time.Minute)},
		{ID: 3, UserInput: "notes", DetectedIntent: "notes:list", Confidence: 0.4, LastUsedAt: now},
	}

	tests := []struct {
		name   string
		input  string
		wantID int64
		wantOK bool
	}{
		{"contained", "what is the weather in paris today", 2, true},
		{"containing", "weather", 2, true},
		{"below threshold", "my notes", 0, false},
		{"no overlap", "hello there", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BestMatch(candidates, tt.input, 0.5)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.ID != tt.wantID {
				t.Errorf("id = %d, want %d", got.ID, tt.wantID)
			}
		})
	}
}

func TestBuildView(t *testing.T) {
	t.Parallel()
	view := BuildView([]Pattern{
		{ID: 1, PatternType: "skill", UserInput: "a", Confidence: 0.5, SuccessCount: 1},
		{ID: 2, PatternType: "chat", UserInput: "hi", Confidence: 0.7, SuccessCount: 3},
		{ID: 3, PatternType: "skill", UserInput: "b", Confidence: 0.9, SuccessCount: 5},
		{ID: 4, PatternType: "skill", UserInput: "c", Confidence: 0.5, SuccessCount: 2},
	})

	if len(view) != 2 || view[0].PatternType != "chat" || view[1].PatternType != "skill" {
		t.Fatalf("groups = %+v, want chat then skill", view)
	}
	if CountEntries(view) != 4 {
		t.Errorf("entries = %d, want 4", CountEntries(view))
	}

	wantOrder := []int64{2, 3, 4, 1}
	for i, id := range wantOrder {
		e, ok := EntryAt(view, i+1)
		if !ok || e.Pattern.ID != id {
			t.Errorf("entry %d = %+v, want pattern %d", i+1, e, id)
		}
	}
	if e, _ := EntryAt(view, 2); e.Bucket != BucketHigh {
		t.Errorf("bucket = %s, want high", e.Bucket)
	}
	if e, _ := EntryAt(view, 1); e.Bucket != BucketMedium {
		t.Errorf("bucket = %s, want medium", e.Bucket)
	}
	if _, ok := EntryAt(view, 5); ok {
		t.Error("EntryAt(5) should not exist")
	}
}
