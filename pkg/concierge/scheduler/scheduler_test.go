package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func noopHandler(ctx context.Context, job *Job) (string, error) { return "digest", nil }

func noopSender(ctx context.Context, channel, chatID, text string) error { return nil }

func TestAddRemoveList(t *testing.T) {
	s := New(nil, noopHandler, noopSender, testLogger())

	if err := s.Add(&Job{ID: "daily", Schedule: "@daily", Channel: "discord", ChatID: "c1", Enabled: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	t.Run("duplicate id rejected", func(t *testing.T) {
		if err := s.Add(&Job{ID: "daily", Schedule: "@hourly"}); err == nil {
			t.Error("expected error for duplicate ID")
		}
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		if err := s.Add(&Job{Schedule: "@daily"}); err == nil {
			t.Error("expected error for missing ID")
		}
		if err := s.Add(&Job{ID: "x"}); err == nil {
			t.Error("expected error for missing schedule")
		}
	})

	t.Run("list and get", func(t *testing.T) {
		if got := len(s.List()); got != 1 {
			t.Fatalf("List len = %d, want 1", got)
		}
		if _, ok := s.Get("daily"); !ok {
			t.Error("Get(daily) not found")
		}
	})

	t.Run("remove", func(t *testing.T) {
		if err := s.Remove("daily"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := s.Remove("daily"); err == nil {
			t.Error("expected error removing twice")
		}
	})
}

func TestInvalidScheduleRejectedWhileRunning(t *testing.T) {
	s := New(nil, noopHandler, noopSender, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Add(&Job{ID: "bad", Schedule: "not a cron expr", Enabled: true}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, ok := s.Get("bad"); ok {
		t.Error("invalid job should not be registered")
	}
}

func TestFireGuards(t *testing.T) {
	t.Run("spin loop guard skips immediate refire", func(t *testing.T) {
		var runs atomic.Int64
		s := New(nil, func(ctx context.Context, job *Job) (string, error) {
			runs.Add(1)
			return "d", nil
		}, noopSender, testLogger())

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer s.Stop()

		if err := s.Add(&Job{ID: "j1", Schedule: "@daily", Channel: "c", ChatID: "x", Enabled: true}); err != nil {
			t.Fatalf("Add: %v", err)
		}

		s.fire("j1")
		s.fire("j1") // within minFireInterval of the first
		if got := runs.Load(); got != 1 {
			t.Errorf("handler runs = %d, want 1", got)
		}
	})

	t.Run("overlapping fire skipped", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{})
		var runs atomic.Int64
		s := New(nil, func(ctx context.Context, job *Job) (string, error) {
			runs.Add(1)
			close(started)
			<-release
			return "d", nil
		}, noopSender, testLogger())

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer s.Stop()

		if err := s.Add(&Job{ID: "j1", Schedule: "@daily", Channel: "c", ChatID: "x", Enabled: true}); err != nil {
			t.Fatalf("Add: %v", err)
		}

		go s.fire("j1")
		<-started
		s.fire("j1") // previous run still holds the job
		close(release)

		time.Sleep(50 * time.Millisecond)
		if got := runs.Load(); got != 1 {
			t.Errorf("handler runs = %d, want 1", got)
		}
	})

	t.Run("panicking handler is contained", func(t *testing.T) {
		s := New(nil, func(ctx context.Context, job *Job) (string, error) {
			panic("boom")
		}, noopSender, testLogger())

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer s.Stop()

		if err := s.Add(&Job{ID: "j1", Schedule: "@daily", Channel: "c", ChatID: "x", Enabled: true}); err != nil {
			t.Fatalf("Add: %v", err)
		}

		s.fire("j1") // must not propagate the panic

		job, _ := s.Get("j1")
		if !strings.Contains(job.LastError, "panic") {
			t.Errorf("LastError = %q, want panic record", job.LastError)
		}
	})
}

func TestFileJobStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jobs.json")
	st, err := NewFileJobStorage(path)
	if err != nil {
		t.Fatalf("NewFileJobStorage: %v", err)
	}

	job := &Job{ID: "daily", Schedule: "@daily", Channel: "discord", ChatID: "c1", Enabled: true}
	if err := st.Save(job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		loaded, err := st.LoadAll()
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		if len(loaded) != 1 {
			t.Fatalf("loaded %d jobs, want 1", len(loaded))
		}
		got := loaded[0]
		if got.ID != "daily" || got.Schedule != "@daily" || got.Channel != "discord" {
			t.Errorf("loaded job = %+v", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := st.Delete("daily"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		loaded, err := st.LoadAll()
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		if len(loaded) != 0 {
			t.Errorf("loaded %d jobs after delete, want 0", len(loaded))
		}
	})

	t.Run("missing file loads empty", func(t *testing.T) {
		st2, err := NewFileJobStorage(filepath.Join(t.TempDir(), "absent.json"))
		if err != nil {
			t.Fatalf("NewFileJobStorage: %v", err)
		}
		loaded, err := st2.LoadAll()
		if err != nil || len(loaded) != 0 {
			t.Errorf("LoadAll = %v, %v, want empty, nil", loaded, err)
		}
	})

	t.Run("fresh instance reads from disk", func(t *testing.T) {
		if err := st.Save(&Job{ID: "weekly", Schedule: "@weekly", Channel: "discord", ChatID: "c2"}); err != nil {
			t.Fatalf("Save: %v", err)
		}

		st2, err := NewFileJobStorage(path)
		if err != nil {
			t.Fatalf("NewFileJobStorage: %v", err)
		}
		loaded, err := st2.LoadAll()
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		if len(loaded) != 1 || loaded[0].ID != "weekly" {
			t.Errorf("reopened set = %+v, want the weekly job", loaded)
		}

		// The write must land on the final path, not linger as a temp file.
		entries, err := os.ReadDir(filepath.Dir(path))
		if err != nil {
			t.Fatalf("ReadDir: %v", err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".jobs-") {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})
}

func TestStartLoadsPersistedJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	st, err := NewFileJobStorage(path)
	if err != nil {
		t.Fatalf("NewFileJobStorage: %v", err)
	}
	if err := st.Save(&Job{ID: "daily", Schedule: "@daily", Channel: "discord", ChatID: "c1", Enabled: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Save(&Job{ID: "disabled", Schedule: "@hourly", Enabled: false}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s := New(st, noopHandler, noopSender, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if got := len(s.List()); got != 2 {
		t.Errorf("jobs = %d, want 2", got)
	}
	// Only the enabled job gets a cron entry.
	s.mu.Lock()
	entries := len(s.cronIDs)
	s.mu.Unlock()
	if entries != 1 {
		t.Errorf("cron entries = %d, want 1", entries)
	}
}

// recordingStorage captures every record handed to Save.
type recordingStorage struct {
	mu    sync.Mutex
	saved []*Job
}

func (r *recordingStorage) Save(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, job)
	return nil
}

func (r *recordingStorage) Delete(id string) error   { return nil }
func (r *recordingStorage) LoadAll() ([]*Job, error) { return nil, nil }

func TestFirePersistsDetachedCopy(t *testing.T) {
	storage := &recordingStorage{}
	s := New(storage, noopHandler, noopSender, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Add(&Job{ID: "daily", Schedule: "@daily", Channel: "discord", ChatID: "c1", Enabled: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.fire("daily")

	live, ok := s.Get("daily")
	if !ok {
		t.Fatal("job missing after fire")
	}

	storage.mu.Lock()
	defer storage.mu.Unlock()
	if len(storage.saved) < 2 {
		t.Fatalf("saved records = %d, want the fire to persist", len(storage.saved))
	}

	// Add persists the live record while holding the scheduler lock; what
	// a fire persists is marshaled outside it and must be detached.
	for _, rec := range storage.saved[1:] {
		if rec == live {
			t.Error("fire persisted the live job record instead of a copy")
		}
		if rec.LastRunAt != nil && rec.LastRunAt == live.LastRunAt {
			t.Error("persisted record shares the live LastRunAt pointer")
		}
	}

	last := storage.saved[len(storage.saved)-1]
	if last.RunCount != 1 || last.LastRunAt == nil {
		t.Errorf("persisted run state wrong: count=%d lastRun=%v", last.RunCount, last.LastRunAt)
	}

	live.LastError = "mutated after the fact"
	if last.LastError == live.LastError {
		t.Error("mutating the live record reached the persisted copy")
	}
}
