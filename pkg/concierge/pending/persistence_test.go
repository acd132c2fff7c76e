package pending

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")

	s := newTestStore(t, Options{SnapshotPath: path, MaxPerUser: 10})
	id1, _ := s.Create("u1", "workspace.archive_page", map[string]any{"page": "abc"}, "archive page abc", time.Hour, DefaultCancel)
	id2, _ := s.Create("u2", "reminder.send", map[string]any{"text": "standup"}, "", time.Hour, DefaultConfirm)
	s.BindCard(id1, "discord:111:222")

	before1, _ := s.Get(id1)
	before2, _ := s.Get(id2)
	s.Close()

	s2 := NewStore(Options{SnapshotPath: path, MaxPerUser: 10}, testLogger())
	t.Cleanup(s2.Close)

	after1, ok := s2.Get(id1)
	if !ok {
		t.Fatal("first operation missing after restore")
	}
	if after1.UserID != before1.UserID || after1.Type != before1.Type ||
		after1.AdminInput != before1.AdminInput || after1.CardRef != before1.CardRef ||
		after1.Status != StatusPending || after1.Default != DefaultCancel {
		t.Errorf("restored fields differ:\nbefore %+v\nafter  %+v", before1, after1)
	}
	if after1.Data["page"] != "abc" {
		t.Errorf("Data not restored: %v", after1.Data)
	}
	if !after1.CreatedAt.Equal(before1.CreatedAt) || !after1.ExpiresAt.Equal(before1.ExpiresAt) {
		t.Errorf("timestamps drifted: %v/%v vs %v/%v",
			after1.CreatedAt, after1.ExpiresAt, before1.CreatedAt, before1.ExpiresAt)
	}

	after2, ok := s2.Get(id2)
	if !ok {
		t.Fatal("second operation missing after restore")
	}
	if after2.Default != DefaultConfirm || after2.UserID != before2.UserID {
		t.Errorf("second record wrong: %+v", after2)
	}

	// Restored pending records keep working: the window is rescheduled and
	// the record can still be resolved.
	if !s2.Cancel(id2) {
		t.Error("restored operation should be cancellable")
	}
}

func TestSnapshotExpiredDuringDowntime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")

	s := newTestStore(t, Options{SnapshotPath: path})
	exec := &countingExecutor{}
	s.RegisterExecutor("demo", exec)

	id, _ := s.Create("u1", "demo", nil, "", 50*time.Millisecond, DefaultConfirm)
	s.mu.Lock()
	s.stopTimerLocked(id) // simulate shutdown before the trigger fires
	s.mu.Unlock()
	s.Close()

	time.Sleep(100 * time.Millisecond)

	s2 := NewStore(Options{SnapshotPath: path}, testLogger())
	s2.RegisterExecutor("demo", exec)
	t.Cleanup(s2.Close)

	op, ok := s2.Get(id)
	if !ok {
		t.Fatal("operation missing after restore")
	}
	if op.Status != StatusExpired {
		t.Errorf("Status = %v, want EXPIRED for window lapsed during downtime", op.Status)
	}
	// Skip-on-restore: the default action is never applied for records that
	// expired while the service was down.
	if exec.calls.Load() != 0 {
		t.Errorf("executor ran %d times during restore, want 0", exec.calls.Load())
	}
}

func TestSnapshotterMissingAndMalformed(t *testing.T) {
	t.Run("missing file is not an error", func(t *testing.T) {
		p := NewSnapshotter(filepath.Join(t.TempDir(), "absent.json"), testLogger())
		ops, err := p.Load()
		if err != nil {
			t.Fatalf("Load on missing file: %v", err)
		}
		if len(ops) != 0 {
			t.Errorf("got %d operations from a missing file", len(ops))
		}
	})

	t.Run("malformed file surfaces an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
			t.Fatal(err)
		}
		p := NewSnapshotter(path, testLogger())
		if _, err := p.Load(); err == nil {
			t.Error("expected an error for a malformed snapshot")
		}
	})

	t.Run("store starts empty on malformed snapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
			t.Fatal(err)
		}
		s := NewStore(Options{SnapshotPath: path}, testLogger())
		t.Cleanup(s.Close)
		if got := s.GetStatistics().Total; got != 0 {
			t.Errorf("store has %d operations after malformed snapshot, want 0", got)
		}
	})
}
