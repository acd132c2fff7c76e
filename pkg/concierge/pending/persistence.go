package pending

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// snapshotRecord is the on-disk form of one operation. Timestamps are
// epoch milliseconds; status and default action are their string names.
type snapshotRecord struct {
	ID           string         `json:"operation_id"`
	UserID       string         `json:"user_id"`
	Type         string         `json:"operation_type"`
	Data         map[string]any `json:"operation_data,omitempty"`
	AdminInput   string         `json:"admin_input,omitempty"`
	CreatedAt    int64          `json:"created_time"`
	ExpiresAt    int64          `json:"expire_time"`
	HoldLabel    string         `json:"hold_time_text,omitempty"`
	Status       string         `json:"status"`
	Default      string         `json:"default_action"`
	CardRef      string         `json:"card_reference,omitempty"`
	UpdateCount  int            `json:"update_count,omitempty"`
	LastUpdateAt int64          `json:"last_update_time,omitempty"`
}

// snapshotFile is the whole-store snapshot, keyed by operation ID.
type snapshotFile struct {
	Version int                        `json:"version"`
	SavedAt int64                      `json:"saved_at"`
	Ops     map[string]snapshotRecord `json:"operations"`
}

// Snapshotter persists whole-store snapshots atomically: the snapshot is
// written to a temporary file in the same directory and renamed into
// place, so a crash mid-write never corrupts the previous state.
type Snapshotter struct {
	path   string
	logger *slog.Logger
}

// NewSnapshotter creates a snapshotter for the given file path.
func NewSnapshotter(path string, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{path: path, logger: logger}
}

// Path returns the snapshot file path.
func (p *Snapshotter) Path() string { return p.path }

// Save writes the snapshot to disk.
func (p *Snapshotter) Save(ops []*Operation) error {
	file := snapshotFile{
		Version: 1,
		SavedAt: time.Now().UnixMilli(),
		Ops:     make(map[string]snapshotRecord, len(ops)),
	}
	for _, op := range ops {
		file.Ops[op.ID] = toRecord(op)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pending-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot from disk. A missing file is not an error; the
// store simply starts empty. A malformed file is reported so the caller
// can log it, and likewise results in an empty store.
func (p *Snapshotter) Load() ([]*Operation, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var file snapshotFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	ops := make([]*Operation, 0, len(file.Ops))
	for id, rec := range file.Ops {
		if rec.ID == "" {
			rec.ID = id
		}
		op, err := fromRecord(rec)
		if err != nil {
			p.logger.Warn("skipping invalid snapshot record", "id", id, "error", err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func toRecord(op *Operation) snapshotRecord {
	rec := snapshotRecord{
		ID:          op.ID,
		UserID:      op.UserID,
		Type:        op.Type,
		Data:        op.Data,
		AdminInput:  op.AdminInput,
		CreatedAt:   op.CreatedAt.UnixMilli(),
		ExpiresAt:   op.ExpiresAt.UnixMilli(),
		HoldLabel:   op.HoldLabel,
		Status:      string(op.Status),
		Default:     string(op.Default),
		CardRef:     op.CardRef,
		UpdateCount: op.UpdateCount,
	}
	if !op.LastUpdateAt.IsZero() {
		rec.LastUpdateAt = op.LastUpdateAt.UnixMilli()
	}
	return rec
}

func fromRecord(rec snapshotRecord) (*Operation, error) {
	if rec.ID == "" || rec.UserID == "" || rec.Type == "" {
		return nil, fmt.Errorf("missing identity fields")
	}

	status := Status(rec.Status)
	switch status {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusExpired, StatusExecuted:
	default:
		return nil, fmt.Errorf("unknown status %q", rec.Status)
	}

	def := DefaultAction(rec.Default)
	switch def {
	case DefaultConfirm, DefaultCancel:
	default:
		def = DefaultCancel
	}

	op := &Operation{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Type:        rec.Type,
		Data:        rec.Data,
		AdminInput:  rec.AdminInput,
		CreatedAt:   time.UnixMilli(rec.CreatedAt),
		ExpiresAt:   time.UnixMilli(rec.ExpiresAt),
		HoldLabel:   rec.HoldLabel,
		Status:      status,
		Default:     def,
		CardRef:     rec.CardRef,
		UpdateCount: rec.UpdateCount,
	}
	if op.Data == nil {
		op.Data = make(map[string]any)
	}
	if rec.LastUpdateAt > 0 {
		op.LastUpdateAt = time.UnixMilli(rec.LastUpdateAt)
	}
	return op, nil
}
