package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Step and run statuses.
const (
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

// Run is one invocation of a pipeline.
type Run struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Pipeline string `gorm:"not null" json:"pipeline"`
	Study    string `gorm:"size:200;not null;index" json:"study"`
	Status   string `gorm:"size:20;not null" json:"status"`
	DryRun   bool   `json:"dry_run"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Steps []StepRun `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
}

// StepRun is the outcome of one node.
type StepRun struct {
	Id    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunId uuid.UUID `gorm:"type:uuid;not null;index" json:"run_id"`

	Node     string `gorm:"size:300;not null;index" json:"node"`
	Subject  string `gorm:"size:20" json:"subject,omitempty"`
	StepType string `gorm:"size:100;not null" json:"step_type"`
	StepName string `gorm:"size:100;not null" json:"step_name"`
	Status   string `gorm:"size:20;not null" json:"status"`
	Error    string `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Ledger stores runs.
type Ledger struct {
	db *gorm.DB
}

// Open opens or creates the ledger database at path. Use "file::memory:" for
// a throwaway ledger.
func Open(path string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; workers record concurrently.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Run{}, &StepRun{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun records a new running pipeline run.
func (l *Ledger) StartRun(ctx context.Context, pipeline, study string, dryRun bool) (*Run, error) {
	r := &Run{
		Id:        uuid.New(),
		Pipeline:  pipeline,
		Study:     study,
		Status:    StatusRunning,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	if err := l.db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return r, nil
}

// FinishRun sets the final status of a run.
func (l *Ledger) FinishRun(ctx context.Context, id uuid.UUID, status string) error {
	now := time.Now().UTC()
	res := l.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "finished_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// RecordStep stores a node outcome.
func (l *Ledger) RecordStep(ctx context.Context, s StepRun) error {
	if s.RunId == uuid.Nil {
		return errors.New("step outcome has no run id")
	}
	if s.Id == uuid.Nil {
		s.Id = uuid.New()
	}
	if !s.FinishedAt.IsZero() && !s.StartedAt.IsZero() {
		s.DurationMs = s.FinishedAt.Sub(s.StartedAt).Milliseconds()
	}
	if err := l.db.WithContext(ctx).Create(&s).Error; err != nil {
		return fmt.Errorf("failed to record step %s: %w", s.Node, err)
	}
	return nil
}

// Runs returns the most recent runs with their steps, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	q := l.db.WithContext(ctx).Order("started_at desc").
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("started_at asc") })
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// LastOutcome returns the most recent outcome of a node across runs, or nil.
func (l *Ledger) LastOutcome(ctx context.Context, node string) (*StepRun, error) {
	var s StepRun
	err := l.db.WithContext(ctx).Where("node = ?", node).Order("finished_at desc").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
