// Package runlog persists the outcome of optimization runs so that they can
// be listed and re-priced later without solving again.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/ugs/core/model"
)

// ErrNotFound is returned by Get when no record carries the requested id.
var ErrNotFound = errors.New("run not found")

// RunRecord captures one optimization run and its valuation. The daily plan
// is not stored.
type RunRecord struct {
	RunID      string                   `json:"run_id"`
	Timestamp  time.Time                `json:"timestamp"`
	Optimal    bool                     `json:"optimal"`
	PricesPath string                   `json:"prices_path,omitempty"`
	Days       int                      `json:"days"`
	Facility   model.FacilityParameters `json:"facility"`
	Economics  model.EconomicsSummary   `json:"economics"`
	KPIs       model.KPIs               `json:"kpis"`
	Bid        model.BidRecommendation  `json:"bid"`
	Solve      model.SolveSummary       `json:"solve"`
}

// FromReport builds a record from a finished run.
func FromReport(r model.Report, pricesPath string) RunRecord {
	return RunRecord{
		RunID:      r.RunID,
		Timestamp:  r.CreatedAt,
		Optimal:    r.Optimal,
		PricesPath: pricesPath,
		Days:       len(r.Plan),
		Facility:   r.Facility,
		Economics:  r.Economics,
		KPIs:       r.KPIs,
		Bid:        r.Bid,
		Solve:      r.Solve,
	}
}

// RunQuery defines filters for retrieving records.
type RunQuery struct {
	Start       time.Time
	End         time.Time
	RunID       string
	Status      string
	OptimalOnly bool
}

// Match reports whether r passes every filter of q.
func (q RunQuery) Match(r RunRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	if q.Status != "" && r.Solve.Status != q.Status {
		return false
	}
	if q.OptimalOnly && !r.Optimal {
		return false
	}
	return true
}

// Store persists RunRecords and supports querying.
type Store interface {
	Append(ctx context.Context, rec RunRecord) error
	Query(ctx context.Context, q RunQuery) ([]RunRecord, error)
	Close() error
}

// Get returns the most recent record with the given id.
func Get(ctx context.Context, s Store, id string) (RunRecord, error) {
	recs, err := s.Query(ctx, RunQuery{RunID: id})
	if err != nil {
		return RunRecord{}, err
	}
	if len(recs) == 0 {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return recs[len(recs)-1], nil
}

// Config defines settings for run log storage and rotation.
type Config struct {
	// Backend selects the store type: "jsonl" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location of the store.
	Path string `json:"path"`
	// MaxSizeMB enables rotation of the jsonl backend when > 0.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		if c.Backend == "sqlite" {
			c.Path = "runs.db"
		} else {
			c.Path = "runs.jsonl"
		}
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Backend != "jsonl" && c.Backend != "sqlite" {
		return fmt.Errorf("unknown run log backend %s", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("run log path is required")
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("run log rotation settings must be >= 0")
	}
	return nil
}

// New opens the store selected by cfg.
func New(cfg Config) (Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		if cfg.MaxSizeMB > 0 {
			return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		}
		return NewJSONLStore(cfg.Path)
	}
}
