// Package breaker implements a persisted circuit breaker keyed by the
// external dependency it protects.
//
// Records survive restarts: every state change is written to one small
// JSON file per key with an atomic temp-file-then-rename replace, so a
// restarted service resumes in the same regime.
package breaker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/logger"
)

// ErrOpen is returned when a call is short-circuited by an open
// breaker.
var ErrOpen = errors.New("circuit breaker is open")

// State of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Record is the persisted per-key state.
type Record struct {
	Key                    string     `json:"key"`
	State                  State      `json:"state"`
	ConsecutiveFailures    int        `json:"consecutive_failures"`
	OpenedAt               *time.Time `json:"opened_at,omitempty"`
	NextProbeAt            *time.Time `json:"next_probe_at,omitempty"`
	SuccessCountInHalfOpen int        `json:"success_count_in_half_open"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold  int
	Cooldown          time.Duration
	HalfOpenSuccesses int
	Retention         time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		Cooldown:          60 * time.Second,
		HalfOpenSuccesses: 2,
		Retention:         7 * 24 * time.Hour,
	}
}

// Registry manages the breakers of a process, one per key.
type Registry struct {
	dir    string
	cfg    Config
	logger *logger.Logger

	mu       sync.Mutex
	breakers map[string]*Record
	// probing marks keys with a half-open probe in flight; only one
	// call may probe at a time. Not persisted: a restart simply
	// admits a fresh probe.
	probing map[string]bool
}

// NewRegistry opens the registry over the given record directory and
// loads any persisted records.
func NewRegistry(dir string, cfg Config, log *logger.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create breaker directory: %w", err)
	}
	r := &Registry{
		dir:      dir,
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "breaker")),
		breakers: make(map[string]*Record),
		probing:  make(map[string]bool),
	}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadAll() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := readRecord(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			r.logger.Warn("skipping unreadable breaker record",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		r.breakers[rec.Key] = rec
	}
	return nil
}

func (r *Registry) record(key string) *Record {
	rec, ok := r.breakers[key]
	if !ok {
		rec = &Record{Key: key, State: StateClosed, UpdatedAt: time.Now().UTC()}
		r.breakers[key] = rec
	}
	return rec
}

// Allow reports whether a call on key may proceed. An open breaker
// whose cooldown has elapsed moves to half-open and admits a single
// probe.
func (r *Registry) Allow(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.record(key)
	switch rec.State {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if r.probing[key] {
			return fmt.Errorf("%w: key %q (probe in flight)", ErrOpen, key)
		}
		r.probing[key] = true
		return nil
	case StateOpen:
		if rec.NextProbeAt != nil && !time.Now().UTC().Before(*rec.NextProbeAt) {
			rec.State = StateHalfOpen
			rec.SuccessCountInHalfOpen = 0
			r.probing[key] = true
			r.persist(rec)
			r.logger.Info("breaker half-open, probing", zap.String("key", key))
			return nil
		}
		return fmt.Errorf("%w: key %q", ErrOpen, key)
	}
	return nil
}

// RecordSuccess reports a successful call on key.
func (r *Registry) RecordSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.record(key)
	delete(r.probing, key)
	switch rec.State {
	case StateHalfOpen:
		rec.SuccessCountInHalfOpen++
		if rec.SuccessCountInHalfOpen >= r.cfg.HalfOpenSuccesses {
			rec.State = StateClosed
			rec.ConsecutiveFailures = 0
			rec.OpenedAt = nil
			rec.NextProbeAt = nil
			rec.SuccessCountInHalfOpen = 0
			r.logger.Info("breaker closed", zap.String("key", key))
		}
	default:
		rec.ConsecutiveFailures = 0
	}
	r.persist(rec)
}

// ReleaseProbe abandons an admitted half-open probe without recording
// an outcome, for calls that were cancelled rather than answered.
func (r *Registry) ReleaseProbe(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.probing, key)
}

// RecordFailure reports a failed call on key. In closed state the
// failure counter advances toward the threshold; in half-open any
// failure reopens the breaker and restarts the cooldown.
func (r *Registry) RecordFailure(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.record(key)
	delete(r.probing, key)
	now := time.Now().UTC()
	switch rec.State {
	case StateHalfOpen:
		r.open(rec, now)
	case StateClosed:
		rec.ConsecutiveFailures++
		if rec.ConsecutiveFailures >= r.cfg.FailureThreshold {
			r.open(rec, now)
		}
	}
	r.persist(rec)
}

func (r *Registry) open(rec *Record, now time.Time) {
	probeAt := now.Add(r.cfg.Cooldown)
	rec.State = StateOpen
	rec.OpenedAt = &now
	rec.NextProbeAt = &probeAt
	rec.SuccessCountInHalfOpen = 0
	r.logger.Warn("breaker opened",
		zap.String("key", rec.Key),
		zap.Int("consecutive_failures", rec.ConsecutiveFailures),
		zap.Time("next_probe_at", probeAt))
}

// Snapshot returns a copy of the record for key.
func (r *Registry) Snapshot(key string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.record(key)
}

// persist writes the record atomically: temp file in the same
// directory, then rename.
func (r *Registry) persist(rec *Record) {
	rec.UpdatedAt = time.Now().UTC()
	path := r.filePath(rec.Key)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		r.logger.Error("failed to encode breaker record", zap.Error(err))
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		r.logger.Error("failed to write breaker record", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		r.logger.Error("failed to replace breaker record", zap.Error(err))
	}
}

func (r *Registry) filePath(key string) string {
	// Keys may contain separators; flatten them for the filesystem.
	safe := strings.Map(func(c rune) rune {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '_' {
			return c
		}
		return '_'
	}, key)
	return filepath.Join(r.dir, safe+".json")
}

// Sweep removes records untouched for longer than the retention
// window, in memory and on disk. It must run on a timer; an
// unscheduled sweep leaks breaker files indefinitely.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-r.cfg.Retention)
	removed := 0
	for key, rec := range r.breakers {
		if rec.UpdatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(r.filePath(key)); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to remove stale breaker record",
				zap.String("key", key), zap.Error(err))
			continue
		}
		delete(r.breakers, key)
		removed++
	}
	if removed > 0 {
		r.logger.Info("swept stale breaker records", zap.Int("removed", removed))
	}
	return removed
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Key == "" {
		return nil, fmt.Errorf("breaker record %s has no key", path)
	}
	return &rec, nil
}
