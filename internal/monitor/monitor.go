// Package monitor samples process and system memory on an interval.
//
// Samples land in a bounded in-memory ring. Both the ring trimmer and
// the breaker maintenance sweep run on the process cron; leaving
// either unscheduled is the documented way this service leaks memory
// and disk.
package monitor

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/config"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/telemetry"
)

// Monitor periodically records resource samples and warns when the
// process crosses its memory threshold.
type Monitor struct {
	cfg     config.MonitorConfig
	logger  *logger.Logger
	metrics *telemetry.Metrics
	ring    *Ring
	dataDir string

	proc procfs.Proc
	fs   procfs.FS

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a monitor over /proc. dataDir is the filesystem whose
// free space is tracked; empty disables the disk sample.
func New(cfg config.MonitorConfig, dataDir string, metrics *telemetry.Metrics, log *logger.Logger) (*Monitor, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	proc, err := fs.Self()
	if err != nil {
		return nil, err
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1440
	}
	return &Monitor{
		cfg:     cfg,
		logger:  log.WithFields(zap.String("component", "monitor")),
		metrics: metrics,
		ring:    NewRing(cfg.RingSize),
		dataDir: dataDir,
		proc:    proc,
		fs:      fs,
	}, nil
}

// Start begins interval sampling.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	ctx, m.stop = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval())
		defer ticker.Stop()

		m.sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

// Stop halts sampling.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stop()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) sample() {
	s := Sample{At: time.Now().UTC()}

	if stat, err := m.proc.Stat(); err == nil {
		s.RSSBytes = uint64(stat.ResidentMemory())
	} else {
		m.logger.Debug("failed to read process stat", zap.Error(err))
	}

	if meminfo, err := m.fs.Meminfo(); err == nil {
		if meminfo.MemAvailable != nil {
			s.MemAvailableBytes = *meminfo.MemAvailable * 1024
		}
		if meminfo.MemTotal != nil {
			s.MemTotalBytes = *meminfo.MemTotal * 1024
		}
	}

	if m.dataDir != "" {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(m.dataDir, &stat); err == nil {
			s.DiskFreeBytes = stat.Bavail * uint64(stat.Bsize)
		}
	}

	m.ring.Add(s)
	if m.metrics != nil {
		m.metrics.SetResidentMemory(float64(s.RSSBytes))
	}

	warnBytes := uint64(m.cfg.WarnRSSMB) << 20
	if warnBytes > 0 && s.RSSBytes > warnBytes {
		m.logger.Warn("process memory above threshold",
			zap.Uint64("rss_bytes", s.RSSBytes),
			zap.Int("threshold_mb", m.cfg.WarnRSSMB))
	}
}

// Trim releases ring memory beyond the retained window. Scheduled on
// the process cron.
func (m *Monitor) Trim() {
	m.ring.Trim()
}

// Samples returns the retained readings, oldest first.
func (m *Monitor) Samples() []Sample {
	return m.ring.Snapshot()
}
