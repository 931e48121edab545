package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/common/config"
	"github.com/taskforge/taskforge/internal/common/logger"
)

func TestSampleReadsProcess(t *testing.T) {
	m, err := New(config.MonitorConfig{
		IntervalSec: 60,
		RingSize:    10,
		WarnRSSMB:   0,
	}, t.TempDir(), nil, logger.Default())
	require.NoError(t, err)

	m.sample()

	samples := m.Samples()
	require.Len(t, samples, 1)
	assert.Greater(t, samples[0].RSSBytes, uint64(0), "a running process has a resident set")
	assert.Greater(t, samples[0].DiskFreeBytes, uint64(0))
	assert.False(t, samples[0].At.IsZero())
}

func TestSampleRespectsRingBound(t *testing.T) {
	m, err := New(config.MonitorConfig{IntervalSec: 60, RingSize: 2}, "", nil, logger.Default())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		m.sample()
	}
	assert.Equal(t, 2, m.ring.Len())
}
