package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopDetector_RaisesHighAfterThresholdFirings(t *testing.T) {
	d := NewLoopDetector(10, time.Minute)
	now := time.Now()

	var finding *LoopFinding
	for i := 0; i < 11; i++ {
		finding = d.Record("session-1", "bash", now)
	}
	require.NotNil(t, finding)
	assert.Equal(t, SeverityHigh, finding.Severity)
	assert.False(t, finding.Blocked)
}

func TestLoopDetector_RaisesCriticalAfterDoubleThreshold(t *testing.T) {
	d := NewLoopDetector(10, time.Minute)
	now := time.Now()

	var last *LoopFinding
	for i := 0; i < 21; i++ {
		f := d.Record("session-1", "bash", now)
		if f != nil {
			last = f
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, SeverityCritical, last.Severity)
	assert.True(t, last.Blocked)
}

func TestLoopDetector_DoesNotRefireSameLevelTwice(t *testing.T) {
	d := NewLoopDetector(10, time.Minute)
	now := time.Now()

	var findings []*LoopFinding
	for i := 0; i < 15; i++ {
		if f := d.Record("session-1", "bash", now); f != nil {
			findings = append(findings, f)
		}
	}
	require.Len(t, findings, 1)
}

func TestLoopDetector_DifferentToolResetsCounter(t *testing.T) {
	d := NewLoopDetector(10, time.Minute)
	now := time.Now()

	for i := 0; i < 10; i++ {
		d.Record("session-1", "bash", now)
	}
	finding := d.Record("session-1", "read_file", now)
	assert.Nil(t, finding)
}

func TestLoopDetector_WindowExpiryResetsCounter(t *testing.T) {
	d := NewLoopDetector(10, 10*time.Millisecond)
	now := time.Now()

	for i := 0; i < 10; i++ {
		d.Record("session-1", "bash", now)
	}
	finding := d.Record("session-1", "bash", now.Add(time.Second))
	assert.Nil(t, finding)
}
