package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func recordingDelay(cfg TimingConfig) (*TimingDelay, *[]time.Duration) {
	var slept []time.Duration
	td := NewTimingDelay(cfg)
	td.sleep = func(d time.Duration) { slept = append(slept, d) }
	return td, &slept
}

func TestTimingDelay_PadsFailures(t *testing.T) {
	td, slept := recordingDelay(TimingConfig{BaseDelayMs: 100, RandomDelayMs: 50})

	td.WaitFrom(time.Now(), false)

	assert.Len(t, *slept, 1)
	assert.Greater(t, (*slept)[0], 90*time.Millisecond)
	assert.LessOrEqual(t, (*slept)[0], 150*time.Millisecond)
}

func TestTimingDelay_SkipsSuccessByDefault(t *testing.T) {
	td, slept := recordingDelay(TimingConfig{BaseDelayMs: 100})

	td.WaitFrom(time.Now(), true)

	assert.Empty(t, *slept)
}

func TestTimingDelay_DelayOnSuccess(t *testing.T) {
	td, slept := recordingDelay(TimingConfig{BaseDelayMs: 100, DelayOnSuccess: true})

	td.WaitFrom(time.Now(), true)

	assert.Len(t, *slept, 1)
}

func TestTimingDelay_ElapsedBeyondTarget(t *testing.T) {
	td, slept := recordingDelay(TimingConfig{BaseDelayMs: 100})

	td.WaitFrom(time.Now().Add(-time.Second), false)

	assert.Empty(t, *slept)
}

func TestTimingDelay_Nil(t *testing.T) {
	var td *TimingDelay
	assert.NotPanics(t, func() { td.WaitFrom(time.Now(), false) })
}
