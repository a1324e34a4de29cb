package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObservers_AreNoOpsUntilEnabled(t *testing.T) {
	enabled.Store(false)
	// These must not panic and must not touch any metric while disabled;
	// there is no exported way to read collector values back out, so this
	// test only guards against the no-op path faulting.
	ObserveOverflow()
	ObserveDeadDetectors(0b0011)
	ObserveTrigger(5.2)
}

func TestEnable_FlipsEnabledFlag(t *testing.T) {
	enabled.Store(false)
	Enable("")
	assert.True(t, Enabled())
	enabled.Store(false)
}
