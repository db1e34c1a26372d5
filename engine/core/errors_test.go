package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(ErrStaleSurface))
	assert.False(t, IsFatal(fmt.Errorf("acquire: %w", ErrDegenerateSurface)))
	assert.True(t, IsFatal(ErrDeviceTimeout))
	assert.True(t, IsFatal(BackendError("vkQueueSubmit", errors.New("VK_ERROR_DEVICE_LOST"))))
}

func TestBackendErrorKeepsTimeoutCause(t *testing.T) {
	err := BackendError("wait fence", ErrDeviceTimeout)
	assert.ErrorIs(t, err, ErrDeviceTimeout)
	assert.NotErrorIs(t, err, ErrBackendFatal)

	err = BackendError("allocate memory", errors.New("out of device memory"))
	assert.ErrorIs(t, err, ErrBackendFatal)
	assert.Contains(t, err.Error(), "allocate memory")
}

func TestStageErrorNamesPhaseAndStage(t *testing.T) {
	err := error(NewFrameError("SubmitCompute", BackendError("submit", nil)))
	assert.ErrorIs(t, err, ErrBackendFatal)
	assert.Contains(t, err.Error(), "steady-state")

	stage, ok := FailedStage(fmt.Errorf("engine: %w", err))
	require.True(t, ok)
	assert.Equal(t, "SubmitCompute", stage)
}

func TestInitChainStopsAtFirstFailureAndUnwinds(t *testing.T) {
	var trace []string
	step := func(name string, fail bool) (func() error, func()) {
		return func() error {
				trace = append(trace, "run "+name)
				if fail {
					return errors.New(name + " exploded")
				}
				return nil
			}, func() {
				trace = append(trace, "teardown "+name)
			}
	}

	chain := NewInitChain()
	for _, s := range []struct {
		name string
		fail bool
	}{{"instance", false}, {"surface", false}, {"device", true}, {"swapchain", false}} {
		run, td := step(s.name, s.fail)
		chain.Then(s.name, run, td)
	}

	err := chain.Run()
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, PhaseInit, se.Phase)
	assert.Equal(t, "device", se.Stage)
	assert.Equal(t, []string{
		"run instance", "run surface", "run device",
		"teardown surface", "teardown instance",
	}, trace)
	assert.Empty(t, chain.Completed())
}

func TestInitChainSuccessKeepsCompletedStages(t *testing.T) {
	chain := NewInitChain().
		Then("window", func() error { return nil }, nil).
		Then("backend", func() error { return nil }, func() {})
	require.NoError(t, chain.Run())
	assert.Equal(t, []string{"window", "backend"}, chain.Completed())
}
