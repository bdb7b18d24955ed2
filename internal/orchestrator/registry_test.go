package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cewlabs/cew/models"
)

func TestRegistryAllocateEnforcesScenarioUniqueness(t *testing.T) {
	r := NewRegistry()

	first, err := r.Allocate("s1", "Scenario One", "instructor", false)
	require.NoError(t, err)
	assert.Equal(t, models.LabPending, first.Status)

	// pending is not active yet; a second allocation may proceed
	_, err = r.Allocate("s1", "Scenario One", "instructor", false)
	require.NoError(t, err)

	_, err = r.Transition(first.ID, models.LabStarting)
	require.NoError(t, err)

	_, err = r.Allocate("s1", "Scenario One", "instructor", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrScenarioAlreadyActive))

	// a different scenario is unaffected
	_, err = r.Allocate("s2", "Scenario Two", "instructor", false)
	assert.NoError(t, err)
}

func TestRegistryTransitionEnforcesStateMachine(t *testing.T) {
	r := NewRegistry()
	lab, err := r.Allocate("s1", "", "x", false)
	require.NoError(t, err)

	// pending cannot go straight to running
	_, err = r.Transition(lab.ID, models.LabRunning)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidState))

	for _, next := range []models.LabStatus{models.LabStarting, models.LabRunning, models.LabStopping, models.LabStopped} {
		_, err = r.Transition(lab.ID, next)
		require.NoError(t, err, "to %s", next)
	}

	// stopped is terminal, not even failed is reachable
	_, err = r.Transition(lab.ID, models.LabFailed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidState))
}

func TestRegistryAnyNonTerminalStateCanFail(t *testing.T) {
	r := NewRegistry()
	for _, prep := range [][]models.LabStatus{
		{},
		{models.LabStarting},
		{models.LabStarting, models.LabRunning},
		{models.LabStarting, models.LabRunning, models.LabStopping},
	} {
		lab, err := r.Allocate("sf", "", "x", false)
		require.NoError(t, err)
		for _, st := range prep {
			_, err = r.Transition(lab.ID, st)
			require.NoError(t, err)
		}
		_, err = r.Transition(lab.ID, models.LabFailed)
		require.NoError(t, err)
		require.NoError(t, r.Remove(lab.ID))
	}
}

func TestRegistryReverseScenarioLookup(t *testing.T) {
	r := NewRegistry()
	lab, err := r.Allocate("s1", "", "x", false)
	require.NoError(t, err)

	scenario, ok := r.ScenarioOf(lab.ID)
	require.True(t, ok)
	assert.Equal(t, "s1", scenario)

	_, ok = r.ScenarioOf("no-such-lab")
	assert.False(t, ok)
}

func TestRegistryRemoveRefusesActiveLab(t *testing.T) {
	r := NewRegistry()
	lab, err := r.Allocate("s1", "", "x", false)
	require.NoError(t, err)
	_, err = r.Transition(lab.ID, models.LabStarting)
	require.NoError(t, err)

	err = r.Remove(lab.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidState))

	_, err = r.Transition(lab.ID, models.LabFailed)
	require.NoError(t, err)
	require.NoError(t, r.Remove(lab.ID))

	_, err = r.Get(lab.ID)
	assert.True(t, errors.Is(err, models.ErrLabNotFound))
	_, ok := r.ScenarioOf(lab.ID)
	assert.False(t, ok)
}

func TestRegistryHandsOutCopies(t *testing.T) {
	r := NewRegistry()
	lab, err := r.Allocate("s1", "", "x", false)
	require.NoError(t, err)

	r.AppendContainer(lab.ID, models.ContainerInfo{ID: "c1", Hostname: "h1"})

	got, err := r.Get(lab.ID)
	require.NoError(t, err)
	got.Containers[0].Hostname = "mutated"
	got.Status = models.LabFailed

	again, err := r.Get(lab.ID)
	require.NoError(t, err)
	assert.Equal(t, "h1", again.Containers[0].Hostname)
	assert.Equal(t, models.LabPending, again.Status)
}

func TestRegistryListIndexes(t *testing.T) {
	r := NewRegistry()

	a, _ := r.Allocate("s1", "", "x", false)
	_, err := r.Transition(a.ID, models.LabStarting)
	require.NoError(t, err)

	b, _ := r.Allocate("s2", "", "x", false)
	_, err = r.Transition(b.ID, models.LabStarting)
	require.NoError(t, err)
	_, err = r.Transition(b.ID, models.LabRunning)
	require.NoError(t, err)

	c, _ := r.Allocate("s3", "", "x", false)
	_, err = r.Transition(c.ID, models.LabFailed)
	require.NoError(t, err)

	assert.Len(t, r.ListAll(), 3)
	assert.Len(t, r.ListActive(), 2)
	assert.Len(t, r.ListByScenario("s1"), 1)
	assert.Empty(t, r.ListByScenario("nope"))
}
