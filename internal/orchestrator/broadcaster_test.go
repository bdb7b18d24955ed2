package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cewlabs/cew/internal/backend"
	"github.com/cewlabs/cew/models"
)

func waitSnapshot(t *testing.T, sub *Subscription) models.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		require.True(t, ok, "channel closed before a snapshot arrived")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot within 2s")
		return models.Snapshot{}
	}
}

func TestBroadcasterDeliversSnapshots(t *testing.T) {
	o := New(testConfig(), backend.NewSimulation())

	lab, err := o.CreateLab(context.Background(), testRequest("s1"))
	require.NoError(t, err)

	sub, err := o.Broadcaster().Subscribe(lab.ID)
	require.NoError(t, err)
	defer o.Broadcaster().Unsubscribe(sub)

	assert.Equal(t, lab.ID, sub.LabID())

	snap := waitSnapshot(t, sub)
	assert.Equal(t, lab.ID, snap.LabID)
	assert.Len(t, snap.Health, 3)
	assert.Len(t, snap.Usage, 3)

	// Subsequent polls keep arriving.
	snap2 := waitSnapshot(t, sub)
	assert.False(t, snap2.Timestamp.Before(snap.Timestamp))
}

func TestBroadcasterRejectsUnknownLab(t *testing.T) {
	o := New(testConfig(), backend.NewSimulation())

	_, err := o.Broadcaster().Subscribe("no-such-lab")
	assert.Error(t, err)
}

func TestBroadcasterRetiresAfterStop(t *testing.T) {
	o := New(testConfig(), backend.NewSimulation())

	lab, err := o.CreateLab(context.Background(), testRequest("s1"))
	require.NoError(t, err)

	sub, err := o.Broadcaster().Subscribe(lab.ID)
	require.NoError(t, err)

	waitSnapshot(t, sub)

	_, err = o.StopLab(context.Background(), lab.ID)
	require.NoError(t, err)

	// The publisher notices the lab is gone within a poll period and closes
	// every subscriber channel.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Snapshots():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after lab stop")
		}
	}
}

func TestBroadcasterDropsOldestOnOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.QueueSize = 1

	o := New(cfg, backend.NewSimulation())

	lab, err := o.CreateLab(context.Background(), testRequest("s1"))
	require.NoError(t, err)

	sub, err := o.Broadcaster().Subscribe(lab.ID)
	require.NoError(t, err)
	defer o.Broadcaster().Unsubscribe(sub)

	// Never read; let the publisher lap the queue several times. A slow
	// observer must not block the publisher.
	start := time.Now()
	time.Sleep(5 * cfg.Orchestrator.PollInterval)

	snap := waitSnapshot(t, sub)
	assert.True(t, snap.Timestamp.After(start),
		"expected a fresh snapshot, got one from before the overflow window")
	assert.LessOrEqual(t, len(sub.Snapshots()), 1)
}

func TestBroadcasterUnsubscribeIdempotent(t *testing.T) {
	o := New(testConfig(), backend.NewSimulation())

	lab, err := o.CreateLab(context.Background(), testRequest("s1"))
	require.NoError(t, err)

	sub, err := o.Broadcaster().Subscribe(lab.ID)
	require.NoError(t, err)

	o.Broadcaster().Unsubscribe(sub)
	o.Broadcaster().Unsubscribe(sub)
	o.Broadcaster().Unsubscribe(nil)
}

func TestBroadcasterPublishNow(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.PollInterval = time.Hour // only explicit nudges tick

	o := New(cfg, backend.NewSimulation())

	lab, err := o.CreateLab(context.Background(), testRequest("s1"))
	require.NoError(t, err)

	sub, err := o.Broadcaster().Subscribe(lab.ID)
	require.NoError(t, err)
	defer o.Broadcaster().Unsubscribe(sub)

	// The publisher emits once on startup regardless of the interval.
	waitSnapshot(t, sub)

	o.Broadcaster().PublishNow(lab.ID)
	waitSnapshot(t, sub)
}
