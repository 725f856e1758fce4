package main

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pjcompanyofficial/PJ-ECS/deletion"
	"github.com/pjcompanyofficial/PJ-ECS/watermark"
)

func newTestWizard(closed *atomic.Int32) *deletion.Wizard {
	return deletion.New("Flute catalogue", deletion.Config{Questions: testQuestions}, deletion.Deps{
		OnClose: func() { closed.Add(1) },
	})
}

func TestSessionRegistry_Sweep(t *testing.T) {
	registry := NewSessionRegistry()
	now := time.Now()
	registry.now = func() time.Time { return now }

	var closed atomic.Int32
	idle := newTestWizard(&closed)
	registry.AddDeletion("idle", "cii-1", idle)

	now = now.Add(10 * time.Minute)
	active := newTestWizard(&closed)
	registry.AddDeletion("active", "cii-2", active)
	registry.AddVerification("verifier", watermark.New(watermark.Deps{Camera: watermark.NewRemoteCamera()}, watermark.DefaultConfig()), nil)

	require.Equal(t, 1, registry.Sweep(5*time.Minute))
	require.Equal(t, int32(1), closed.Load())
	require.Equal(t, deletion.StateClosed, idle.Snapshot().State)
	require.Equal(t, deletion.StatePassword, active.Snapshot().State)

	_, err := registry.Deletion("idle")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.False(t, registry.DeletionPending("cii-1"))
	require.True(t, registry.DeletionPending("cii-2"))

	_, err = registry.Verification("verifier")
	require.NoError(t, err)
}

func TestSessionRegistry_LookupKeepsSessionAlive(t *testing.T) {
	registry := NewSessionRegistry()
	now := time.Now()
	registry.now = func() time.Time { return now }

	var closed atomic.Int32
	registry.AddDeletion("s1", "cii-1", newTestWizard(&closed))

	now = now.Add(4 * time.Minute)
	_, err := registry.Deletion("s1")
	require.NoError(t, err)

	now = now.Add(4 * time.Minute)
	require.Zero(t, registry.Sweep(5*time.Minute))
}

func TestSessionRegistry_CloseAll(t *testing.T) {
	registry := NewSessionRegistry()

	var closed atomic.Int32
	registry.AddDeletion("s1", "cii-1", newTestWizard(&closed))
	registry.AddDeletion("s2", "cii-2", newTestWizard(&closed))

	camera := watermark.NewRemoteCamera()
	verifier := watermark.New(watermark.Deps{Camera: camera}, watermark.DefaultConfig())
	camera.Grant()
	require.NoError(t, verifier.ChooseCamera(t.Context()))
	registry.AddVerification("v1", verifier, camera)

	require.Equal(t, 3, registry.CloseAll())
	require.Equal(t, int32(2), closed.Load())
	require.False(t, camera.InUse())
	require.ErrorIs(t, verifier.Back(), watermark.ErrClosed)

	require.Zero(t, registry.CloseAll())
}
