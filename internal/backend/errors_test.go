package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"

	"github.com/cewlabs/cew/internal/config"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"daemon not found", cerrdefs.ErrNotFound, ErrNotFound},
		{"wrapped not found", fmt.Errorf("inspect: %w", cerrdefs.ErrNotFound), ErrNotFound},
		{"conflict", cerrdefs.ErrConflict, ErrResourceConflict},
		{"deadline", context.DeadlineExceeded, ErrTransient},
		{"cancelled", context.Canceled, ErrTransient},
		{"anything else", errors.New("daemon exploded"), ErrFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), "op")
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("remove: %w", ErrNotFound)))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(ErrFatal))
}

func TestNewForcedSimulation(t *testing.T) {
	be := New(config.BackendConfig{Mode: config.BackendModeSimulation})
	assert.Equal(t, ModeSimulation, be.Mode())
}
