package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestByteSizeUnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{`268435456`, 256 * 1024 * 1024, false},
		{`"256m"`, 256 * 1024 * 1024, false},
		{`"1g"`, 1024 * 1024 * 1024, false},
		{`"2GiB"`, 2 * 1024 * 1024 * 1024, false},
		{`"lots"`, 0, true},
		{`true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got ByteSize
			err := json.Unmarshal([]byte(tt.in), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestByteSizeUnmarshalYAML(t *testing.T) {
	var limits ResourceLimits
	require.NoError(t, yaml.Unmarshal([]byte("memory_limit: 512m\ncpu_quota: 25000\n"), &limits))
	assert.Equal(t, ByteSize(512*1024*1024), limits.MemoryBytes)
	assert.Equal(t, int64(25000), limits.CPUQuota)

	require.NoError(t, yaml.Unmarshal([]byte("memory_limit: 1048576\n"), &limits))
	assert.Equal(t, ByteSize(1048576), limits.MemoryBytes)

	assert.Error(t, yaml.Unmarshal([]byte("memory_limit: lots\n"), &limits))
}

func TestResourceLimitsCheckCPU(t *testing.T) {
	tests := []struct {
		name   string
		limits ResourceLimits
		cpus   int
		wantOK bool
	}{
		{"within one cpu", ResourceLimits{CPUPeriod: 100000, CPUQuota: 50000}, 1, true},
		{"exactly full capacity", ResourceLimits{CPUPeriod: 100000, CPUQuota: 400000}, 4, true},
		{"over capacity", ResourceLimits{CPUPeriod: 100000, CPUQuota: 400001}, 4, false},
		{"absurd quota", ResourceLimits{CPUPeriod: 100000, CPUQuota: 1 << 40}, 64, false},
		{"no period set", ResourceLimits{CPUQuota: 1 << 40}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.CheckCPU(tt.cpus)
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrTopologyMalformed)
			}
		})
	}
}

func TestResourceLimitsResolve(t *testing.T) {
	fallback := DefaultResourceLimits()

	t.Run("empty takes the fallback", func(t *testing.T) {
		got := (ResourceLimits{}).Resolve(fallback)
		assert.Equal(t, fallback, got)
	})

	t.Run("set fields win field by field", func(t *testing.T) {
		got := (ResourceLimits{MemoryBytes: 1 << 30}).Resolve(fallback)
		assert.Equal(t, ByteSize(1<<30), got.MemoryBytes)
		assert.Equal(t, fallback.CPUPeriod, got.CPUPeriod)
		assert.Equal(t, fallback.CPUQuota, got.CPUQuota)
	})

	t.Run("fully set ignores the fallback", func(t *testing.T) {
		full := ResourceLimits{MemoryBytes: 1, CPUPeriod: 2, CPUQuota: 3}
		assert.Equal(t, full, full.Resolve(fallback))
	})
}

func TestLabCreationErrorWraps(t *testing.T) {
	cause := ErrTopologyMalformed
	err := &LabCreationError{LabID: "lab-1", Cause: cause}

	assert.ErrorIs(t, err, ErrTopologyMalformed)
	assert.Contains(t, err.Error(), "lab-1")
}
