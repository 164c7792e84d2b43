package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindConfiguration, "configuration"},
		{KindInsufficientData, "insufficient-data"},
		{KindModule, "module"},
		{KindKernel, "kernel"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.String())
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", fmt.Errorf("boom"), KindUnknown},
		{"cycle sentinel", ErrCyclicDependency, KindConfiguration},
		{"wrapped window rule", fmt.Errorf("x: %w", ErrInvalidWindowRule), KindConfiguration},
		{"insufficient sentinel", ErrInsufficientData, KindInsufficientData},
		{"kernel sentinel", ErrInvalidKernelInput, KindKernel},
		{"module sentinel", ErrModuleFault, KindModule},
		{"classified module", WrapModule(fmt.Errorf("bad"), "gait", "Run", "detect steps"), KindModule},
		{"kernelf", Kernelf("Rolling", "width %d", -1), KindKernel},
		{"configf", Configf(ErrCyclicDependency, "pipeline", "a -> b -> a"), KindConfiguration},
		{"insufficient", NewInsufficientData("sleep", "no rest period"), KindInsufficientData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestWrap_Format(t *testing.T) {
	err := Wrap(errors.New("eof"), "loader", "LoadCSV", "read row")
	assert.EqualError(t, err, "loader.LoadCSV: read row failed: eof")
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestClassified_Unwrap(t *testing.T) {
	err := Kernelf("FindPeaks", "negative prominence %v", -1.0)

	var pe *PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "kernel", pe.Component)
	assert.Equal(t, "FindPeaks", pe.Operation)
	assert.True(t, errors.Is(err, ErrInvalidKernelInput))
	assert.Contains(t, err.Error(), "negative prominence -1")
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsConfiguration(Configf(ErrDuplicateProducer, "pipeline", "metric x")))
	assert.True(t, IsInsufficientData(NewInsufficientData("wear", "empty")))
	assert.True(t, IsKernel(Kernelf("Rolling", "step 0")))
	assert.True(t, IsModule(WrapModule(errors.New("nan"), "sleep", "Run", "score")))
	assert.False(t, IsKernel(nil))
	assert.Nil(t, WrapModule(nil, "a", "b", "c"))
}
