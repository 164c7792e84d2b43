package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/module"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"activity", "gait", "posture", "sleep", "wear"}, r.Names())

	modules, err := r.Build(DefaultPipeline())
	require.NoError(t, err)
	require.Len(t, modules, 5)

	produced := map[string]string{}
	for _, m := range modules {
		spec := m.Spec()
		for _, p := range spec.Produces {
			prev, dup := produced[p]
			assert.False(t, dup, "metric %s produced by %s and %s", p, prev, spec.Name)
			produced[p] = spec.Name
		}
	}
	for _, m := range modules {
		for _, req := range m.Spec().Requires {
			assert.Contains(t, produced, req)
		}
	}
}

func TestRegistry_BadParams(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build([]module.Definition{{Name: "activity", Params: module.Params{"cutpoints": "nope"}}})
	require.Error(t, err)
	assert.True(t, pipeerrors.IsConfiguration(err))
}
