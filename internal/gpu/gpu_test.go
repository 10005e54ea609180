package gpu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/gpu"
)

// TestActivationNamesMatchCatalog guards against the two activation-name
// tables (this package's Backend dispatch tags and internal/activation's
// ByName catalog) drifting apart, since a Backend is expected to resolve
// every name internal/activation knows.
func TestActivationNamesMatchCatalog(t *testing.T) {
	names := []gpu.Activation{
		gpu.Sigmoid, gpu.Tanh, gpu.LeCunTanh, gpu.ReLU, gpu.LeakyReLU,
		gpu.AbsReLU, gpu.Softplus, gpu.ELU, gpu.Identity,
	}
	for _, name := range names {
		_, err := activation.ByName(string(name))
		assert.NoError(t, err, "gpu.Activation %q has no internal/activation counterpart", name)
	}
}

func TestNoneActivationIsEmptyString(t *testing.T) {
	assert.Equal(t, gpu.Activation(""), gpu.None)
}
