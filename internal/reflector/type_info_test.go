package reflector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct{}

func TestTypeInfo(t *testing.T) {
	ti := TypeInfoFor[sample]()
	require.Equal(t, "github.com/egil/evstore/internal/reflector.sample", ti.Name)

	// pointers resolve to their base type
	require.Equal(t, ti.Name, TypeInfoOf(&sample{}).Name)
	require.Equal(t, ti.Name, TypeInfoOf(sample{}).Name)

	// cached lookups return the same value
	require.Equal(t, ti, TypeInfoFor[sample]())
}
