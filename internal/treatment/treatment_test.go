package treatment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myxcli/internal/flow"
)

func TestRegisterAll(t *testing.T) {
	r := flow.NewRegistry()
	require.NoError(t, RegisterAll(r))
	assert.Equal(t,
		[]string{"aggregate", "clean", "exportcsv", "normalize", "parse", "resample", "transform"},
		r.Names())

	require.Error(t, RegisterAll(r), "double registration is rejected")
}
