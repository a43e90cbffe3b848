package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserve(t *testing.T) {
	counter := Operations.WithLabelValues("network", "create", ResultSuccess)
	before := testutil.ToFloat64(counter)

	Observe("network", "create", ResultSuccess)
	Observe("network", "create", ResultSuccess)

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}
