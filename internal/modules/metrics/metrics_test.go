package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	before := testutil.ToFloat64(CopyTrades.WithLabelValues("10k"))
	CopyTrades.WithLabelValues("10k").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CopyTrades.WithLabelValues("10k")))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["terminal_copy_trades_total"])
	assert.True(t, names["go_goroutines"])
}
