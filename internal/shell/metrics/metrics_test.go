package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/core/lifecycle"
)

func finished(verb lifecycle.Verb, status lifecycle.Status) lifecycle.Event {
	return lifecycle.Event{
		Verb:     verb,
		Service:  "web",
		Instance: "shop_web_1",
		Status:   status,
		Duration: 200 * time.Millisecond,
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.Started(finished(lifecycle.VerbStart, lifecycle.StatusStarted))
	c.Finished(finished(lifecycle.VerbStart, lifecycle.StatusOK))
	c.Invocation("up")()
	assert.NoError(t, c.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestCollector_Finished(t *testing.T) {
	c, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	c.Finished(finished(lifecycle.VerbStart, lifecycle.StatusOK))
	c.Finished(finished(lifecycle.VerbStart, lifecycle.StatusOK))
	c.Finished(finished(lifecycle.VerbStart, lifecycle.StatusNoop))
	c.Finished(finished(lifecycle.VerbStop, lifecycle.StatusError))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Operations.WithLabelValues("start", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("start", "no-op")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("stop", "error")))

	// noop operations are not timed
	assert.Equal(t, 2, testutil.CollectAndCount(c.Duration))
}

func TestCollector_Invocation(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	done := c.Invocation("up")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Running.WithLabelValues("up")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Running.WithLabelValues("up")))
}

func TestCollector_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestCollector_WriteTextfile(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	c.Finished(finished(lifecycle.VerbCreate, lifecycle.StatusOK))

	path := filepath.Join(t.TempDir(), "stackctl.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `stackctl_instance_operations_total{status="ok",verb="create"} 1`)
	assert.Contains(t, string(data), "stackctl_instance_operation_seconds_bucket")
}

func TestCollector_EmptyPathIsNoop(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	assert.NoError(t, c.WriteTextfile(""))
}
