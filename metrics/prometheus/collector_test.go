package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/framecache"
	"github.com/hupe1980/framecache/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordTask(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordTask("thumbnail", "completed", 20*time.Millisecond)
	c.RecordTask("thumbnail", "completed", 30*time.Millisecond)
	c.RecordTask("thumbnail", "cancelled", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasks.WithLabelValues("thumbnail", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasks.WithLabelValues("thumbnail", "cancelled")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.taskDuration))
}

func TestCollector_RecordCacheLookup(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordCacheLookup("memory", true)
	c.RecordCacheLookup("memory", false)
	c.RecordCacheLookup("persistent", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("memory", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("memory", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("persistent", "miss")))
}

func TestCollector_RecordEvictionAndPreload(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordEviction("memory", "capacity", 1024)
	c.RecordEviction("memory", "capacity", 0)
	c.RecordPreload(8, 3, 1, 50*time.Millisecond)
	c.RecordCacheIOError("put")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.evictions.WithLabelValues("memory", "capacity")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(c.evictedBytes.WithLabelValues("memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.preloads))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.preloadKeys.WithLabelValues("submitted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.preloadKeys.WithLabelValues("resident")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.preloadKeys.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheIOErrors.WithLabelValues("put")))
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	assert.Panics(t, func() { New(reg) })
}

func TestCollector_WithCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	ctx := context.Background()
	fc, err := framecache.Open(ctx, framecache.WithMetricsCollector(c))
	require.NoError(t, err)
	defer fc.Close()

	key := model.NewKey("clip.mp4", 7)
	_, err = fc.GetOrGenerate(ctx, key, 0)
	require.NoError(t, err)

	_, ok := fc.Get(ctx, key)
	assert.True(t, ok)

	// Task events are delivered asynchronously.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(c.tasks.WithLabelValues("thumbnail", "completed")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(c.lookups.WithLabelValues("memory", "hit")), 1.0)
}
