package stats

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Process(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Process("/a/b")
	c.Process("/a/c")

	counters := c.Counters()

	assert.Equal(t, int64(2), counters["/"])
	assert.Equal(t, int64(2), counters["/a"])
	assert.Equal(t, int64(1), counters["/a/b"])
	assert.Equal(t, int64(1), counters["/a/c"])
}

func TestCollector_Process_PrefixDominatesChildren(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Process("/a/b")
	c.Process("/a/b/c")
	c.Process("/a")

	counters := c.Counters()

	assert.GreaterOrEqual(t, counters["/a"], counters["/a/b"])
	assert.GreaterOrEqual(t, counters["/a/b"], counters["/a/b/c"])
	assert.Equal(t, int64(3), counters["/"])
}

func TestCollector_Process_RootPath(t *testing.T) {
	t.Parallel()

	// The root path splits into a single empty segment, so "/" is
	// counted once as the root prefix and once as the segment path.
	c := NewCollector()
	c.Process("/")

	counters := c.Counters()

	assert.Equal(t, int64(2), counters["/"])
	assert.Len(t, counters, 1)
}

func TestCollector_Process_RecordsRequests(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Process("/a/b")
	c.Process("/a/b")

	details := c.Details()

	require.Len(t, details, 2)
	assert.Equal(t, "/a/b", details[0].Path)
	assert.Equal(t, "/a/b", details[1].Path)
}

func TestCollector_Error(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Error("/a/b", "no route matches")
	c.Error("/x", "backend unavailable")

	counters := c.Counters()
	errs := c.Errors()

	assert.Equal(t, int64(2), counters[ErrorCounter])
	require.Len(t, errs, 2)
	assert.Equal(t, "/a/b", errs[0].Path)
	assert.Equal(t, "no route matches", errs[0].Message)
	assert.Equal(t, "/x", errs[1].Path)
}

func TestCollector_Error_DoesNotTouchPathCounters(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Error("/a/b", "boom")

	counters := c.Counters()

	assert.Equal(t, int64(1), counters[ErrorCounter])
	assert.NotContains(t, counters, "/a/b")
	assert.NotContains(t, counters, "/")
}

func TestCollector_Report(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Process("/a")
	c.Error("/a", "boom")

	report := c.Report()

	assert.Equal(t, int64(1), report.Statistics["/a"])
	assert.Equal(t, int64(1), report.Statistics[ErrorCounter])
	require.Len(t, report.Details, 1)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "/a", report.Details[0].Path)
	assert.Equal(t, "boom", report.Errors[0].Message)
}

func TestCollector_Report_EmptyMarshalsToArrays(t *testing.T) {
	t.Parallel()

	c := NewCollector()

	data, err := json.Marshal(c.Report())
	require.NoError(t, err)

	assert.JSONEq(t, `{"statistics":{},"details":[],"errors":[]}`, string(data))
}

func TestCollector_CopiesAreIndependent(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Process("/a")

	counters := c.Counters()
	counters["/a"] = 99
	details := c.Details()
	details[0].Path = "/mutated"

	assert.Equal(t, int64(1), c.Counters()["/a"])
	assert.Equal(t, "/a", c.Details()[0].Path)
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Process("/a/b")
				c.Error("/a/b", "boom")
				_ = c.Report()
			}
		}()
	}
	wg.Wait()

	counters := c.Counters()
	assert.Equal(t, int64(1000), counters["/a/b"])
	assert.Equal(t, int64(1000), counters[ErrorCounter])
	assert.Len(t, c.Details(), 1000)
	assert.Len(t, c.Errors(), 1000)
}
