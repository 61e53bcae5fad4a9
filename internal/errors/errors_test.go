package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilder(t *testing.T) {
	t.Run("BasicBuild", func(t *testing.T) {
		base := NewStd("disk full")
		ee := New(base).
			Component("datastore").
			Category(CategoryDatabase).
			Context("operation", "add-samples").
			Build()

		assert.Equal(t, "disk full", ee.Error())
		assert.Equal(t, "datastore", ee.Component)
		assert.Equal(t, CategoryDatabase, ee.Category)
		assert.Equal(t, "add-samples", ee.GetContext()["operation"])
		assert.True(t, Is(ee, base), "enhanced error should match wrapped sentinel")
	})

	t.Run("DefaultsApplied", func(t *testing.T) {
		ee := Newf("boom %d", 42).Build()

		assert.Equal(t, "boom 42", ee.Error())
		assert.Equal(t, ComponentUnknown, ee.Component)
		assert.Equal(t, CategoryGeneric, ee.Category)
		assert.False(t, ee.Timestamp.IsZero())
	})

	t.Run("FileContextStripsDirectory", func(t *testing.T) {
		ee := New(NewStd("decode failed")).
			FileContext("/data/images/abnormal_001.jpg", 2048).
			Build()

		ctx := ee.GetContext()
		assert.Equal(t, "abnormal_001.jpg", ctx["file_name"])
		assert.Equal(t, ".jpg", ctx["file_extension"])
		assert.Equal(t, int64(2048), ctx["file_size"])
	})

	t.Run("ContextCopyIsIsolated", func(t *testing.T) {
		ee := New(NewStd("x")).Context("key", "value").Build()
		copied := ee.GetContext()
		copied["key"] = "mutated"

		assert.Equal(t, "value", ee.GetContext()["key"])
	})
}

func TestCategoryMatching(t *testing.T) {
	a := New(NewStd("a")).Category(CategoryTraining).Build()
	b := New(NewStd("b")).Category(CategoryTraining).Build()
	c := New(NewStd("c")).Category(CategoryPrediction).Build()

	assert.True(t, Is(a, b), "same category should match")
	assert.False(t, Is(a, c), "different category should not match")
}

func TestUnwrapChain(t *testing.T) {
	sentinel := NewStd("no such dataset")
	wrapped := fmt.Errorf("lookup: %w", sentinel)
	ee := New(wrapped).Category(CategoryNotFound).Build()

	assert.True(t, Is(ee, sentinel))

	var target *EnhancedError
	require.True(t, As(ee, &target))
	assert.Equal(t, CategoryNotFound, target.Category)
}

type countingReporter struct {
	mu    sync.Mutex
	count int
}

func (r *countingReporter) ReportError(*EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func TestTelemetryReporting(t *testing.T) {
	reporter := &countingReporter{}
	SetTelemetryReporter(reporter)
	defer SetTelemetryReporter(nil)

	ee := New(NewStd("network down")).Category(CategoryNetwork).Build()

	assert.True(t, ee.IsReported())
	reporter.mu.Lock()
	assert.Equal(t, 1, reporter.count)
	reporter.mu.Unlock()
}
