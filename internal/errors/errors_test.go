package errors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilder(t *testing.T) {
	t.Parallel()

	err := Newf("block size %d is not a power of two", 100).
		Component("audiograph").
		Category(CategoryValidation).
		Context("block_size", 100).
		Build()

	require.NotNil(t, err)
	assert.Equal(t, "block size 100 is not a power of two", err.Error())
	assert.Equal(t, "audiograph", err.GetComponent())
	assert.Equal(t, string(CategoryValidation), err.GetCategory())
	assert.Equal(t, 100, err.GetContext()["block_size"])
	assert.WithinDuration(t, time.Now(), err.GetTimestamp(), time.Second)
}

func TestErrorBuilderDefaults(t *testing.T) {
	t.Parallel()

	err := New(NewStd("boom")).Build()
	assert.Equal(t, CategoryGeneric, err.Category)
	assert.Equal(t, ComponentUnknown, err.GetComponent())
	assert.Nil(t, err.GetContext())
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	base := NewStd("base failure")
	err := New(base).Category(CategoryBuffer).Build()

	assert.True(t, Is(err, base))
	assert.Equal(t, base, Unwrap(err))
}

func TestIsCategory(t *testing.T) {
	t.Parallel()

	err := New(NewStd("unknown node")).Category(CategoryNotFound).Build()
	assert.True(t, IsCategory(err, CategoryNotFound))
	assert.False(t, IsCategory(err, CategoryTopology))
	assert.True(t, IsNotFound(err))

	assert.False(t, IsCategory(NewStd("plain"), CategoryNotFound))
}

func TestCategoryMatchingViaIs(t *testing.T) {
	t.Parallel()

	a := New(NewStd("first")).Category(CategoryCorruption).Build()
	b := New(NewStd("second")).Category(CategoryCorruption).Build()

	// EnhancedError targets match on category
	assert.True(t, Is(a, b))
}

func TestPriorityValidation(t *testing.T) {
	t.Parallel()

	err := New(NewStd("x")).Priority("bogus").Build()
	assert.Equal(t, PriorityMedium, err.GetPriority())

	err = New(NewStd("x")).Priority(PriorityCritical).Build()
	assert.Equal(t, PriorityCritical, err.GetPriority())

	err = New(NewStd("x")).Build()
	assert.Empty(t, err.GetPriority())
}

func TestContextCopyIsolation(t *testing.T) {
	t.Parallel()

	err := New(NewStd("x")).Context("k", "v").Build()
	ctx := err.GetContext()
	ctx["k"] = "mutated"

	assert.Equal(t, "v", err.GetContext()["k"])
}

func TestNilErrorSentinel(t *testing.T) {
	t.Parallel()

	// Sentinel errors built from nil report their category as the message
	err := New(nil).Category(CategoryNotFound).Build()
	assert.Equal(t, string(CategoryNotFound), err.Error())
	assert.Empty(t, err.GetMessage())
}

func TestWrappedSentinelInheritsCategory(t *testing.T) {
	t.Parallel()

	sentinel := New(nil).Category(CategoryState).Build()
	wrapped := New(sentinel).Component("test").Context("node_id", "n1").Build()

	assert.Equal(t, CategoryState, wrapped.Category)
	assert.True(t, Is(wrapped, sentinel))
	assert.True(t, IsCategory(wrapped, CategoryState))
}
