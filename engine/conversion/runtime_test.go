package conversion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/engine/exec"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := NewRuntime(Options{})
	require.NoError(t, err)
	return r
}

func TestConvert(t *testing.T) {
	t.Run("Should pass value through unchanged when source is empty", func(t *testing.T) {
		r := newTestRuntime(t)
		in := map[string]any{"a": 1.0}
		out, cerr := r.Convert(t.Context(), "e1", "", in)
		require.Nil(t, cerr)
		assert.Equal(t, in, out)
	})

	t.Run("Should reshape upstream output into downstream input", func(t *testing.T) {
		r := newTestRuntime(t)
		out, cerr := r.Convert(t.Context(), "e1",
			`{"text": "score is " + string(input_data.score)}`,
			map[string]any{"score": int64(42)})
		require.Nil(t, cerr)
		assert.Equal(t, map[string]any{"text": "score is 42"}, out)
	})

	t.Run("Should be equivalent to identity for a passthrough expression", func(t *testing.T) {
		r := newTestRuntime(t)
		in := map[string]any{"k": "v", "n": int64(3)}
		out, cerr := r.Convert(t.Context(), "e1", InputVar, in)
		require.Nil(t, cerr)
		assert.Equal(t, in, out)
	})

	t.Run("Should report edge id on failure", func(t *testing.T) {
		r := newTestRuntime(t)
		_, cerr := r.Convert(t.Context(), "edge-7", `input_data.missing.deep`, map[string]any{})
		require.NotNil(t, cerr)
		assert.Equal(t, string(exec.KindConversionError), cerr.Code)
		assert.Equal(t, "edge-7", cerr.Details["edge_id"])
	})
}

func TestParse(t *testing.T) {
	r := newTestRuntime(t)

	t.Run("Should accept pure data expressions", func(t *testing.T) {
		assert.NoError(t, r.Parse(`{"items": input_data.items.map(i, i * 2)}`))
	})

	t.Run("Should reject I/O and imports at parse", func(t *testing.T) {
		assert.Error(t, r.Parse(`open("/etc/passwd")`))
		assert.Error(t, r.Parse(`import os`))
		assert.Error(t, r.Parse(`os.environ`))
	})

	t.Run("Should reject empty and malformed sources", func(t *testing.T) {
		assert.Error(t, r.Parse("   "))
		assert.Error(t, r.Parse(`input_data +`))
	})
}

func TestTimeBudget(t *testing.T) {
	r, err := NewRuntime(Options{TimeBudget: time.Nanosecond})
	require.NoError(t, err)
	_, cerr := r.Convert(t.Context(), "e1", `input_data.items.map(i, i * 2)`,
		map[string]any{"items": []any{int64(1), int64(2)}})
	require.NotNil(t, cerr)
	assert.Equal(t, string(exec.KindConversionError), cerr.Code)
	assert.Contains(t, cerr.Message, "time budget")
}

func TestEvalCondition(t *testing.T) {
	r := newTestRuntime(t)

	t.Run("Should evaluate field paths over input keys", func(t *testing.T) {
		ok, err := r.EvalCondition(t.Context(), "data.score >= 40",
			map[string]any{"data": map[string]any{"score": int64(42)}})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.EvalCondition(t.Context(), "data.score >= 40 && data.score < 41",
			map[string]any{"data": map[string]any{"score": int64(42)}})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should reject non-boolean conditions", func(t *testing.T) {
		_, err := r.EvalCondition(t.Context(), `"yes"`, map[string]any{})
		assert.Error(t, err)
	})

	t.Run("Should reject references to undeclared inputs", func(t *testing.T) {
		_, err := r.EvalCondition(t.Context(), "other.field == 1", map[string]any{"data": 1})
		assert.Error(t, err)
	})
}
