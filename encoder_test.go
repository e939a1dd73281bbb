package taskq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONEncoder_TaskRoundtrip(t *testing.T) {
	enc := &JSONEncoder{}
	in := Task{
		ID:             "t1",
		Title:          "create records",
		Status:         StatusFailed,
		Items:          []any{"a", "b"},
		Total:          2,
		Completed:      1,
		Failed:         1,
		SucceededItems: []string{"a"},
		FailedItems:    []FailedItem{{ID: "b", Message: "boom"}},
		ErrorStrategy:  ContinueOnFailure,
		Retryable:      true,
		Result:         []byte(`{"ok":true}`),
	}
	data, err := enc.Encode(in)
	require.NoError(t, err, "encode should not error")

	var out Task
	require.NoError(t, enc.Decode(data, &out), "decode should not error")
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, in.FailedItems, out.FailedItems)
	assert.Equal(t, in.SucceededItems, out.SucceededItems)
	assert.JSONEq(t, `{"ok":true}`, string(out.Result))
}

func TestJSONEncoder_DecodeError(t *testing.T) {
	enc := &JSONEncoder{}
	var out struct{ A int }
	err := enc.Decode([]byte("{"), &out)
	require.Error(t, err, "expected error for invalid JSON")
}

func TestOutcome_DecodeResult(t *testing.T) {
	var empty Outcome
	var v map[string]int
	require.NoError(t, empty.DecodeResult(&v))
	require.Nil(t, v)

	o := Outcome{Result: []byte(`{"created":3}`)}
	require.NoError(t, o.DecodeResult(&v))
	require.Equal(t, 3, v["created"])
}

func TestTask_CloneIsolated(t *testing.T) {
	orig := &Task{ID: "x", Items: []any{1}, SucceededItems: []string{"1"}, FailedItems: []FailedItem{{Message: "m"}}}
	cp := orig.Clone()
	cp.SucceededItems[0] = "changed"
	cp.FailedItems[0].Message = "changed"
	cp.Items[0] = 2
	require.Equal(t, "1", orig.SucceededItems[0])
	require.Equal(t, "m", orig.FailedItems[0].Message)
	require.Equal(t, 1, orig.Items[0])
	require.Nil(t, (*Task)(nil).Clone())
}
