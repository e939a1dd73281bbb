package taskq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type namedItem struct{ code string }

func (n namedItem) ItemID() string { return "item-" + n.code }

type hostRecord struct {
	Name string
	IP   string
}

type keyed struct {
	ID  int
	Key string
}

func TestDefaultItemID(t *testing.T) {
	cases := []struct {
		name string
		item any
		want string
	}{
		{"nil", nil, ""},
		{"string", "www", "www"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"uint", uint(7), "7"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
		{"json number", json.Number("12"), "12"},
		{"stringer", 2 * time.Second, "2s"},
		{"itemID method", namedItem{code: "x"}, "item-x"},
		{"map id", map[string]any{"id": 9, "name": "ignored"}, "9"},
		{"map name", map[string]any{"name": "api"}, "api"},
		{"map string", map[string]string{"uuid": "u-1"}, "u-1"},
		{"struct name", hostRecord{Name: "db", IP: "10.0.0.1"}, "db"},
		{"struct pointer", &hostRecord{Name: "db"}, "db"},
		{"struct id first", keyed{ID: 3, Key: "k"}, "3"},
		{"json fallback", []int{1, 2}, "[1,2]"},
		{"map without id", map[string]any{"x": 1}, `{"x":1}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, DefaultItemID(c.item))
		})
	}
}

func TestDefaultItemID_EmptyStructFieldFallsThrough(t *testing.T) {
	require.Equal(t, "k", DefaultItemID(struct{ Name, Key string }{Key: "k"}))
}
