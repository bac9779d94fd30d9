package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type ordered struct {
	id    string
	order LoadingOrder
}

func (o ordered) OrderID() string            { return o.id }
func (o ordered) LoadingOrder() LoadingOrder { return o.order }

func ids(items []ordered) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.id)
	}
	return out
}

func TestParseLoadingOrder(t *testing.T) {
	tests := []struct {
		in     string
		first  bool
		last   bool
		before []string
		after  []string
		str    string
	}{
		{in: "", str: "any"},
		{in: "first", first: true, str: "first"},
		{in: "LAST", last: true, str: "last"},
		{in: "before:b", before: []string{"b"}, str: "before:b"},
		{in: "after x", after: []string{"x"}, str: "after:x"},
		{in: "first, before:b", first: true, before: []string{"b"}, str: "first, before:b"},
		{in: "first, last", first: true, str: "first"},
		{in: "sideways, before:", str: "any"},
		{in: "after:a, after:b", after: []string{"a", "b"}, str: "after:a, after:b"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			o := ParseLoadingOrder(tt.in)
			assert.Equal(t, tt.first, o.IsFirst())
			assert.Equal(t, tt.last, o.IsLast())
			assert.Equal(t, tt.before, o.BeforeIDs())
			assert.Equal(t, tt.after, o.AfterIDs())
			assert.Equal(t, tt.str, o.String())
		})
	}
}

func TestSortByLoadingOrder(t *testing.T) {
	tests := []struct {
		name  string
		items []ordered
		want  []string
	}{
		{
			name:  "unconstrained keeps registration order",
			items: []ordered{{id: "a"}, {id: "b"}, {id: "c"}},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "first and before",
			items: []ordered{{id: "A", order: FirstOrder}, {id: "B"}, {id: "C", order: Before("B")}},
			want:  []string{"A", "C", "B"},
		},
		{
			name:  "last goes to the end",
			items: []ordered{{id: "z", order: LastOrder}, {id: "a"}, {id: "b", order: FirstOrder}},
			want:  []string{"b", "a", "z"},
		},
		{
			name:  "after",
			items: []ordered{{id: "a", order: After("c")}, {id: "b"}, {id: "c"}},
			want:  []string{"b", "c", "a"},
		},
		{
			name:  "unknown id is no constraint",
			items: []ordered{{id: "a", order: After("nobody")}, {id: "b"}},
			want:  []string{"a", "b"},
		},
		{
			name:  "constraints do not cross anchor groups",
			items: []ordered{{id: "a", order: FirstOrder}, {id: "b", order: Before("a")}},
			want:  []string{"a", "b"},
		},
		{
			name:  "cycle is broken by registration order",
			items: []ordered{{id: "a", order: After("b")}, {id: "b", order: After("a")}, {id: "c"}},
			want:  []string{"c", "a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(SortByLoadingOrder(tt.items)))
		})
	}
}

func TestSortByLoadingOrderIsDeterministic(t *testing.T) {
	items := []ordered{
		{id: "a", order: Before("c")},
		{id: "b", order: After("a")},
		{id: "c", order: After("b")},
		{id: "d", order: LastOrder},
	}
	first := ids(SortByLoadingOrder(items))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ids(SortByLoadingOrder(items)))
	}
	assert.Equal(t, "a", items[0].id, "input must not be reordered")
}
