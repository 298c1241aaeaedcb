package cache

import (
	"strings"
	"testing"
)

type point struct {
	X, Y int
}

type named string

func (n named) String() string { return "named:" + string(n) }

type stamp struct{ v int }

func (s stamp) String() string { return "stamp" }

func TestKeySerializer_Values(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	var nilPtr *int
	seven := 7

	tests := []struct {
		name   string
		method string
		args   []any
		want   string
	}{
		{"no args", "List", nil, "List"},
		{"int", "Get", []any{int64(42)}, "Get::42"},
		{"mixed basics", "List", []any{1, "page", true, 2.5}, "List::1::page::true::2.5"},
		{"nil", "Get", []any{nil}, "Get::nil"},
		{"nil pointer", "Get", []any{nilPtr}, "Get::nil"},
		{"pointer", "Get", []any{&seven}, "Get::7"},
		{"slice", "Find", []any{[]string{"a", "b"}}, "Find::[a,b]"},
		{"nil slice", "Find", []any{[]int(nil)}, "Find::[]"},
		{"map sorted", "Find", []any{map[string]int{"b": 2, "a": 1}}, "Find::{a=1,b=2}"},
		{"struct", "Find", []any{point{X: 1, Y: 2}}, `Find::{"X":1,"Y":2}`},
		{"string kind", "Find", []any{named("x")}, "Find::x"},
		{"stringer struct", "Find", []any{stamp{v: 1}}, "Find::stamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serializer.SerializeKey(tt.method, tt.args...); got != tt.want {
				t.Errorf("SerializeKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeySerializer_Namespace(t *testing.T) {
	serializer := NewNamespacedKeySerializer("osrd_infra_infra")

	got := serializer.SerializeKey("Get", int64(3))
	if got != "osrd_infra_infra::Get::3" {
		t.Errorf("SerializeKey() = %q", got)
	}
	if !strings.HasPrefix(got, Prefix("osrd_infra_infra")) {
		t.Errorf("key %q lacks namespace prefix", got)
	}
	if got := serializer.SerializeKey("List"); got != "osrd_infra_infra::List" {
		t.Errorf("SerializeKey() = %q", got)
	}
}

func TestKeySerializer_FunctionsAreStableInProcess(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	fn := func() {}

	a := serializer.SerializeKey("List", fn)
	b := serializer.SerializeKey("List", fn)
	if a != b {
		t.Errorf("same function produced %q and %q", a, b)
	}
	if !strings.HasPrefix(a, "List::func:") {
		t.Errorf("unexpected function key %q", a)
	}
}

func TestKeySerializer_LongKeysAreHashed(t *testing.T) {
	serializer := NewNamespacedKeySerializer("ns")
	long := strings.Repeat("x", MaxKeyLength)

	a := serializer.SerializeKey("Find", long, 1)
	b := serializer.SerializeKey("Find", long, 1)
	c := serializer.SerializeKey("Find", long, 2)

	if len(a) > MaxKeyLength {
		t.Errorf("key length %d exceeds %d", len(a), MaxKeyLength)
	}
	if !strings.HasPrefix(a, "ns::Find::h:") {
		t.Errorf("hashed key %q lost its prefix", a)
	}
	if a != b {
		t.Error("hashing is not deterministic")
	}
	if a == c {
		t.Error("different arguments hashed to the same key")
	}
}

func TestKeySerializer_MapOrderIndependent(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	m := map[int]string{3: "c", 1: "a", 2: "b"}

	first := serializer.SerializeKey("Find", m)
	for i := 0; i < 20; i++ {
		if got := serializer.SerializeKey("Find", m); got != first {
			t.Fatalf("map key changed between calls: %q vs %q", got, first)
		}
	}
}
