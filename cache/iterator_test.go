package cache

import (
	"testing"
	"time"
)

func TestCache_IteratorWalksMRUToLRU(t *testing.T) {
	c := New[string, int](Options[string, int]{Capacity: 8, PositiveTTL: time.Minute})
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	c.Lock()
	var order []string
	for it := c.NewIterator(); it.HasCurr(); it.Next() {
		k, _ := it.GetCurr()
		order = append(order, k)
	}
	c.Unlock()

	want := []string{"c", "b", "a"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}
