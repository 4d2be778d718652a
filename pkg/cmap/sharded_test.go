package cmap

import (
	"strconv"
	"sync"
	"testing"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{n: 1, want: 1},
		{n: 8, want: 8},
		{n: 64, want: 64},
		{n: 0, want: DefaultShardCount},
		{n: -4, want: DefaultShardCount},
		{n: 12, want: DefaultShardCount},
	}
	for _, tt := range tests {
		if got := NewWithShards[int](tt.n).ShardCount(); got != tt.want {
			t.Errorf("NewWithShards(%d).ShardCount() = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestMap_GetSetDelete(t *testing.T) {
	m := New[int]()

	if _, ok := m.Get("a"); ok {
		t.Fatal("Get on empty map reported a value")
	}

	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("a", 3)

	if v, ok := m.Get("a"); !ok || v != 3 {
		t.Errorf("Get(a) = %d, %v; want 3, true", v, ok)
	}
	if n := m.Count(); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}

	if !m.Delete("a") {
		t.Error("Delete(a) = false, want true")
	}
	if m.Delete("a") {
		t.Error("second Delete(a) = true, want false")
	}
	if n := m.Count(); n != 1 {
		t.Errorf("Count() after delete = %d, want 1", n)
	}
}

func TestMap_Update(t *testing.T) {
	m := New[int]()

	got := m.Update("k", func(cur int, exists bool) int {
		if exists {
			t.Error("Update on missing key reported exists")
		}
		return cur + 5
	})
	if got != 5 {
		t.Errorf("Update() = %d, want 5", got)
	}

	// Returning the current value leaves the entry unchanged.
	got = m.Update("k", func(cur int, exists bool) int {
		if !exists || cur != 5 {
			t.Errorf("Update saw %d, %v; want 5, true", cur, exists)
		}
		return cur
	})
	if got != 5 {
		t.Errorf("Update() = %d, want 5", got)
	}
}

func TestMap_Range(t *testing.T) {
	m := NewWithShards[int](4)
	for i := 0; i < 100; i++ {
		m.Set(strconv.Itoa(i), i)
	}

	sum := 0
	m.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	if sum != 4950 {
		t.Errorf("Range sum = %d, want 4950", sum)
	}

	visited := 0
	m.Range(func(string, int) bool {
		visited++
		return visited < 10
	})
	if visited != 10 {
		t.Errorf("Range visited %d entries after stop, want 10", visited)
	}
}

func TestMap_ConcurrentUpdate(t *testing.T) {
	m := New[int]()

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := strconv.Itoa(i % 10)
				m.Update(key, func(cur int, _ bool) int { return cur + 1 })
			}
		}()
	}
	wg.Wait()

	total := 0
	m.Range(func(_ string, v int) bool {
		total += v
		return true
	})
	if total != workers*perWorker {
		t.Errorf("total = %d, want %d", total, workers*perWorker)
	}
}

func BenchmarkMap_Update(b *testing.B) {
	m := New[int]()
	keys := make([]string, 1024)
	for i := range keys {
		keys[i] = "obj-" + strconv.Itoa(i)
	}
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Update(keys[i&1023], func(cur int, _ bool) int { return cur + 1 })
			i++
		}
	})
}
