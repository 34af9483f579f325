package workerpool

import (
	"sync/atomic"
	"testing"
)

func TestRunCoversEveryIndexExactlyOnce(t *testing.T) {
	n := 97
	seen := make([]int32, n)
	RunIndexed(n, 8, func(i int) {
		atomic.AddInt32(&seen[i], 1)
	})
	for i, v := range seen {
		if v != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, v)
		}
	}
}

func TestRunWithZeroItemsIsNoop(t *testing.T) {
	called := false
	Run(0, 4, func(start, end int) { called = true })
	if called {
		t.Fatal("expected fn not to be called for n=0")
	}
}

func TestRunWithMoreWorkersThanItems(t *testing.T) {
	var total int32
	RunIndexed(3, 16, func(i int) {
		atomic.AddInt32(&total, 1)
	})
	if total != 3 {
		t.Fatalf("expected 3 calls, got %d", total)
	}
}
