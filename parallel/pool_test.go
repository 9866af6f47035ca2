package parallel

import (
	"sync/atomic"
	"testing"
)

func TestPoolCoversEveryIndexOnce(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		n       int
	}{
		{"below threshold", 4, 10},
		{"exact multiple", 4, 400},
		{"ragged tail", 3, 1001},
		{"more workers than chunks", 16, 70},
		{"single worker", 1, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(tt.workers, 0)
			defer p.Close()

			hits := make([]int32, tt.n)
			p.Run(tt.n, func(start, end, worker int) {
				if worker < 0 || worker >= p.Workers() {
					t.Errorf("worker id %d out of range", worker)
				}
				for i := start; i < end; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
			})

			for i, h := range hits {
				if h != 1 {
					t.Fatalf("index %d visited %d times", i, h)
				}
			}
		})
	}
}

func TestPoolReuseAcrossRuns(t *testing.T) {
	p := NewPool(4, 8)
	defer p.Close()

	var total int64
	for round := 0; round < 10; round++ {
		p.Run(100, func(start, end, _ int) {
			atomic.AddInt64(&total, int64(end-start))
		})
	}
	if total != 1000 {
		t.Errorf("expected 1000 items processed, got %d", total)
	}
}

func TestNilPoolRunsInline(t *testing.T) {
	var p *Pool
	if p.Workers() != 1 {
		t.Errorf("nil pool should report 1 worker, got %d", p.Workers())
	}

	calls := 0
	p.Run(500, func(start, end, worker int) {
		calls++
		if start != 0 || end != 500 || worker != 0 {
			t.Errorf("unexpected chunk [%d,%d) on worker %d", start, end, worker)
		}
	})
	if calls != 1 {
		t.Errorf("expected a single inline call, got %d", calls)
	}
	p.Close()
}

func TestPoolZeroItems(t *testing.T) {
	p := NewPool(2, 0)
	defer p.Close()
	p.Run(0, func(start, end, worker int) {
		t.Error("fn should not be called for zero items")
	})
}
