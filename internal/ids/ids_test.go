package ids

import (
	"sort"
	"sync"
	"testing"
)

func TestNewUniqueAndOrdered(t *testing.T) {
	const n = 1000
	got := make([]string, n)
	for i := range got {
		got[i] = New()
	}
	seen := make(map[string]bool, n)
	for _, id := range got {
		if len(id) != 26 {
			t.Fatalf("unexpected id length: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
	if !sort.StringsAreSorted(got) {
		t.Fatal("ids generated in sequence must sort in generation order")
	}
}

func TestNewConcurrent(t *testing.T) {
	const workers, per = 8, 200
	var (
		mu  sync.Mutex
		all = make(map[string]bool, workers*per)
		wg  sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, per)
			for i := range local {
				local[i] = New()
			}
			mu.Lock()
			for _, id := range local {
				if all[id] {
					t.Error("duplicate id under concurrency")
				}
				all[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
}
