package ids

import (
	"strings"
	"sync"
	"testing"
)

func TestGenerateUnique(t *testing.T) {
	const workers, per = 8, 2000
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*per)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, Generate())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("duplicate ids: got %d unique, want %d", len(seen), workers*per)
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("conn")
	if !strings.HasPrefix(id, "conn_") || len(id) <= len("conn_") {
		t.Fatalf("WithPrefix() = %q", id)
	}
}
