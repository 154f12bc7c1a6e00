package tsid

import (
	"regexp"
	"sync"
	"testing"
	"time"
)

var crockfordPattern = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{13}$`)

func TestGenerateShape(t *testing.T) {
	id := Generate()

	if !crockfordPattern.MatchString(id) {
		t.Errorf("Generate() returned %q, want 13 uppercase Crockford Base32 characters", id)
	}
}

func TestGenerateUniqueness(t *testing.T) {
	const count = 10000

	ids := make(map[string]bool, count)
	for i := 0; i < count; i++ {
		id := Generate()
		if ids[id] {
			t.Fatalf("Duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

func TestGenerateConcurrent(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 1000

	var ids sync.Map
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id := Generate()
				if _, loaded := ids.LoadOrStore(id, true); loaded {
					t.Errorf("Duplicate ID under concurrency: %s", id)
				}
			}
		}()
	}
	wg.Wait()

	count := 0
	ids.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	if count != goroutines*perGoroutine {
		t.Errorf("Expected %d unique IDs, got %d", goroutines*perGoroutine, count)
	}
}

func TestGenerateSortsByTime(t *testing.T) {
	// Sortability holds at millisecond granularity, so space the ids out
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = Generate()
		time.Sleep(2 * time.Millisecond)
	}

	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("IDs not time-ordered: %s came after %s", ids[i], ids[i-1])
		}
	}
}

func TestRoundTrip(t *testing.T) {
	id := Generate()

	n, err := ToLong(id)
	if err != nil {
		t.Fatalf("ToLong(%q) failed: %v", id, err)
	}
	if back := ToString(n); back != id {
		t.Errorf("Round trip changed the ID: %q -> %q", id, back)
	}
}

func TestToLongRejectsInvalidCharacters(t *testing.T) {
	if _, err := ToLong("0123456789!@#"); err != ErrInvalidCharacter {
		t.Errorf("Expected ErrInvalidCharacter, got %v", err)
	}
}

func TestGetTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := Generate()
	after := time.Now().Add(time.Second)

	ts, err := GetTimestamp(id)
	if err != nil {
		t.Fatalf("GetTimestamp failed: %v", err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("Embedded timestamp %v outside window [%v, %v]", ts, before, after)
	}
}

func BenchmarkGenerate(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Generate()
	}
}

func BenchmarkGenerateParallel(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			Generate()
		}
	})
}
