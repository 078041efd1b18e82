package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingDescriber struct {
	calls atomic.Int64
	err   error
}

func (c *countingDescriber) Describe(ctx context.Context, allowedTables []string) (Descriptor, error) {
	c.calls.Add(1)
	if c.err != nil {
		return Descriptor{}, c.err
	}
	return Descriptor{Tables: []Table{{Name: "orders"}}, FetchedAt: time.Now()}, nil
}

func TestCacheServesSecondLookupFromMemory(t *testing.T) {
	source := &countingDescriber{}
	cache := NewCache(source, time.Minute)
	defer cache.Stop()

	for i := 0; i < 3; i++ {
		descriptor, err := cache.Describe(context.Background(), []string{"orders"})
		if err != nil {
			t.Fatalf("Describe() error = %v", err)
		}
		if len(descriptor.Tables) != 1 {
			t.Fatalf("tables = %d, want 1", len(descriptor.Tables))
		}
	}

	if got := source.calls.Load(); got != 1 {
		t.Fatalf("source calls = %d, want 1", got)
	}
}

func TestCacheKeyIgnoresOrderAndCase(t *testing.T) {
	source := &countingDescriber{}
	cache := NewCache(source, time.Minute)
	defer cache.Stop()

	if _, err := cache.Describe(context.Background(), []string{"Orders", "customers"}); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if _, err := cache.Describe(context.Background(), []string{"customers", "orders"}); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	if got := source.calls.Load(); got != 1 {
		t.Fatalf("source calls = %d, want 1", got)
	}
}

func TestCacheDoesNotRetainFailures(t *testing.T) {
	source := &countingDescriber{err: errors.New("boom")}
	cache := NewCache(source, time.Minute)
	defer cache.Stop()

	if _, err := cache.Describe(context.Background(), nil); err == nil {
		t.Fatalf("Describe() error = nil, want failure")
	}

	source.err = nil
	if _, err := cache.Describe(context.Background(), nil); err != nil {
		t.Fatalf("Describe() after recovery error = %v", err)
	}
	if got := source.calls.Load(); got != 2 {
		t.Fatalf("source calls = %d, want 2", got)
	}
}

func TestCacheInvalidateForcesRefresh(t *testing.T) {
	source := &countingDescriber{}
	cache := NewCache(source, time.Minute)
	defer cache.Stop()

	if _, err := cache.Describe(context.Background(), nil); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	cache.Invalidate()
	if _, err := cache.Describe(context.Background(), nil); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	if got := source.calls.Load(); got != 2 {
		t.Fatalf("source calls = %d, want 2", got)
	}
}

func TestCacheConcurrentMissesShareOneFetch(t *testing.T) {
	source := &countingDescriber{}
	cache := NewCache(source, time.Minute)
	defer cache.Stop()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = cache.Describe(context.Background(), nil)
		}()
	}
	close(start)
	wg.Wait()

	if got := source.calls.Load(); got > 2 {
		t.Fatalf("source calls = %d, want at most 2", got)
	}
}
