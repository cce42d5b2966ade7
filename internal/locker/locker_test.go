package locker

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "5511:1")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("%d holders at once", maxSeen)
	}
	if k.Len() != 0 {
		t.Fatalf("%d slots leaked", k.Len())
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()
	unlockA, err := k.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx2, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := k.Lock(ctx2, "b")
	if err != nil {
		t.Fatalf("key b blocked by key a: %v", err)
	}
	unlockB()
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "a"); err == nil {
		t.Fatal("expected timeout while key is held")
	}

	unlock()
	unlock() // second call is a no-op
	if k.Len() != 0 {
		t.Fatalf("%d slots leaked", k.Len())
	}
}

func TestRedisLocker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := Dial(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer rdb.Close()

	l := NewRedisLocker(rdb, 2*time.Second, zap.NewNop())
	unlock, err := l.Lock(ctx, "test:1")
	if err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, "test:1"); err == nil {
		t.Fatal("second holder acquired the lease")
	}

	unlock()
	again, err := l.Lock(ctx, "test:1")
	if err != nil {
		t.Fatalf("lease not released: %v", err)
	}
	again()
}
