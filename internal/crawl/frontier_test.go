package crawl

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestFrontier_DedupesEnqueue(t *testing.T) {
	f := NewFrontier(0)

	if !f.Enqueue("http://example.com/a", 0) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if f.Enqueue("http://example.com/a", 0) {
		t.Fatalf("expected duplicate enqueue to be rejected")
	}
	if f.Size() != 1 {
		t.Errorf("expected queue size 1, got %d", f.Size())
	}
}

func TestFrontier_DequeueBlocksUntilEnqueue(t *testing.T) {
	f := NewFrontier(0)
	ctx := context.Background()

	var got Entry
	var ok bool
	done := make(chan struct{})
	go func() {
		got, ok = f.Dequeue(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	f.Enqueue("http://example.com/b", 1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after enqueue")
	}

	if !ok || got.URL != "http://example.com/b" || got.Depth != 1 {
		t.Errorf("unexpected dequeue result: %+v, ok=%v", got, ok)
	}
}

func TestFrontier_DequeueUnblocksOnClose(t *testing.T) {
	f := NewFrontier(0)
	ctx := context.Background()

	done := make(chan bool)
	go func() {
		_, ok := f.Dequeue(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	f.Close()

	select {
	case ok := <-done:
		if ok {
			t.Errorf("expected Dequeue to report ok=false after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after close")
	}
}

func TestFrontier_DequeueUnblocksOnContextCancel(t *testing.T) {
	f := NewFrontier(0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		_, ok := f.Dequeue(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Errorf("expected Dequeue to report ok=false after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after context cancel")
	}
}

func TestFrontier_CloseUnblocksAllWaitingDequeuers(t *testing.T) {
	f := NewFrontier(0)
	ctx := context.Background()

	const workers = 8
	done := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, ok := f.Dequeue(ctx)
			done <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	f.Close()

	for i := 0; i < workers; i++ {
		select {
		case ok := <-done:
			if ok {
				t.Errorf("expected Dequeue to report ok=false after Close")
			}
		case <-time.After(time.Second):
			t.Fatalf("worker %d did not unblock after close", i)
		}
	}
}

func TestFrontier_IdleTracksInFlight(t *testing.T) {
	f := NewFrontier(0)
	ctx := context.Background()

	if !f.Idle() {
		t.Fatalf("expected a fresh frontier to be idle")
	}
	f.Enqueue("http://example.com/a", 0)
	if f.Idle() {
		t.Fatalf("expected a queued frontier not to be idle")
	}
	if _, ok := f.Dequeue(ctx); !ok {
		t.Fatal("dequeue failed")
	}
	if f.Idle() {
		t.Fatalf("expected an in-flight entry to keep the frontier busy")
	}
	f.MarkSuccess()
	if !f.Idle() {
		t.Fatalf("expected frontier to be idle once the in-flight entry was marked")
	}
}

func TestFrontier_ConcurrentEnqueueDequeue(t *testing.T) {
	f := NewFrontier(0)
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.Enqueue(entryURL(i), 0)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for i := 0; i < n; i++ {
		e, ok := f.Dequeue(ctx)
		if !ok {
			t.Fatalf("unexpected dequeue failure at %d", i)
		}
		seen[e.URL] = struct{}{}
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct URLs, got %d", n, len(seen))
	}
}

func entryURL(i int) string {
	const letters = "0123456789abcdef"
	b := []byte("http://example.com/0000")
	for j := 0; j < 4; j++ {
		b[len(b)-1-j] = letters[(i>>(4*j))&0xf]
	}
	return string(b)
}
