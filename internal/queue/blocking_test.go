package queue

import (
	"sync"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := NewBlocking[int](8)
	for i := 0; i < 5; i++ {
		if !q.PushBack(i) {
			t.Fatalf("PushBack(%d) failed", i)
		}
	}
	for i := 0; i < 5; i++ {
		v, ok := q.Pop()
		if !ok || v != i {
			t.Fatalf("Pop = (%d, %v), want (%d, true)", v, ok, i)
		}
	}
}

func TestPushFront(t *testing.T) {
	q := NewBlocking[string](4)
	q.PushBack("b")
	q.PushBack("c")
	q.PushFront("a")
	want := []string{"a", "b", "c"}
	for _, w := range want {
		v, ok := q.Pop()
		if !ok || v != w {
			t.Fatalf("Pop = (%q, %v), want %q", v, ok, w)
		}
	}
}

func TestPushBlocksWhenFull(t *testing.T) {
	q := NewBlocking[int](1)
	q.PushBack(1)

	released := make(chan struct{})
	go func() {
		q.PushBack(2) // blocks until a Pop frees a slot
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("PushBack returned while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	if v, _ := q.Pop(); v != 1 {
		t.Fatalf("Pop = %d, want 1", v)
	}
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("PushBack did not unblock after Pop")
	}
}

func TestPopTimeout(t *testing.T) {
	q := NewBlocking[int](1)
	start := time.Now()
	_, ok := q.PopTimeout(30 * time.Millisecond)
	if ok {
		t.Fatal("PopTimeout succeeded on empty queue")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("PopTimeout returned too early: %v", elapsed)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	q := NewBlocking[int](1)

	var wg sync.WaitGroup
	fails := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Pop()
			fails <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked consumers")
	}
	close(fails)
	for ok := range fails {
		if ok {
			t.Error("Pop on closed empty queue reported success")
		}
	}
}

func TestCloseDrainsRemainder(t *testing.T) {
	q := NewBlocking[int](8)
	q.PushBack(1)
	q.PushBack(2)
	q.Close()

	if v, ok := q.Pop(); !ok || v != 1 {
		t.Fatalf("Pop after close = (%d, %v), want (1, true)", v, ok)
	}
	if v, ok := q.Pop(); !ok || v != 2 {
		t.Fatalf("Pop after close = (%d, %v), want (2, true)", v, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop on drained closed queue reported success")
	}
	if q.PushBack(3) {
		t.Fatal("PushBack succeeded after close")
	}
}

func TestTryPushBack(t *testing.T) {
	q := NewBlocking[int](1)
	if !q.TryPushBack(1) {
		t.Fatal("TryPushBack on empty queue failed")
	}
	if q.TryPushBack(2) {
		t.Fatal("TryPushBack on full queue succeeded")
	}
	q.Pop()
	q.Close()
	if q.TryPushBack(3) {
		t.Fatal("TryPushBack after close succeeded")
	}
}

func TestFlushWakesOneConsumer(t *testing.T) {
	q := NewBlocking[int](1)
	woke := make(chan struct{})
	go func() {
		// returns once an item or close arrives; Flush alone re-checks state
		q.PopTimeout(500 * time.Millisecond)
		close(woke)
	}()
	time.Sleep(20 * time.Millisecond)
	q.Flush()
	q.PushBack(9)
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("consumer never woke")
	}
}
