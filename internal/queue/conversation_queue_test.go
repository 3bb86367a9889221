package queue

import (
	"context"
	"sync"
	"testing"
)

func noopTask(context.Context) error { return nil }

func TestConversationQueue_PushPop(t *testing.T) {
	cq := NewConversationQueue("conv-1")

	if !cq.Push(noopTask) {
		t.Fatal("first push must ask for a drain loop")
	}
	if cq.Push(noopTask) {
		t.Error("second push must not start another drain loop")
	}
	if cq.Size() != 2 {
		t.Errorf("Expected size 2, got %d", cq.Size())
	}

	for i := 0; i < 2; i++ {
		if _, ok := cq.Pop(); !ok {
			t.Fatalf("Pop %d returned nothing", i)
		}
	}
	if !cq.IsDraining() {
		t.Error("queue should still be owned until Pop reports empty")
	}

	if _, ok := cq.Pop(); ok {
		t.Error("Pop on empty queue should return false")
	}
	if !cq.IsIdle() {
		t.Error("queue should be idle after the drain releases it")
	}

	if !cq.Push(noopTask) {
		t.Error("push after release must ask for a new drain loop")
	}
}

func TestConversationQueue_FIFO(t *testing.T) {
	cq := NewConversationQueue("conv-1")
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		cq.Push(func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	for {
		task, ok := cq.Pop()
		if !ok {
			break
		}
		_ = task(context.Background())
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("Expected FIFO order, got %v", order)
		}
	}
}

func TestConversationQueue_Discard(t *testing.T) {
	cq := NewConversationQueue("conv-1")
	cq.Push(noopTask)
	cq.Push(noopTask)
	cq.Push(noopTask)

	if n := cq.Discard(); n != 3 {
		t.Errorf("Expected 3 discarded, got %d", n)
	}
	if cq.Size() != 0 {
		t.Errorf("Expected empty queue, got %d", cq.Size())
	}
}

func TestConversationQueue_ConcurrentPush(t *testing.T) {
	cq := NewConversationQueue("conv-1")
	var wg sync.WaitGroup
	starts := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			starts <- cq.Push(noopTask)
		}()
	}
	wg.Wait()
	close(starts)

	started := 0
	for s := range starts {
		if s {
			started++
		}
	}
	if started != 1 {
		t.Errorf("Expected exactly one drain start, got %d", started)
	}
	if cq.Size() != 100 {
		t.Errorf("Expected size 100, got %d", cq.Size())
	}
}
