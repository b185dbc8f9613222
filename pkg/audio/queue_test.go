package audio_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
)

func frame(b byte) audio.Frame {
	return audio.Frame{Data: []byte{b, 0}, Timestamp: time.Now()}
}

func TestFrameQueue_FIFO(t *testing.T) {
	q := audio.NewFrameQueue(4)
	for i := byte(0); i < 3; i++ {
		q.Push(frame(i))
	}

	for i := byte(0); i < 3; i++ {
		f, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop %d: queue unexpectedly closed", i)
		}
		if f.Data[0] != i {
			t.Errorf("Pop %d: got frame %d", i, f.Data[0])
		}
	}
	if q.Overruns() != 0 {
		t.Errorf("overruns: got %d, want 0", q.Overruns())
	}
}

func TestFrameQueue_DropOldestOnOverrun(t *testing.T) {
	q := audio.NewFrameQueue(3)
	for i := byte(0); i < 5; i++ {
		q.Push(frame(i))
	}

	if got := q.Overruns(); got != 2 {
		t.Errorf("overruns: got %d, want 2", got)
	}
	// Frames 0 and 1 were dropped; 2, 3, 4 remain in order.
	for _, want := range []byte{2, 3, 4} {
		f, _ := q.Pop()
		if f.Data[0] != want {
			t.Errorf("got frame %d, want %d", f.Data[0], want)
		}
	}
}

func TestFrameQueue_CloseUnblocksPop(t *testing.T) {
	q := audio.NewFrameQueue(2)

	popped := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		popped <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-popped:
		if ok {
			t.Error("Pop on closed empty queue: got ok=true, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestFrameQueue_DrainsAfterClose(t *testing.T) {
	q := audio.NewFrameQueue(4)
	q.Push(frame(7))
	q.Close()
	q.Push(frame(8)) // ignored

	f, ok := q.Pop()
	if !ok || f.Data[0] != 7 {
		t.Errorf("queued frame should remain poppable after Close: got %v ok=%v", f.Data, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Error("post-close Push should be dropped")
	}
}

func TestFrameQueue_ConcurrentPush(t *testing.T) {
	const producers = 8
	const perProducer = 200

	q := audio.NewFrameQueue(producers * perProducer)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(frame(1))
			}
		}()
	}
	wg.Wait()

	if got := q.Len(); got != producers*perProducer {
		t.Errorf("queued frames: got %d, want %d", got, producers*perProducer)
	}
	if q.Overruns() != 0 {
		t.Errorf("overruns: got %d, want 0", q.Overruns())
	}
}
