package future

import (
	"errors"
	"testing"
	"time"
)

func TestNewCompletesWithValue(t *testing.T) {
	fut := New(func() (int, error) {
		time.Sleep(5 * time.Millisecond)
		return 42, nil
	})
	v, err := fut.Await()
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestNewCompletesWithError(t *testing.T) {
	want := errors.New("boom")
	fut := New(func() (int, error) {
		return 0, want
	})
	_, err := fut.Await()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestAwaitTimeoutReportsNotOKBeforeCompletion(t *testing.T) {
	fut := New(func() (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 1, nil
	})
	if _, _, ok := fut.AwaitTimeout(5 * time.Millisecond); ok {
		t.Fatal("expected AwaitTimeout to report not-done before the future completes")
	}
}

func TestAwaitTimeoutReturnsResultOnceComplete(t *testing.T) {
	fut := New(func() (int, error) {
		return 7, nil
	})
	v, err, ok := fut.AwaitTimeout(time.Second)
	if !ok {
		t.Fatal("expected the future to complete within the timeout")
	}
	if err != nil {
		t.Fatalf("AwaitTimeout: %v", err)
	}
	if v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	fut := &Future[int]{doneChannel: make(chan struct{})}
	fut.complete(1, nil)
	fut.complete(2, errors.New("second completion should be ignored"))

	v, err := fut.Await()
	if err != nil {
		t.Fatalf("expected the first completion to win, got err %v", err)
	}
	if v != 1 {
		t.Fatalf("expected the first completion's value 1, got %d", v)
	}
}
