package testhelpers

import (
	"sync"
	"testing"
	"time"
)

// ConcurrentTest runs fn on n goroutines released together, so calls for the
// same natural key or ticket actually overlap, and waits for all of them.
func ConcurrentTest(t *testing.T, n int, fn func(workerID int)) {
	t.Helper()

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id int) {
			defer wg.Done()
			<-start
			fn(id)
		}(i)
	}
	close(start)
	wg.Wait()
}

// ConcurrentTestWithTimeout is ConcurrentTest that fails the test when the
// workers deadlock or outlive timeout.
func ConcurrentTestWithTimeout(t *testing.T, timeout time.Duration, n int, fn func(workerID int)) {
	t.Helper()
	MustCompleteWithin(t, timeout, func() {
		ConcurrentTest(t, n, fn)
	})
}
