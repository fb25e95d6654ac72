package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// Leak checks for tests that start workers or servers.

const (
	defaultLeakTimeout = 5 * time.Second
	leakPollInterval   = 50 * time.Millisecond
)

// AssertNoLeaks records the goroutine count and fails the test at cleanup if the count
// has not dropped back to it within five seconds.
func AssertNoLeaks(t testing.TB) {
	t.Helper()
	snapshot := TakeSnapshot()
	t.Cleanup(func() { snapshot.AssertNoLeak(t, defaultLeakTimeout) })
}

// Snapshot is a goroutine count taken at a point in time
type Snapshot struct {
	Count int
	Time  time.Time
}

// TakeSnapshot captures the current goroutine count
func TakeSnapshot() Snapshot {
	return Snapshot{Count: runtime.NumGoroutine(), Time: time.Now()}
}

// Leaked returns how many goroutines were started since the snapshot and are still alive
func (s Snapshot) Leaked() int {
	return runtime.NumGoroutine() - s.Count
}

// AssertNoLeak polls until the goroutine count is back to the snapshot or timeout expires
func (s Snapshot) AssertNoLeak(t testing.TB, timeout time.Duration) {
	t.Helper()
	if WaitForCount(s.Count, timeout) {
		return
	}

	leaked := s.Leaked()
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	t.Errorf("goroutine leak: %d goroutines still running %v after snapshot\n%s",
		leaked, time.Since(s.Time).Round(time.Millisecond), buf[:n])
}

// WaitForCount reports whether the goroutine count dropped to target before timeout
func WaitForCount(target int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if runtime.NumGoroutine() <= target {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(leakPollInterval)
	}
}
