package goroutine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssertNoLeaks_WorkersFinish(t *testing.T) {
	AssertNoLeaks(t)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(20 * time.Millisecond)
		}()
	}
	wg.Wait()
}

func TestSnapshot_Leaked(t *testing.T) {
	snapshot := TakeSnapshot()

	release := make(chan struct{})
	go func() { <-release }()
	assert.GreaterOrEqual(t, snapshot.Leaked(), 1)

	close(release)
	assert.True(t, WaitForCount(snapshot.Count, time.Second))
}

func TestWaitForCount_Timeout(t *testing.T) {
	snapshot := TakeSnapshot()
	release := make(chan struct{})
	defer close(release)
	go func() { <-release }()

	assert.False(t, WaitForCount(snapshot.Count, 100*time.Millisecond))
}
