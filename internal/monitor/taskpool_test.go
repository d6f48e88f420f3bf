package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTaskPoolRunsSubmittedTasks(t *testing.T) {
	p := NewTaskPool(discardLogger())
	p.Start(context.Background())
	defer p.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Submit(1, func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tasks")
	}

	assert.Equal(t, 10, count)
}

func TestTaskPoolPriorityOrderWhenSaturated(t *testing.T) {
	p := NewTaskPool(discardLogger())
	p.Start(context.Background())
	defer p.Stop()

	// saturate the pool: two workers parked for the whole test, one parked
	// until the measured tasks are queued
	parked := make(chan struct{})
	free := make(chan struct{})
	var ready sync.WaitGroup
	for i := 0; i < 2; i++ {
		ready.Add(1)
		p.Submit(10, func(context.Context) error {
			ready.Done()
			<-parked
			return nil
		})
	}
	ready.Add(1)
	p.Submit(10, func(context.Context) error {
		ready.Done()
		<-free
		return nil
	})
	ready.Wait()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	submit := func(priority int) {
		wg.Add(1)
		p.Submit(priority, func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			order = append(order, priority)
			mu.Unlock()
			return nil
		})
	}
	submit(1)
	submit(5)
	submit(3)

	// exactly one worker frees up and drains the queue sequentially
	close(free)
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tasks")
	}
	close(parked)

	assert.Equal(t, []int{5, 3, 1}, order)
}

func TestSubmitAfterStopIsDropped(t *testing.T) {
	p := NewTaskPool(discardLogger())
	p.Start(context.Background())
	p.Stop()

	ran := false
	p.Submit(1, func(context.Context) error { ran = true; return nil })

	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran)
	assert.Zero(t, p.Backlog())
}

func TestPerformanceRegisterAndSampleWithoutAgent(t *testing.T) {
	p := NewPerformance("", "voicehome.", discardLogger())

	sampled := false
	p.Register("speech.queue_depth", func() float64 {
		sampled = true
		return 4
	})

	// no agent configured: sampling must still be safe
	p.sample()
	assert.True(t, sampled)

	p.Stop()
}
