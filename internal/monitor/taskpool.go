package monitor

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
)

// poolWorkers bounds how many tasks run at once.
const poolWorkers = 3

// Task is one unit of background work.
type Task func(ctx context.Context) error

type queuedTask struct {
	priority int
	seq      int
	run      Task
}

// taskHeap orders by descending priority, insertion order among equals.
type taskHeap []queuedTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)         { *h = append(*h, x.(queuedTask)) }
func (h *taskHeap) Pop() any           { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

// TaskPool runs submitted tasks on a fixed set of workers, highest priority
// first.
type TaskPool struct {
	logger *slog.Logger

	mu      sync.Mutex
	heap    taskHeap
	seq     int
	cond    *sync.Cond
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTaskPool(logger *slog.Logger) *TaskPool {
	p := &TaskPool{logger: logger}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. A stopped pool may be started again.
func (p *TaskPool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.stopped = false
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < poolWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	// wake blocked workers when the context dies
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.stopped = true
		p.cond.Broadcast()
		p.mu.Unlock()
	}()
}

// Submit queues a task. Tasks submitted after Stop are dropped.
func (p *TaskPool) Submit(priority int, task Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		p.logger.Debug("task pool stopped, dropping task")
		return
	}
	p.seq++
	heap.Push(&p.heap, queuedTask{priority: priority, seq: p.seq, run: task})
	p.cond.Signal()
}

// Backlog reports queued, not yet running, tasks.
func (p *TaskPool) Backlog() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heap.Len()
}

func (p *TaskPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.heap.Len() == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		task := heap.Pop(&p.heap).(queuedTask)
		p.mu.Unlock()

		if err := task.run(ctx); err != nil {
			p.logger.Warn("background task failed", "worker", id, "error", err)
		}
	}
}

// Stop discards queued tasks and waits for running ones to return.
func (p *TaskPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.heap = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
