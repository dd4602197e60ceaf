// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

// Task is one unit of work handed to the pool.
type Task func(ctx context.Context) error

// Pool runs batches of tasks on a fixed number of goroutines.
type Pool struct {
	n   int
	log *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{n: workers, log: &l}
}

// Size reports the number of workers.
func (p *Pool) Size() int { return p.n }

// Run executes every task and blocks until all of them returned. errs[i]
// belongs to tasks[i]. Tasks picked up after ctx ended are not started and
// report ctx.Err().
func (p *Pool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	if len(tasks) == 0 {
		return errs
	}

	workers := p.n
	if workers > len(tasks) {
		workers = len(tasks)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for idx := range jobs {
				if err := ctx.Err(); err != nil {
					errs[idx] = err
					continue
				}
				task := tasks[idx]
				if task == nil {
					continue
				}
				if err := task(ctx); err != nil {
					errs[idx] = err
					p.log.Debug().Err(err).Int("worker", id).Int("task", idx).Msg("task failed")
				}
			}
		}(i)
	}

	for i := range tasks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return errs
}
