package batch

import (
	"context"
	"sync"
)

// Completed is the outcome of one task, tagged with the task's input index.
type Completed[T any] struct {
	Index  int
	Result T
	Error  error
}

// RunInPool runs worker over inputs on at most maxWorkers goroutines. The
// returned channel yields one Completed per input, in completion order, and
// is closed once every task has finished.
func RunInPool[In any, Out any](ctx context.Context, worker func(context.Context, In) (Out, error), inputs []In, maxWorkers int) <-chan Completed[Out] {
	queue := make(chan int, len(inputs))
	for i := range inputs {
		queue <- i
	}
	close(queue)

	completed := make(chan Completed[Out], len(inputs))
	workers := max(min(len(inputs), maxWorkers), 1)

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for idx := range queue {
					if err := ctx.Err(); err != nil {
						completed <- Completed[Out]{Index: idx, Error: err}
						continue
					}

					res, err := worker(ctx, inputs[idx])
					completed <- Completed[Out]{Index: idx, Result: res, Error: err}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()

	return completed
}
