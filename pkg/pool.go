package hptdc

import (
	"context"
	"fmt"
	"sync"
)

// Job is one file handed to the worker pool.
type Job struct {
	Index int
	Path  string
}

// FileFunc processes one file. Each call must use its own sink.
type FileFunc func(ctx context.Context, job Job) FileResult

// ProcessFiles runs fn on every path with at most numWorkers files in
// flight. A failing or panicking file does not stop the others. Results
// are returned in the order of paths.
func ProcessFiles(ctx context.Context, paths []string, numWorkers int, fn FileFunc) []FileResult {
	if numWorkers < 1 {
		numWorkers = 1
	}
	numWorkers = min(numWorkers, max(len(paths), 1))

	jobs := make(chan Job)
	results := make(chan jobResult)

	var wg sync.WaitGroup
	for id := 0; id < numWorkers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(ctx, id, jobs, results, fn)
		}(id)
	}

	go func() {
		for i, path := range paths {
			jobs <- Job{Index: i, Path: path}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]FileResult, len(paths))
	for result := range results {
		collected[result.index] = result.result
	}
	return collected
}

type jobResult struct {
	index  int
	result FileResult
}

func worker(ctx context.Context, id int, jobs <-chan Job, results chan<- jobResult, fn FileFunc) {
	for job := range jobs {
		if configuration.Verbosity > 1 {
			logger.Info(fmt.Sprintf("Worker %d processing %s", id, job.Path), "pool")
		}
		results <- jobResult{index: job.Index, result: runJob(ctx, id, job, fn)}
	}
}

func runJob(ctx context.Context, id int, job Job, fn FileFunc) (result FileResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker %d recovered from panic: %v", id, r)
			logger.Error(err.Error())
			result = FileResult{File: job.Path, Err: err}
		}
	}()

	if err := ctx.Err(); err != nil {
		return FileResult{File: job.Path, Err: err}
	}
	result = fn(ctx, job)
	if result.Err != nil {
		logger.Error(fmt.Sprintf("Skipping %s: %v", job.Path, result.Err))
	}
	return result
}
