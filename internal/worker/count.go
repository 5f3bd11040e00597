package worker

import "fmt"

// ResolveCount returns the number of workers to start.
// A configured value of zero means one worker per CPU reported by cpus.
func ResolveCount(configured int, cpus func() int) (int, error) {
	if configured < 0 {
		return 0, fmt.Errorf("configured %d: %w", configured, ErrWorkerCountInvalid)
	}
	if configured > 0 {
		return configured, nil
	}
	n := cpus()
	if n <= 0 {
		return 0, fmt.Errorf("host reported %d CPUs: %w", n, ErrWorkerCountInvalid)
	}
	return n, nil
}
