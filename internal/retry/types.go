package retry

import "context"

type (
	// Task is one attempt of a retried operation. It reports whether a
	// failure is worth retrying.
	Task = func(context.Context) (shouldRetry bool, err error)

	// Policy runs a Task until it succeeds or the policy gives up.
	Policy interface {
		Start(ctx context.Context, name string, task Task) error
	}
)
