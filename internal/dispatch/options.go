package dispatch

import "go.uber.org/zap"

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of concurrent inference workers.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize bounds how many sessions may wait for a free worker.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithLanePending bounds how many tasks one session may have queued.
func WithLanePending(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.lanePending = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}
