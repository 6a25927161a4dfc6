package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProgressSink receives the percentage reached and the phase being entered
type ProgressSink interface {
	OnProgress(percent int, phase Phase) error
}

// ProgressFunc adapts a function to ProgressSink
type ProgressFunc func(percent int, phase Phase) error

func (f ProgressFunc) OnProgress(percent int, phase Phase) error {
	return f(percent, phase)
}

// progress shields a run from its sink. Errors and panics are logged; a sink
// that misses the deadline is abandoned for the rest of the run.
type progress struct {
	sink      ProgressSink
	timeout   time.Duration
	logger    *zap.Logger
	abandoned bool
}

func newProgress(sink ProgressSink, timeout time.Duration, logger *zap.Logger) *progress {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &progress{sink: sink, timeout: timeout, logger: logger}
}

func (p *progress) report(percent int, phase Phase) {
	if p.sink == nil || p.abandoned {
		return
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("progress sink panicked: %v", r)
			}
		}()
		done <- p.sink.OnProgress(percent, phase)
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			p.logger.Warn("progress sink failed", zap.String("phase", string(phase)), zap.Error(err))
		}
	case <-timer.C:
		p.abandoned = true
		p.logger.Warn("progress sink timed out, no further updates will be sent",
			zap.String("phase", string(phase)),
			zap.Duration("timeout", p.timeout))
	}
}
