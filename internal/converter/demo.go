package converter

import (
	"context"
	"time"
)

const (
	demoStep         = 5
	demoStepInterval = 150 * time.Millisecond
	demoFinishDelay  = 1500 * time.Millisecond
)

// runDemo replaces the network path with a deterministic progress ramp for
// environments without a live backend. It makes no network calls.
func (o *Orchestrator) runDemo(ctx context.Context, gen uint64) {
	progress := 0
	for progress < uploadProgressCeiling {
		if err := o.clock.Sleep(ctx, demoStepInterval); err != nil {
			o.resolveFailure(gen, "", "", err)
			return
		}
		progress += demoStep
		if progress > uploadProgressCeiling {
			progress = uploadProgressCeiling
		}
		p := progress
		o.update(gen, func(a *Attempt) {
			a.Progress = p
		})
	}

	o.update(gen, func(a *Attempt) {
		a.Status = StatusConverting
	})
	if err := o.clock.Sleep(ctx, demoFinishDelay); err != nil {
		o.resolveFailure(gen, "", "", err)
		return
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.attempt.Status = StatusSuccess
	o.attempt.Progress = 100
	o.attempt.ResultName = o.tool.OutputName(o.file.Name)
	o.running = false
	o.cancel = nil
	snapshot := o.attempt
	o.mu.Unlock()

	o.logger.Info("demo conversion finished: %s", snapshot.ResultName)
	o.notify(snapshot)
}
