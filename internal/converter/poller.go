package converter

import (
	"context"
	"fmt"

	docuerrors "docuflow/internal/errors"
)

// pollExhaustedError is the terminal result of a poll loop that gave up:
// the job's fate is unknown. The last underlying failure stays reachable via
// Unwrap for logs, but the message here is the one shown to the user, so
// error rendering must not unwrap past it.
type pollExhaustedError struct {
	message string
	last    error
}

func (e *pollExhaustedError) Error() string { return e.message }
func (e *pollExhaustedError) Unwrap() error { return e.last }

// pollJob drives a background job to resolution. Each tick awaits its own
// fetch before the next is scheduled, so polls never overlap. Single failed
// polls are tolerated as transient; the loop is bounded both by a count of
// consecutive failures and by a hard deadline, after which the job's fate is
// declared unknown rather than polling forever against a lost job record.
func (o *Orchestrator) pollJob(ctx context.Context, gen uint64, jobID, token string) {
	deadline := o.clock.Now().Add(o.pollDeadline)
	consecutiveFailures := 0

	for {
		wait := o.pollInterval
		if consecutiveFailures > 0 {
			// Healthy ticks keep the fixed interval; failed ones back off.
			wait = docuerrors.Backoff(consecutiveFailures-1, o.backoff)
		}
		if err := o.clock.Sleep(ctx, wait); err != nil {
			o.resolveFailure(gen, jobID, token, err)
			return
		}

		if o.clock.Now().After(deadline) {
			o.resolveFailure(gen, jobID, token, &pollExhaustedError{
				message: fmt.Sprintf("job status unknown: job %s did not finish within %v", jobID, o.pollDeadline),
			})
			return
		}

		state, err := o.client.PollJob(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				o.resolveFailure(gen, jobID, token, ctx.Err())
				return
			}
			consecutiveFailures++
			o.logger.Debug("poll %d/%d for job %s failed: %v",
				consecutiveFailures, o.maxPollFailures, jobID, err)
			if consecutiveFailures >= o.maxPollFailures {
				o.resolveFailure(gen, jobID, token, &pollExhaustedError{
					message: fmt.Sprintf("job status unknown: %d consecutive polls failed, last error: %v",
						consecutiveFailures, err),
					last: err,
				})
				return
			}
			continue
		}
		consecutiveFailures = 0

		switch state.Status {
		case JobCompleted:
			if state.ResultURL == "" {
				o.resolveFailure(gen, jobID, token,
					fmt.Errorf("job %s completed without a result URL", jobID))
				return
			}
			result, err := o.client.FetchResult(ctx, state.ResultURL)
			if err != nil {
				o.resolveFailure(gen, jobID, token, err)
				return
			}
			o.finishWithResult(gen, result, ReportedNone, PDFTextUnknown)
			return

		case JobFailed, JobCancelled:
			message := state.Error
			if message == "" {
				message = fmt.Sprintf("conversion job %s", state.Status)
			}
			o.logger.Warn("job %s terminal: %s (%s)", jobID, state.Status, message)
			o.update(gen, func(a *Attempt) {
				a.Status = StatusError
				a.ErrorMessage = message
			})
			o.finishRun(gen)
			return

		default:
			// pending/processing, or an unrecognized in-flight status.
			// Nudge progress as a liveness indicator only.
			o.update(gen, func(a *Attempt) {
				if a.Progress < pollProgressCeiling {
					a.Progress += 2
					if a.Progress > pollProgressCeiling {
						a.Progress = pollProgressCeiling
					}
				}
			})
		}
	}
}
