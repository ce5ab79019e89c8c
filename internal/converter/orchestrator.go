package converter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"docuflow/internal/auth"
	docuerrors "docuflow/internal/errors"
	"docuflow/internal/httpclient"
	"docuflow/internal/logging"
	"docuflow/internal/tools"
)

const cancelNotice = "Conversion cancelled"

// Orchestrator manages exactly one file and its single active conversion
// attempt. It is the sole writer of attempt state; a presentation layer
// observes via Snapshot and the optional update callback.
//
// Concurrency: a mutex plus an attempt generation counter give the
// single-writer property. Every state write from a running attempt checks
// the generation it was started under; SetFile, RemoveFile and Cancel bump
// the generation, so callbacks from a superseded attempt are ignored.
type Orchestrator struct {
	tool     tools.Config
	client   *apiClient
	clock    Clock
	tokens   auth.TokenProvider
	logger   logging.Logger
	onUpdate func(Attempt)
	demo     bool

	pollInterval    time.Duration
	pollDeadline    time.Duration
	maxPollFailures int
	backoff         docuerrors.BackoffConfig

	mu      sync.Mutex
	gen     uint64
	file    *SelectedFile
	attempt Attempt
	result  []byte
	cancel  context.CancelFunc
	running bool
}

// Option customizes an Orchestrator.
type Option func(*options)

type options struct {
	apiURL          string
	httpClient      *http.Client
	httpTimeout     time.Duration
	pollClient      *http.Client
	clock           Clock
	tokens          auth.TokenProvider
	logger          logging.Logger
	onUpdate        func(Attempt)
	demo            bool
	pollInterval    time.Duration
	pollDeadline    time.Duration
	maxPollFailures int
}

// WithAPIURL sets the backend base URL (default http://localhost:8000/api).
func WithAPIURL(url string) Option { return func(o *options) { o.apiURL = url } }

// WithHTTPClient overrides the client used for submissions and result fetches.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithHTTPTimeout sets the timeout of the default submission client. Ignored
// when WithHTTPClient supplies an explicit client.
func WithHTTPTimeout(d time.Duration) Option { return func(o *options) { o.httpTimeout = d } }

// WithPollClient overrides the client used for job-status polls.
func WithPollClient(c *http.Client) Option { return func(o *options) { o.pollClient = c } }

// WithClock injects a clock, letting tests advance virtual time.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithTokenProvider injects the access-token reader. Absence of a token is
// valid; requests then go out anonymously.
func WithTokenProvider(p auth.TokenProvider) Option { return func(o *options) { o.tokens = p } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(o *options) { o.logger = l } }

// WithOnUpdate registers a callback invoked after every state change with a
// fresh snapshot. Called without internal locks held.
func WithOnUpdate(fn func(Attempt)) Option { return func(o *options) { o.onUpdate = fn } }

// WithDemoMode replaces network conversion with a deterministic simulated
// ramp. No network calls are made in this mode.
func WithDemoMode(demo bool) Option { return func(o *options) { o.demo = demo } }

// WithPollInterval sets the fixed interval between healthy job polls.
func WithPollInterval(d time.Duration) Option { return func(o *options) { o.pollInterval = d } }

// WithPollDeadline sets the hard per-job polling deadline.
func WithPollDeadline(d time.Duration) Option { return func(o *options) { o.pollDeadline = d } }

// WithMaxPollFailures sets how many consecutive failed polls are tolerated
// before the attempt resolves to a terminal "job status unknown" error.
func WithMaxPollFailures(n int) Option { return func(o *options) { o.maxPollFailures = n } }

// New creates an Orchestrator for the given tool.
func New(tool tools.Key, opts ...Option) (*Orchestrator, error) {
	cfg, err := tools.Lookup(tool)
	if err != nil {
		return nil, err
	}

	o := options{
		apiURL:          "http://localhost:8000/api",
		clock:           RealClock(),
		tokens:          auth.None(),
		pollInterval:    2 * time.Second,
		pollDeadline:    10 * time.Minute,
		maxPollFailures: 8,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.OrNop(o.logger)
	if o.httpClient == nil {
		timeout := o.httpTimeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		o.httpClient = httpclient.New(timeout, logger)
	}
	if o.pollClient == nil {
		o.pollClient = httpclient.NewWithCircuitBreaker(30*time.Second, logger, "job-status")
	}

	return &Orchestrator{
		tool:            cfg,
		client:          newAPIClient(o.apiURL, o.httpClient, o.pollClient, logger),
		clock:           o.clock,
		tokens:          o.tokens,
		logger:          logger,
		onUpdate:        o.onUpdate,
		demo:            o.demo,
		pollInterval:    o.pollInterval,
		pollDeadline:    o.pollDeadline,
		maxPollFailures: o.maxPollFailures,
		backoff:         docuerrors.DefaultBackoffConfig(),
		attempt:         Attempt{Status: StatusIdle},
	}, nil
}

// Tool returns the tool this orchestrator converts with.
func (o *Orchestrator) Tool() tools.Config { return o.tool }

// Snapshot returns the current attempt state.
func (o *Orchestrator) Snapshot() Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempt
}

// File returns the attached file, or nil.
func (o *Orchestrator) File() *SelectedFile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.file
}

// SetFile validates the file at path against the tool's accepted set and the
// 20 MiB ceiling, and attaches it. On rejection the file is not attached and
// the attempt state becomes error with a user-facing message. Attaching a
// file resets any prior attempt.
func (o *Orchestrator) SetFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return o.rejectFile(fmt.Sprintf("cannot read file: %v", err))
	}
	if verr := o.tool.ValidateFile(info.Name(), info.Size(), tools.DetectMIME(path)); verr != nil {
		return o.rejectFile(verr.Error())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return o.rejectFile(fmt.Sprintf("cannot read file: %v", err))
	}

	o.attach(&SelectedFile{
		Name: info.Name(),
		Size: info.Size(),
		MIME: tools.DetectMIMEBytes(data),
		data: data,
	})
	return nil
}

// SetFileContents attaches an in-memory file after the same validation as
// SetFile.
func (o *Orchestrator) SetFileContents(name string, data []byte) error {
	mime := tools.DetectMIMEBytes(data)
	if verr := o.tool.ValidateFile(name, int64(len(data)), mime); verr != nil {
		return o.rejectFile(verr.Error())
	}
	o.attach(&SelectedFile{Name: name, Size: int64(len(data)), MIME: mime, data: data})
	return nil
}

func (o *Orchestrator) rejectFile(message string) error {
	o.mu.Lock()
	o.supersedeLocked()
	o.attempt = Attempt{Status: StatusError, ErrorMessage: message}
	snapshot := o.attempt
	o.mu.Unlock()

	o.notify(snapshot)
	return errors.New(message)
}

func (o *Orchestrator) attach(file *SelectedFile) {
	o.mu.Lock()
	o.supersedeLocked()
	o.file = file
	o.result = nil
	o.attempt = Attempt{Status: StatusIdle}
	snapshot := o.attempt
	o.mu.Unlock()

	o.logger.Debug("file attached: %s (%d bytes, %s)", file.Name, file.Size, file.MIME)
	o.notify(snapshot)
}

// RemoveFile clears the attached file and fully resets attempt state.
// Idempotent: calling it with nothing attached leaves idle state unchanged.
func (o *Orchestrator) RemoveFile() {
	o.mu.Lock()
	o.supersedeLocked()
	o.file = nil
	o.result = nil
	o.attempt = Attempt{Status: StatusIdle}
	snapshot := o.attempt
	o.mu.Unlock()

	o.notify(snapshot)
}

// supersedeLocked invalidates any running attempt: bumps the generation so
// its pending writes are ignored and cancels its context. Caller holds o.mu.
func (o *Orchestrator) supersedeLocked() {
	o.gen++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.running = false
}

// Convert runs one conversion attempt to a terminal state. It blocks until
// the attempt resolves to success, error, or idle (gate or cancellation).
// Without an attached file, or while another attempt runs, it is a no-op.
func (o *Orchestrator) Convert(ctx context.Context, mode RequestMode) {
	o.mu.Lock()
	if o.file == nil || o.running {
		o.mu.Unlock()
		o.logger.Debug("convert ignored: file=%v running=%v", o.file != nil, o.running)
		return
	}
	o.gen++
	gen := o.gen
	attemptCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.result = nil
	o.attempt = Attempt{Status: StatusUploading}
	file := o.file
	snapshot := o.attempt
	o.mu.Unlock()

	o.notify(snapshot)
	defer cancel()

	if o.demo {
		o.runDemo(attemptCtx, gen)
		return
	}
	o.runAttempt(attemptCtx, gen, file, mode)
}

// Cancel aborts the in-flight attempt, if any: the upload transport is
// aborted via context, polling stops, and when a background job was already
// created a best-effort cancel request is sent. Safe to call when nothing is
// in flight.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// DownloadResult writes the converted file into dir under its computed
// result name and returns the written path. With no result available it
// returns "" and no error.
func (o *Orchestrator) DownloadResult(dir string) (string, error) {
	o.mu.Lock()
	result := o.result
	name := o.attempt.ResultName
	o.mu.Unlock()

	if len(result) == 0 || name == "" {
		return "", nil
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, result, 0o644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return path, nil
}

// Result returns the converted bytes and their file name, or nil.
func (o *Orchestrator) Result() ([]byte, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result, o.attempt.ResultName
}

func (o *Orchestrator) runAttempt(ctx context.Context, gen uint64, file *SelectedFile, mode RequestMode) {
	token := o.tokens.Token()

	outcome, err := o.client.Submit(ctx, file, o.tool.Key, mode, token, func(percent int) {
		o.update(gen, func(a *Attempt) {
			a.Progress = percent
			if percent >= uploadProgressCeiling {
				// Bytes are with the server; the rest is processing time.
				a.Status = StatusConverting
			}
		})
	})
	if err != nil {
		o.resolveFailure(gen, "", token, err)
		return
	}

	switch outcome.kind {
	case submitSync:
		o.finishWithResult(gen, outcome.result, outcome.mode, outcome.pdfText)

	case submitJob:
		o.logger.Info("conversion handed off to job %s", outcome.jobID)
		o.update(gen, func(a *Attempt) {
			a.Status = StatusConverting
			a.JobID = outcome.jobID
		})
		o.pollJob(ctx, gen, outcome.jobID, token)

	case submitGated:
		o.logger.Info("conversion gated: %d %s", outcome.gate.Status, outcome.gate.Detail)
		o.update(gen, func(a *Attempt) {
			// Not a failure of the conversion itself: back to idle with the
			// file kept so the user can retry after upgrading.
			*a = Attempt{Status: StatusIdle, Gate: outcome.gate}
		})
		o.finishRun(gen)
	}
}

func (o *Orchestrator) finishWithResult(gen uint64, result []byte, mode ReportedMode, pdfText PDFTextFlag) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.result = result
	o.attempt.Status = StatusSuccess
	o.attempt.Progress = 100
	o.attempt.ResultName = o.tool.OutputName(o.file.Name)
	o.attempt.HasResult = true
	o.attempt.Mode = mode
	o.attempt.PDFHasText = pdfText
	o.running = false
	o.cancel = nil
	snapshot := o.attempt
	o.mu.Unlock()

	o.logger.Info("conversion succeeded: %s (%d bytes, mode=%s)", snapshot.ResultName, len(result), mode)
	o.notify(snapshot)
}

// resolveFailure maps an attempt error to its terminal state. A context
// cancellation is the user's cancel: idle plus notice, and a best-effort job
// cancel when a job id exists. Everything else is an error state.
func (o *Orchestrator) resolveFailure(gen uint64, jobID, token string, err error) {
	if errors.Is(err, context.Canceled) {
		if jobID != "" {
			go o.client.CancelJob(jobID, token)
		}
		o.update(gen, func(a *Attempt) {
			*a = Attempt{Status: StatusIdle, Notice: cancelNotice}
		})
		o.finishRun(gen)
		return
	}

	message := errorMessage(err)
	o.logger.Warn("conversion failed: %v", err)
	o.update(gen, func(a *Attempt) {
		a.Status = StatusError
		a.ErrorMessage = message
	})
	o.finishRun(gen)
}

func (o *Orchestrator) finishRun(gen uint64) {
	o.mu.Lock()
	if o.gen == gen {
		o.running = false
		o.cancel = nil
	}
	o.mu.Unlock()
}

// update applies fn to the attempt if gen is still current and notifies the
// observer with the resulting snapshot.
func (o *Orchestrator) update(gen uint64, fn func(*Attempt)) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	fn(&o.attempt)
	snapshot := o.attempt
	o.mu.Unlock()

	o.notify(snapshot)
}

func (o *Orchestrator) notify(snapshot Attempt) {
	if o.onUpdate != nil {
		o.onUpdate(snapshot)
	}
}

// errorMessage renders err for display, preferring server-supplied detail
// and falling back to a generic connectivity message for transport errors.
func errorMessage(err error) string {
	// Poll exhaustion carries its own terminal message; unwrapping to the
	// last poll failure would hide that the job's fate is unknown.
	var exhausted *pollExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Error()
	}
	var statusErr *docuerrors.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "conversion service did not respond in time"
	}
	var transient *docuerrors.TransientError
	if errors.As(err, &transient) {
		return transient.Error()
	}
	if docuerrors.IsTransient(err) {
		return "cannot reach the conversion service"
	}
	return err.Error()
}
