package converter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuflow/internal/auth"
	"docuflow/internal/tools"
)

// %PDF magic so MIME sniffing agrees with the extension.
var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

type updateRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *updateRecorder) record(a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func (r *updateRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make([]Status, 0, len(r.attempts))
	var last Status
	for _, a := range r.attempts {
		if a.Status != last {
			seen = append(seen, a.Status)
			last = a.Status
		}
	}
	return seen
}

func newTestOrchestrator(t *testing.T, serverURL string, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{
		WithAPIURL(serverURL),
		WithClock(newFakeClock()),
		WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		WithPollClient(&http.Client{Timeout: 5 * time.Second}),
		WithPollInterval(time.Millisecond),
	}
	o, err := New(tools.KeyPDFToWord, append(base, opts...)...)
	require.NoError(t, err)
	return o
}

func TestSetFileRejectsWrongType(t *testing.T) {
	o := newTestOrchestrator(t, "http://unused.invalid")

	err := o.SetFileContents("photo.jpg", []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0, 0, 0})
	require.Error(t, err)

	snap := o.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "unsupported file type")
	assert.Nil(t, o.File())

	// A subsequent Convert is a no-op: no file is attached.
	o.Convert(context.Background(), ModeAuto)
	assert.Equal(t, StatusError, o.Snapshot().Status)
}

func TestSetFileRejectsOversize(t *testing.T) {
	o := newTestOrchestrator(t, "http://unused.invalid")

	big := make([]byte, tools.MaxUploadBytes+1)
	copy(big, pdfBytes)
	err := o.SetFileContents("huge.pdf", big)
	require.Error(t, err)

	snap := o.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "too large")
	assert.Nil(t, o.File())
}

func TestSetFileFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contract.pdf")
	require.NoError(t, os.WriteFile(path, pdfBytes, 0o644))

	o := newTestOrchestrator(t, "http://unused.invalid")
	require.NoError(t, o.SetFile(path))

	file := o.File()
	require.NotNil(t, file)
	assert.Equal(t, "contract.pdf", file.Name)
	assert.Equal(t, int64(len(pdfBytes)), file.Size)
	assert.Equal(t, StatusIdle, o.Snapshot().Status)
}

func TestRemoveFileIdempotent(t *testing.T) {
	o := newTestOrchestrator(t, "http://unused.invalid")

	o.RemoveFile()
	first := o.Snapshot()
	o.RemoveFile()
	second := o.Snapshot()

	assert.Equal(t, Attempt{Status: StatusIdle}, first)
	assert.Equal(t, first, second)
	assert.Nil(t, o.File())
}

func TestSynchronousSuccess(t *testing.T) {
	var mu sync.Mutex
	var gotAuth, gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotType = r.FormValue("type")
		mu.Unlock()
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		w.Header().Set("X-Conversion-Mode", "tier-a")
		w.Header().Set("X-PDF-Has-Text", "1")
		_, _ = w.Write([]byte("converted-docx-bytes"))
	}))
	defer server.Close()

	recorder := &updateRecorder{}
	o := newTestOrchestrator(t, server.URL,
		WithTokenProvider(auth.Static("secret-token")),
		WithOnUpdate(recorder.record),
	)
	require.NoError(t, o.SetFileContents("contract.pdf", pdfBytes))

	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "contract.docx", snap.ResultName)
	assert.Equal(t, ReportedTierA, snap.Mode)
	assert.True(t, snap.Mode.Known())
	assert.Equal(t, PDFTextPresent, snap.PDFHasText)
	assert.Empty(t, snap.ErrorMessage)

	mu.Lock()
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "pdf-word", gotType)
	mu.Unlock()

	statuses := recorder.statuses()
	assert.Equal(t, []Status{StatusIdle, StatusUploading, StatusConverting, StatusSuccess}, statuses)

	result, name := o.Result()
	assert.Equal(t, []byte("converted-docx-bytes"), result)
	assert.Equal(t, "contract.docx", name)
}

func TestResultNameIgnoresExtensionCase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("out"))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("Scan.Final.PDF", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	assert.Equal(t, "Scan.Final.docx", o.Snapshot().ResultName)
}

func TestAnonymousSubmitOmitsAuthorization(t *testing.T) {
	var sawAuthHeader atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["Authorization"]
		sawAuthHeader.Store(present)
		_, _ = w.Write([]byte("out"))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	assert.Equal(t, StatusSuccess, o.Snapshot().Status)
	assert.False(t, sawAuthHeader.Load(), "anonymous conversion must not send an Authorization header")
}

func TestModeHintIsSentForExplicitModes(t *testing.T) {
	var mu sync.Mutex
	var gotMode string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		mu.Lock()
		gotMode = r.FormValue("mode")
		mu.Unlock()
		_, _ = w.Write([]byte("out"))
	}))
	defer server.Close()

	mode := func() string {
		mu.Lock()
		defer mu.Unlock()
		return gotMode
	}

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeOCR)
	assert.Equal(t, "ocr", mode())

	require.NoError(t, o.SetFileContents("b.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)
	assert.Empty(t, mode(), "auto mode sends no hint")
}

func TestAsyncJobCompletes(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"42"}`))
	})
	mux.HandleFunc("/convert/status/42", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			_, _ = w.Write([]byte(`{"status":"processing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"completed","result_url":"/r/42"}`))
	})
	mux.HandleFunc("/r/42", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("job-result-bytes"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	recorder := &updateRecorder{}
	o := newTestOrchestrator(t, server.URL, WithOnUpdate(recorder.record))
	require.NoError(t, o.SetFileContents("contract.pdf", pdfBytes))

	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, "contract.docx", snap.ResultName)
	assert.Equal(t, "42", snap.JobID)

	result, _ := o.Result()
	assert.Equal(t, []byte("job-result-bytes"), result)

	// The attempt must never pass through error on its way to success.
	for _, s := range recorder.statuses() {
		assert.NotEqual(t, StatusError, s)
	}
}

func TestAsyncJobFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"7"}`))
	})
	mux.HandleFunc("/convert/status/7", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed","error":"OCR timeout"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "OCR timeout", snap.ErrorMessage)
}

func TestMalformedJobResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"unexpected":"shape"}`))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "malformed job response")
}

func TestGatingReturnsToIdleWithFileKept(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":"quota_exceeded"}`))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status, "gating is not an error")
	assert.Empty(t, snap.ErrorMessage)
	require.NotNil(t, snap.Gate)
	assert.Equal(t, http.StatusForbidden, snap.Gate.Status)
	assert.Equal(t, "quota_exceeded", snap.Gate.Detail)

	// The file stays attached so the user can retry after upgrading.
	assert.NotNil(t, o.File())
}

func TestRateLimitGate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"daily limit reached"}`))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	require.NotNil(t, snap.Gate)
	assert.Equal(t, http.StatusTooManyRequests, snap.Gate.Status)
	assert.Equal(t, "daily limit reached", snap.Gate.Detail)
}

func TestServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance window"))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "503")
	assert.Contains(t, snap.ErrorMessage, "maintenance window")
}

func TestGenericServerErrorFallsBackToStatusLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "HTTP 500 Internal Server Error", snap.ErrorMessage)
}

func TestTransportFailure(t *testing.T) {
	// Point at a closed port.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	o := newTestOrchestrator(t, url)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "cannot reach the conversion service", snap.ErrorMessage)
}

func TestCancelDuringUpload(t *testing.T) {
	var cancelRequests int32
	started := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		// Drain the body so the server's background read can observe the
		// client disconnect and cancel the request context.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	mux.HandleFunc("/convert/cancel/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&cancelRequests, 1)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))

	done := make(chan struct{})
	go func() {
		o.Convert(context.Background(), ModeAuto)
		close(done)
	}()

	<-started
	o.Cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Convert did not return after Cancel")
	}

	snap := o.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, cancelNotice, snap.Notice)
	assert.Empty(t, snap.ErrorMessage)

	// No job was ever assigned, so no job-cancel request may be issued.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&cancelRequests))
}

func TestCancelDuringPollingFiresOneCancelRequest(t *testing.T) {
	var mu sync.Mutex
	cancelRequests := map[string]int{}
	polled := make(chan struct{}, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"99"}`))
	})
	mux.HandleFunc("/convert/status/99", func(w http.ResponseWriter, r *http.Request) {
		select {
		case polled <- struct{}{}:
		default:
		}
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	})
	mux.HandleFunc("/convert/cancel/99", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		cancelRequests["99"]++
		mu.Unlock()
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	// Real clock with a tiny interval so polling actually interleaves with
	// the cancel.
	o := newTestOrchestrator(t, server.URL, WithClock(RealClock()), WithPollInterval(time.Millisecond))
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))

	done := make(chan struct{})
	go func() {
		o.Convert(context.Background(), ModeAuto)
		close(done)
	}()

	<-polled
	o.Cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Convert did not return after Cancel")
	}

	snap := o.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, cancelNotice, snap.Notice)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cancelRequests["99"] == 1
	}, 2*time.Second, 10*time.Millisecond, "expected exactly one best-effort cancel request")
}

func TestPollingGivesUpAfterConsecutiveFailures(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"13"}`))
	})
	mux.HandleFunc("/convert/status/13", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newTestOrchestrator(t, server.URL, WithMaxPollFailures(3))
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "job status unknown")
	assert.Contains(t, snap.ErrorMessage, "consecutive polls failed")
	// The last poll failure is kept in the message, not substituted for it.
	assert.Contains(t, snap.ErrorMessage, "500")
	assert.EqualValues(t, 3, atomic.LoadInt32(&polls))
}

func TestPollingGivesUpAtDeadline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"55"}`))
	})
	mux.HandleFunc("/convert/status/55", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	// The fake clock advances 2s per healthy tick, so the 10min default
	// deadline is crossed after ~300 instant iterations.
	o := newTestOrchestrator(t, server.URL, WithPollInterval(2*time.Second))
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	snap := o.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "job status unknown")
	assert.Contains(t, snap.ErrorMessage, "did not finish")
}

func TestPollProgressStaysBelowHundred(t *testing.T) {
	var polls int32
	recorder := &updateRecorder{}
	mux := http.NewServeMux()
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"8"}`))
	})
	mux.HandleFunc("/convert/status/8", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) > 40 {
			_, _ = w.Write([]byte(`{"status":"completed","result_url":"/r/8"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"processing"}`))
	})
	mux.HandleFunc("/r/8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("out"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	o := newTestOrchestrator(t, server.URL, WithOnUpdate(recorder.record))
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	require.Equal(t, StatusSuccess, o.Snapshot().Status)
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	for _, a := range recorder.attempts {
		if a.Status != StatusSuccess && a.Progress > pollProgressCeiling {
			t.Fatalf("pre-success progress %d exceeded ceiling %d", a.Progress, pollProgressCeiling)
		}
	}
}

func TestNewFileSupersedesRunningAttempt(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-release:
			_, _ = w.Write([]byte("late-result"))
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("first.pdf", pdfBytes))

	done := make(chan struct{})
	go func() {
		o.Convert(context.Background(), ModeAuto)
		close(done)
	}()
	<-started

	// Attaching a new file invalidates the running attempt; its late
	// callbacks must not touch the fresh state.
	require.NoError(t, o.SetFileContents("second.pdf", pdfBytes))
	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Convert did not return")
	}

	snap := o.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Empty(t, snap.ResultName)
	assert.Equal(t, "second.pdf", o.File().Name)
}

func TestDownloadResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("converted"))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)

	// No result yet: no-op.
	path, err := o.DownloadResult(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, o.SetFileContents("contract.pdf", pdfBytes))
	o.Convert(context.Background(), ModeAuto)

	dir := t.TempDir()
	path, err = o.DownloadResult(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "contract.docx"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("converted"), data)
}

func TestHTTPTimeoutConfiguresDefaultClient(t *testing.T) {
	o, err := New(tools.KeyPDFToWord, WithHTTPTimeout(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, o.client.http.Timeout)

	// An explicit client wins over the timeout option.
	custom := &http.Client{Timeout: time.Second}
	o, err = New(tools.KeyPDFToWord, WithHTTPTimeout(90*time.Second), WithHTTPClient(custom))
	require.NoError(t, err)
	assert.Same(t, custom, o.client.http)
}

func TestConvertWhileRunningIsNoOp(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_, _ = w.Write([]byte("out"))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server.URL)
	require.NoError(t, o.SetFileContents("a.pdf", pdfBytes))

	done := make(chan struct{})
	go func() {
		o.Convert(context.Background(), ModeAuto)
		close(done)
	}()
	<-started

	// Second Convert returns immediately without disturbing the attempt.
	o.Convert(context.Background(), ModeAuto)
	assert.NotEqual(t, StatusIdle, o.Snapshot().Status)

	close(release)
	<-done
	assert.Equal(t, StatusSuccess, o.Snapshot().Status)
}
