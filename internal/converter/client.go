package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	docuerrors "docuflow/internal/errors"
	"docuflow/internal/httpclient"
	"docuflow/internal/logging"
	"docuflow/internal/tools"
)

const (
	// maxErrorBodyBytes bounds how much of an error response is read when
	// extracting a human-readable message.
	maxErrorBodyBytes = 64 * 1024
	// maxJSONBodyBytes bounds job-status and job-submission bodies.
	maxJSONBodyBytes = 1 * 1024 * 1024
	// maxResultBytes bounds converted-file downloads.
	maxResultBytes = 512 * 1024 * 1024

	cancelRequestTimeout = 5 * time.Second
)

// apiClient speaks the conversion service's HTTP contract:
//
//	POST {base}/convert                     multipart submit
//	GET  {base}/convert/status/{job_id}     poll a background job
//	GET  {base}{result_url}                 fetch a completed job's result
//	POST {base}/convert/cancel/{job_id}     best-effort cancel
type apiClient struct {
	baseURL string
	http    *http.Client // submit + result fetch
	poll    *http.Client // status polls, circuit-breaker guarded
	logger  logging.Logger
}

func newAPIClient(baseURL string, httpClient, pollClient *http.Client, logger logging.Logger) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		poll:    pollClient,
		logger:  logging.OrNop(logger),
	}
}

type submitKind int

const (
	submitSync submitKind = iota
	submitJob
	submitGated
)

// submitOutcome is the resolved result of a conversion submission. Exactly
// one of the three shapes is populated, per kind.
type submitOutcome struct {
	kind submitKind

	// submitSync
	result  []byte
	mode    ReportedMode
	pdfText PDFTextFlag

	// submitJob
	jobID string

	// submitGated
	gate *GateBlock
}

// Submit uploads the file and resolves the backend's immediate answer:
// converted bytes (200), a background job (202), or a plan/quota gate
// (403/429). Other statuses and transport failures return an error.
func (c *apiClient) Submit(ctx context.Context, file *SelectedFile, tool tools.Key, mode RequestMode, token string, onProgress func(percent int)) (*submitOutcome, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", file.Name)
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(file.data); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if err := writer.WriteField("type", string(tool)); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if wire, ok := mode.WireValue(); ok {
		if err := writer.WriteField("mode", wire); err != nil {
			return nil, fmt.Errorf("build multipart: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}

	total := int64(body.Len())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert",
		newProgressReader(&body, total, onProgress))
	if err != nil {
		return nil, err
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := httpclient.ReadAllWithLimit(resp.Body, maxResultBytes)
		if err != nil {
			return nil, fmt.Errorf("read result: %w", err)
		}
		return &submitOutcome{
			kind:    submitSync,
			result:  data,
			mode:    ReportedMode(resp.Header.Get("X-Conversion-Mode")),
			pdfText: parsePDFTextFlag(resp.Header.Get("X-PDF-Has-Text")),
		}, nil

	case http.StatusAccepted:
		var payload struct {
			JobID string `json:"job_id"`
		}
		data, err := httpclient.ReadAllWithLimit(resp.Body, maxJSONBodyBytes)
		if err != nil {
			return nil, fmt.Errorf("read job response: %w", err)
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.JobID == "" {
			return nil, &docuerrors.StatusError{
				StatusCode: resp.StatusCode,
				Detail:     "malformed job response from conversion service",
			}
		}
		return &submitOutcome{kind: submitJob, jobID: payload.JobID}, nil

	case http.StatusForbidden, http.StatusTooManyRequests:
		return &submitOutcome{
			kind: submitGated,
			gate: &GateBlock{Status: resp.StatusCode, Detail: c.extractDetail(resp.Body)},
		}, nil

	default:
		return nil, &docuerrors.StatusError{
			StatusCode: resp.StatusCode,
			Detail:     c.extractDetail(resp.Body),
		}
	}
}

// jobState is one poll response.
type jobState struct {
	Status    JobStatus `json:"status"`
	ResultURL string    `json:"result_url"`
	Error     string    `json:"error"`
}

// PollJob fetches the current state of a background job. Any failure is
// returned as-is; the poller decides how many it tolerates.
func (c *apiClient) PollJob(ctx context.Context, jobID string) (*jobState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/convert/status/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.poll.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &docuerrors.StatusError{StatusCode: resp.StatusCode, Detail: c.extractDetail(resp.Body)}
	}

	data, err := httpclient.ReadAllWithLimit(resp.Body, maxJSONBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read job status: %w", err)
	}
	var state jobState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}
	if state.Status == "" {
		return nil, fmt.Errorf("job status missing in response")
	}
	return &state, nil
}

// FetchResult downloads a completed job's converted file.
func (c *apiClient) FetchResult(ctx context.Context, resultURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+resultURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &docuerrors.StatusError{StatusCode: resp.StatusCode, Detail: c.extractDetail(resp.Body)}
	}
	data, err := httpclient.ReadAllWithLimit(resp.Body, maxResultBytes)
	if err != nil {
		return nil, fmt.Errorf("read job result: %w", err)
	}
	return data, nil
}

// CancelJob asks the backend to stop a background job. Fire-and-forget:
// at-most-once, no confirmation, failures only logged. The backend may still
// finish the job; that is the accepted contract.
func (c *apiClient) CancelJob(jobID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert/cancel/"+jobID, nil)
	if err != nil {
		c.logger.Debug("cancel request for job %s not built: %v", jobID, err)
		return
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("cancel request for job %s failed: %v", jobID, err)
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	resp.Body.Close()
	c.logger.Debug("cancel request for job %s returned %d", jobID, resp.StatusCode)
}

// extractDetail pulls a human-readable message out of an error body:
// the JSON "detail" field when present, otherwise the trimmed text body,
// otherwise "".
func (c *apiClient) extractDetail(body io.Reader) string {
	data, err := httpclient.ReadAllWithLimit(body, maxErrorBodyBytes)
	if err != nil || len(data) == 0 {
		return ""
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil {
			return detail
		}
		return string(payload.Detail)
	}

	text := strings.TrimSpace(string(data))
	if json.Valid(data) && strings.HasPrefix(text, "{") {
		// JSON without a detail field reads poorly as a user message.
		return ""
	}
	return text
}
