// Package converter owns the life cycle of one file-conversion attempt
// against the docuflow backend: validation, upload, optional background-job
// polling, and success/error/cancel resolution. One Orchestrator manages at
// most one attached file and one active attempt at a time.
package converter

import "fmt"

// Status is the attempt state machine.
//
//	idle -> uploading -> converting -> success | error
//
// Gating (403/429) and user cancellation return to idle rather than error.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusUploading  Status = "uploading"
	StatusConverting Status = "converting"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// RequestMode is the conversion-mode hint sent with a submission. It is a
// closed enumeration with an explicit wire mapping; there is deliberately no
// free-form string path.
type RequestMode int

const (
	// ModeAuto lets the backend pick; no hint is sent.
	ModeAuto RequestMode = iota
	// ModeTierA requests the premium text-layer pipeline.
	ModeTierA
	// ModeOCR requests OCR for scanned documents.
	ModeOCR
)

var requestModeWire = map[RequestMode]string{
	ModeAuto:  "",
	ModeTierA: "tier-a",
	ModeOCR:   "ocr",
}

// WireValue returns the multipart "mode" field value and whether the field
// should be sent at all.
func (m RequestMode) WireValue() (string, bool) {
	v, ok := requestModeWire[m]
	return v, ok && v != ""
}

func (m RequestMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeTierA:
		return "tier-a"
	case ModeOCR:
		return "ocr"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseRequestMode maps a user-supplied mode name to a RequestMode.
func ParseRequestMode(name string) (RequestMode, error) {
	switch name {
	case "", "auto":
		return ModeAuto, nil
	case "tier-a":
		return ModeTierA, nil
	case "ocr":
		return ModeOCR, nil
	default:
		return ModeAuto, fmt.Errorf("unknown conversion mode %q (want auto, tier-a or ocr)", name)
	}
}

// ReportedMode is the server-reported conversion mode from the
// X-Conversion-Mode header. Known values are normalized; unrecognized values
// pass through verbatim since the header is advisory only.
type ReportedMode string

const (
	ReportedNone     ReportedMode = ""
	ReportedTierA    ReportedMode = "tier-a"
	ReportedTierAOCR ReportedMode = "tier-a-ocr"
	ReportedTierB    ReportedMode = "tier-b"
	ReportedPillow   ReportedMode = "pillow"
)

// Known reports whether the mode is one of the documented values.
func (m ReportedMode) Known() bool {
	switch m {
	case ReportedTierA, ReportedTierAOCR, ReportedTierB, ReportedPillow:
		return true
	}
	return false
}

// PDFTextFlag is the three-valued X-PDF-Has-Text advisory header.
type PDFTextFlag int

const (
	PDFTextUnknown PDFTextFlag = iota
	PDFTextPresent
	PDFTextAbsent
)

func (f PDFTextFlag) String() string {
	switch f {
	case PDFTextPresent:
		return "yes"
	case PDFTextAbsent:
		return "no"
	default:
		return "unknown"
	}
}

func parsePDFTextFlag(header string) PDFTextFlag {
	switch header {
	case "1":
		return PDFTextPresent
	case "0":
		return PDFTextAbsent
	default:
		return PDFTextUnknown
	}
}

// JobStatus is the backend's background-job state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the job has reached a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// GateBlock carries a plan/quota rejection (HTTP 403/429). It is a business
// rule interruption, not a technical error: the attempt returns to idle with
// the file still attached so the user can retry after upgrading.
type GateBlock struct {
	Status int
	Detail string
}

// Attempt is a snapshot of the current conversion attempt, safe to hand to a
// presentation layer.
type Attempt struct {
	Status       Status
	Progress     int // 0-100
	ErrorMessage string
	Notice       string // e.g. cancellation notice; not an error
	ResultName   string
	HasResult    bool
	Mode         ReportedMode
	PDFHasText   PDFTextFlag
	Gate         *GateBlock
	JobID        string
}

// SelectedFile is the user-chosen file owned by the orchestrator. Contents
// are held in memory; the 20 MiB ceiling keeps that cheap.
type SelectedFile struct {
	Name string
	Size int64
	MIME string
	data []byte
}
