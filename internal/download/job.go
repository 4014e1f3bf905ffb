package download

import (
	"time"
)

// Status is a job's lifecycle state
type Status string

// Job status constants representing the job lifecycle
const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// ErrorCode classifies why a job failed
type ErrorCode string

const (
	CodeVideoUnavailable ErrorCode = "video_unavailable"
	CodeVideoPrivate     ErrorCode = "video_private"
	CodeAgeRestricted    ErrorCode = "age_restricted"
	CodeNetworkError     ErrorCode = "network_error"
	CodeURLNotSupported  ErrorCode = "url_not_supported"
	CodeDownloadFailed   ErrorCode = "download_failed"
	CodeTimeout          ErrorCode = "timeout"
	CodeCancelled        ErrorCode = "cancelled"
	CodeInternal         ErrorCode = "internal"
)

// CancelledMessage is the error recorded on jobs removed from the backlog
const CancelledMessage = "Cancelled by user"

// DefaultFormat is the format selector recorded when a request names none
const DefaultFormat = "best"

// Request holds the caller-supplied inputs of a download
type Request struct {
	URL           string `json:"url"`
	AutoVPN       bool   `json:"auto_vpn"`
	PreferredCity string `json:"preferred_city,omitempty"`
	OutputDir     string `json:"output_dir,omitempty"`
	FormatSpec    string `json:"format_spec,omitempty"`
}

// Job represents a download task in the queue
type Job struct {
	ID            int64  `json:"id"`
	URL           string `json:"url"`
	AutoVPN       bool   `json:"auto_vpn"`
	PreferredCity string `json:"preferred_city,omitempty"`
	OutputDir     string `json:"output_dir,omitempty"`
	FormatSpec    string `json:"format_spec"`

	Status          Status     `json:"status"`
	AddedAt         time.Time  `json:"added_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	Result          string     `json:"result,omitempty"`
	ErrorCode       ErrorCode  `json:"error_code,omitempty"`
	VPNConfig       string     `json:"vpn_config,omitempty"`
	DetectedCountry string     `json:"detected_country,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Duration returns how long the job ran, or zero if it never started or
// has not finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// snapshot returns a copy that shares no memory with j
func (j *Job) snapshot() Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Outcome is what processing a job produced.
// Exactly one of Result and Error is set.
type Outcome struct {
	Result    string
	Error     string
	Code      ErrorCode
	VPNConfig string
}

// Failed reports whether the outcome records a failure
func (o Outcome) Failed() bool {
	return o.Error != ""
}
