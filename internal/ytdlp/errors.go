package ytdlp

import (
	"errors"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/command"
)

var (
	// ErrURLNotSupported indicates no extractor handles the URL
	ErrURLNotSupported = errors.New("url not supported")

	// ErrVideoUnavailable indicates the video/audio is not available
	ErrVideoUnavailable = errors.New("video unavailable")

	// ErrVideoPrivate indicates the video is private
	ErrVideoPrivate = errors.New("video is private")

	// ErrAgeRestricted indicates the content is age-restricted
	ErrAgeRestricted = errors.New("content is age-restricted")

	// ErrNetworkError indicates a network-related error
	ErrNetworkError = errors.New("network error")

	// ErrYtdlpNotFound indicates yt-dlp is not installed
	ErrYtdlpNotFound = errors.New("yt-dlp not found in PATH")

	// ErrDownloadFailed indicates the download failed for an unclassified reason
	ErrDownloadFailed = errors.New("download failed")

	// ErrInvalidURL indicates the URL format is invalid
	ErrInvalidURL = errors.New("invalid url format")

	// ErrTimeout indicates yt-dlp did not finish within its bounded wait
	ErrTimeout = command.ErrTimeout
)

// DownloadError wraps an error with additional context.
// ExitCode is non-zero only when yt-dlp ran and exited unsuccessfully, in
// which case Stderr holds its captured error output verbatim.
type DownloadError struct {
	URL      string
	Message  string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Exited reports whether yt-dlp ran to completion with a failing exit code
func (e *DownloadError) Exited() bool {
	return e.ExitCode != 0
}
