package threat

import (
	"errors"
	"fmt"
	"time"

	"soctriage/core"
	"soctriage/util"
)

// Status is the outcome of an enrichment lookup
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ErrorKind classifies enrichment and pipeline failures
type ErrorKind string

const (
	ErrorKindExtractionWarning ErrorKind = "extraction_warning"
	ErrorKindTransient         ErrorKind = "transient"
	ErrorKindPermanent         ErrorKind = "permanent"
	ErrorKindRateLimited       ErrorKind = "rate_limited"
	ErrorKindDeadlineExceeded  ErrorKind = "deadline_exceeded"
	ErrorKindFindingFailure    ErrorKind = "finding_failure"
)

// Sentinel errors; backend errors match them through errors.Is
var (
	ErrTransient        = errors.New("transient backend failure")
	ErrPermanent        = errors.New("permanent backend failure")
	ErrRateLimited      = errors.New("backend rate limit exceeded")
	ErrDeadlineExceeded = errors.New("enrichment deadline exceeded")
	ErrUnsupportedKind  = errors.New("indicator kind not supported by backend")
	ErrNotCacheable     = errors.New("only successful results are cached")
)

// Reputation is what a backend reports for one indicator.
// Score is 0 (benign) to 100 (certainly malicious).
type Reputation struct {
	Score         int
	Detections    int
	HasDetections bool
}

// BackendError is a classified failure from a reputation backend
type BackendError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration // only meaningful for ErrorKindRateLimited
	Err        error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == ErrorKindTransient
	case ErrPermanent:
		return e.Kind == ErrorKindPermanent
	case ErrRateLimited:
		return e.Kind == ErrorKindRateLimited
	}
	return false
}

// ErrorKindOf classifies an arbitrary error. Unknown errors are permanent.
func ErrorKindOf(err error) ErrorKind {
	var be *BackendError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &be):
		return be.Kind
	case errors.Is(err, ErrDeadlineExceeded):
		return ErrorKindDeadlineExceeded
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrTransient):
		return ErrorKindTransient
	default:
		return ErrorKindPermanent
	}
}

// Result is the enrichment outcome for one indicator. Reputation fields are
// set only on success; ErrorKind and Error only on failure.
type Result struct {
	Indicator     core.Indicator `json:"indicator"`
	Status        Status         `json:"status"`
	Reputation    int            `json:"reputation,omitempty"`
	Detections    int            `json:"detections,omitempty"`
	HasDetections bool           `json:"-"`
	ErrorKind     ErrorKind      `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
	Source        string         `json:"source,omitempty"`
	Cached        bool           `json:"cached,omitempty"`
	Attempts      int            `json:"attempts,omitempty"`
}

// Succeeded reports whether the lookup produced a reputation
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// NewSuccess builds a successful result, clamping the score into 0-100
func NewSuccess(ind core.Indicator, rep Reputation, source string) Result {
	score := rep.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Result{
		Indicator:     ind,
		Status:        StatusSuccess,
		Reputation:    score,
		Detections:    rep.Detections,
		HasDetections: rep.HasDetections,
		Source:        source,
	}
}

// NewFailure builds a failed result from a classified error
func NewFailure(ind core.Indicator, err error, source string) Result {
	r := Result{
		Indicator: ind,
		Status:    StatusFailure,
		ErrorKind: ErrorKindOf(err),
		Source:    source,
	}
	if err != nil {
		r.Error = util.SanitizeError(err)
	}
	return r
}
