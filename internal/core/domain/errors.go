package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat    = errors.New("unsupported audio format")
	ErrDecode               = errors.New("audio decode failed")
	ErrTranscriptionTimeout = errors.New("transcription timed out")
	ErrTranscriptionFailed  = errors.New("transcription failed")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrInvalidFeatureVector = errors.New("invalid feature vector")
	ErrRetrievalFailed      = errors.New("retrieval failed")
	ErrRecordingNotFound    = errors.New("recording not found")
	ErrInvalidReference     = errors.New("invalid recording reference")
	ErrOverloaded           = errors.New("transcription capacity exhausted")
)

// Stage is a state of the per-request analysis state machine.
type Stage string

const (
	StagePending      Stage = "Pending"
	StageRetrieving   Stage = "Retrieving"
	StageTranscribing Stage = "Transcribing"
	StageExtracting   Stage = "Extracting"
	StageScoring      Stage = "Scoring"
	StageDone         Stage = "Done"
	StageFailed       Stage = "Failed"
)

// Terminal reports whether no further transition may leave s.
func (s Stage) Terminal() bool { return s == StageDone || s == StageFailed }

// Kind tags the cause of a failed analysis.
type Kind string

const (
	KindUnsupportedFormat    Kind = "UnsupportedFormat"
	KindDecodeError          Kind = "DecodeError"
	KindTranscriptionTimeout Kind = "TranscriptionTimeout"
	KindInsufficientData     Kind = "InsufficientData"
	KindInvalidFeatureVector Kind = "InvalidFeatureVector"
	KindRetrievalFailed      Kind = "RetrievalFailed"
	KindTimeout              Kind = "Timeout"
	KindCanceled             Kind = "Canceled"
	KindOverloaded           Kind = "Overloaded"
	KindTranscriptionFailed  Kind = "TranscriptionFailed"
	KindInternal             Kind = "Internal"
)

// Class groups kinds by who has to act on them.
type Class string

const (
	ClassInput       Class = "input"
	ClassResource    Class = "resource"
	ClassComputation Class = "computation"
)

func (k Kind) Class() Class {
	switch k {
	case KindUnsupportedFormat, KindDecodeError, KindInsufficientData:
		return ClassInput
	case KindInvalidFeatureVector, KindInternal:
		return ClassComputation
	default:
		return ClassResource
	}
}

// Retryable reports whether the same request may succeed when repeated.
func (k Kind) Retryable() bool {
	return k.Class() == ClassResource && k != KindCanceled
}

// kindOrder is checked top to bottom so the most specific sentinel wins.
var kindOrder = []struct {
	err  error
	kind Kind
}{
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrDecode, KindDecodeError},
	{ErrTranscriptionTimeout, KindTranscriptionTimeout},
	{ErrInsufficientData, KindInsufficientData},
	{ErrInvalidFeatureVector, KindInvalidFeatureVector},
	{ErrOverloaded, KindOverloaded},
	{ErrRecordingNotFound, KindRetrievalFailed},
	{ErrInvalidReference, KindRetrievalFailed},
	{ErrRetrievalFailed, KindRetrievalFailed},
	{ErrTranscriptionFailed, KindTranscriptionFailed},
}

// KindOf maps err to its Kind, falling back to def when err carries no known
// sentinel.
func KindOf(err error, def Kind) Kind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return def
}

// AnalysisError is the tagged failure reported when a request ends in the
// Failed state.
type AnalysisError struct {
	Stage   Stage  `json:"stage"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed at %s (%s): %s", e.Stage, e.Kind, e.Message)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// NotFound reports whether the failure was a missing recording.
func (e *AnalysisError) NotFound() bool { return errors.Is(e.Err, ErrRecordingNotFound) }
