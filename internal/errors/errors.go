package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is an application-specific error type
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// wraps an error with a code and message
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Error code constants
const (
	CodeInternal   = "INTERNAL_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeInvalidArg = "INVALID_ARGUMENT"
	CodeExternal   = "EXTERNAL_ERROR"
	CodeConflict   = "CONFLICT"         // Resource already exists (UNIQUE violation)
	CodeDependency = "DEPENDENCY_ERROR" // Foreign key constraint violation

	// Configuration errors, raised before playback is disturbed
	CodeUnsupportedCapability = "UNSUPPORTED_CAPABILITY"
	CodeMissingConfiguration  = "MISSING_CONFIGURATION"
	CodeUnknownMethod         = "UNKNOWN_METHOD"

	// Capture and collaborator errors
	CodeNoSpeechDetected  = "NO_SPEECH_DETECTED"
	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeRemoteError       = "REMOTE_ERROR"
	CodeCaptureFailed     = "CAPTURE_FAILED"
	CodeTranslationFailed = "TRANSLATION_FAILED"
	CodeSpeechFailed      = "SPEECH_FAILED"
	CodePlaybackFailed    = "PLAYBACK_FAILED"

	CodeBusy     = "BUSY"
	CodeCanceled = "CANCELED"
)

// CodeOf returns the code of the first AppError in err's chain, or "" if there is none
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether err carries the given code
func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsConfiguration reports whether err is one of the configuration errors
// that are detected before any playback disruption.
func IsConfiguration(err error) bool {
	switch CodeOf(err) {
	case CodeMissingConfiguration, CodeUnknownMethod, CodeUnsupportedCapability:
		return true
	default:
		return false
	}
}

// UserMessage returns a short human-readable message for the end user.
// The wording separates "nothing detected" (retry), "service unreachable"
// (check network) and "misconfigured" (open settings).
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch CodeOf(err) {
	case CodeNoSpeechDetected:
		return "No speech was detected in the last segment. Try again."
	case CodeConnectionFailed:
		return "The transcription service is unreachable. Check that it is running and your network is up."
	case CodeRemoteError:
		return "The transcription service rejected the request. " + messageOf(err)
	case CodeMissingConfiguration:
		return "Transcription is not configured. Open settings: " + messageOf(err)
	case CodeUnknownMethod:
		return "Unknown transcription method. Open settings and pick local, cloud or selfhosted."
	case CodeUnsupportedCapability:
		return "Speech recognition is not available on this device. Pick another transcription method in settings."
	case CodeTranslationFailed:
		return "Translation failed. Check your network and translation settings."
	case CodeSpeechFailed:
		return "Could not speak the translation: " + messageOf(err)
	case CodePlaybackFailed:
		return "Playback did not respond as expected: " + messageOf(err)
	case CodeBusy:
		return "A rewind is already in progress."
	case CodeCaptureFailed:
		return "Could not capture the last segment: " + messageOf(err)
	case CodeInvalidArg, CodeNotFound, CodeConflict, CodeCanceled:
		return messageOf(err)
	default:
		return err.Error()
	}
}

func messageOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
