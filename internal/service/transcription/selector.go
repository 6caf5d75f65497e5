package transcription

import (
	"fmt"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
)

// Selector resolves a transcription method to exactly one capture strategy
type Selector struct {
	strategies map[model.TranscriptionMethod]CaptureStrategy
}

// NewSelector registers strategies by their Method
func NewSelector(strategies ...CaptureStrategy) *Selector {
	s := &Selector{strategies: make(map[model.TranscriptionMethod]CaptureStrategy, len(strategies))}
	for _, strategy := range strategies {
		if strategy != nil {
			s.strategies[strategy.Method()] = strategy
		}
	}
	return s
}

// Select returns the validated strategy for method.
// Errors are configuration errors and are raised before capture starts.
func (s *Selector) Select(method model.TranscriptionMethod) (CaptureStrategy, error) {
	switch method {
	case model.MethodLocal, model.MethodCloud, model.MethodSelfHosted:
	default:
		return nil, apperrors.New(apperrors.CodeUnknownMethod,
			fmt.Sprintf("unknown transcription method %q (expected local, cloud or selfhosted)", method))
	}

	strategy, ok := s.strategies[method]
	if !ok {
		return nil, apperrors.New(apperrors.CodeMissingConfiguration,
			fmt.Sprintf("transcription method %q is not configured", method))
	}
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	return strategy, nil
}

// ParseMethod converts a settings value to a TranscriptionMethod
func ParseMethod(value string) (model.TranscriptionMethod, error) {
	method := model.TranscriptionMethod(value)
	switch method {
	case model.MethodLocal, model.MethodCloud, model.MethodSelfHosted:
		return method, nil
	default:
		return "", apperrors.New(apperrors.CodeUnknownMethod,
			fmt.Sprintf("unknown transcription method %q (expected local, cloud or selfhosted)", value))
	}
}
