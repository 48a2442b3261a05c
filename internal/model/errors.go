package model

import (
	"errors"
	"fmt"
)

// Error categories. Every error produced by the pipelines wraps exactly one of these.
var (
	ErrInput              = errors.New("input error")
	ErrOCR                = errors.New("ocr error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrIndex              = errors.New("index error")
	ErrQuery              = errors.New("query error")
)

var (
	ErrFileNotFound      = fmt.Errorf("%w: file not found", ErrInput)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrInput)
	ErrNoExtractableText = fmt.Errorf("%w: no extractable text", ErrInput)

	ErrUnsupportedLanguage = fmt.Errorf("%w: unsupported language", ErrOCR)
	ErrOCREngine           = fmt.Errorf("%w: engine failure", ErrOCR)

	ErrEmbeddingServiceUnavailable  = fmt.Errorf("%w: embedding service", ErrServiceUnavailable)
	ErrGenerationServiceUnavailable = fmt.Errorf("%w: generation service", ErrServiceUnavailable)

	ErrEmbeddingDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrIndex)
	ErrIndexCorrupted             = fmt.Errorf("%w: unreadable index", ErrIndex)

	ErrInvalidQuery = fmt.Errorf("%w: invalid query", ErrQuery)
)

// Exit codes returned by the CLI for each error category.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitInput   = 2
	ExitOCR     = 3
	ExitService = 4
	ExitIndex   = 5
	ExitQuery   = 6
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInput):
		return ExitInput
	case errors.Is(err, ErrOCR):
		return ExitOCR
	case errors.Is(err, ErrServiceUnavailable):
		return ExitService
	case errors.Is(err, ErrIndex):
		return ExitIndex
	case errors.Is(err, ErrQuery):
		return ExitQuery
	default:
		return ExitFailure
	}
}
