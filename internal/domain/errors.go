package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidPrompt      = errors.New("invalid prompt")
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrRateLimited        = errors.New("rate limited by generator")
	ErrGenerationFailed   = errors.New("generation failed")
	ErrGenerationTimeout  = errors.New("generation timed out")
	ErrUpstreamParse      = errors.New("upstream parse error")
)

// Error codes surfaced to callers.
const (
	CodeQuotaExceeded      = "QUOTA_EXCEEDED"
	CodeInsufficientCredit = "INSUFFICIENT_CREDIT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeGenerationFailed   = "GENERATION_FAILED"
	CodeGenerationTimeout  = "GENERATION_TIMEOUT"
	CodeUpstreamParse      = "UPSTREAM_PARSE_ERROR"
	CodeInvalidPrompt      = "INVALID_PROMPT"
	CodeUnknownProvider    = "UNKNOWN_PROVIDER"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrQuotaExceeded, CodeQuotaExceeded},
	{ErrInsufficientCredit, CodeInsufficientCredit},
	{ErrRateLimited, CodeRateLimited},
	{ErrGenerationTimeout, CodeGenerationTimeout},
	{ErrUpstreamParse, CodeUpstreamParse},
	{ErrGenerationFailed, CodeGenerationFailed},
	{ErrInvalidPrompt, CodeInvalidPrompt},
	{ErrUnknownProvider, CodeUnknownProvider},
	{ErrNotFound, CodeNotFound},
}

// CodeOf maps an error chain to its caller-facing code. Unknown errors map to
// CodeInternal and a nil error maps to "".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}
