package errno

import (
	"errors"
	"fmt"
)

var (
	ErrPersonaNotFound     = errors.New("persona not found")
	ErrBuildingNotFound    = errors.New("building not found")
	ErrPlaybookNotFound    = errors.New("playbook not found")
	ErrThreadNotFound      = errors.New("thread not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrPageNotFound        = errors.New("memopedia page not found")
	ErrToolNotFound        = errors.New("tool not found")
	ErrModelNotFound       = errors.New("model config not found")
	ErrQueueFull           = errors.New("pulse queue full")
	ErrRecursionLimit      = errors.New("node visit limit exceeded")
	ErrStelisDepthLimit    = errors.New("stelis depth limit exceeded")
	ErrAlreadyReplied      = errors.New("tweet already replied")
	ErrPermissionDenied    = errors.New("playbook permission denied")
	ErrContextOverBudget   = errors.New("context over token budget")
	ErrInvalidPlaybook     = errors.New("invalid playbook definition")
	ErrModelNotToolCapable = errors.New("model not tool capable")
)

// CancelledError signals cooperative cancellation of a pulse. It is
// never treated as a failure: the pulse controller catches it at the
// outermost frame, records the interruption and releases the lane.
type CancelledError struct {
	// InterruptedBy is the pulse type of the request that caused the
	// cancellation ("user", "schedule", "auto") or "shutdown".
	InterruptedBy string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("execution cancelled (interrupted by %s)", e.InterruptedBy)
}

// IsCancelled reports whether err is (or wraps) a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// LLMError wraps an LLM failure with a user-facing message. The
// user-facing text is Japanese because that is what personas surface
// to the UI; the cause keeps the provider's original error.
type LLMError struct {
	Message string
	Cause   error
}

func (e *LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *LLMError) Unwrap() error {
	return e.Cause
}

// NewLLMError wraps cause with the standard user-facing message.
func NewLLMError(cause error) *LLMError {
	return &LLMError{
		Message: "(エラー: 言語モデルの呼び出しに失敗しました)",
		Cause:   cause,
	}
}

// IsLLMError reports whether err is (or wraps) an LLMError.
func IsLLMError(err error) bool {
	var le *LLMError
	return errors.As(err, &le)
}
