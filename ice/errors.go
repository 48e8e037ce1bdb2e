package ice

import "fmt"

// Kind enumerates the error taxonomy a caller can branch on. Node executors,
// the compiler, and the run controller all report failures through Error
// rather than distinct error types, so downstream code has one switch to
// write instead of nine.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindVersionMismatch        Kind = "version_mismatch"
	KindRegistryBindingMissing Kind = "registry_binding_missing"
	KindTimeout                Kind = "timeout"
	KindCancelled              Kind = "cancelled"
	KindBudgetExceeded         Kind = "budget_exceeded"
	KindAgentExhausted         Kind = "agent_exhausted"
	KindNonConvergent          Kind = "non_convergent"
	KindCodeResourceExceeded   Kind = "code_resource_exceeded"
	KindToolExecution          Kind = "tool_execution"
	KindLLMProvider            Kind = "llm_provider"
	KindInternal               Kind = "internal"
)

// Error is the sum-type error value carried on NodeResult.Err and returned
// by every public API call. It is never panicked; panics are reserved for
// invariant violations a caller cannot reasonably recover from.
type Error struct {
	Kind          Kind
	Message       string
	FailingNodeID NodeID
	Attempts      int
	Cause         error
}

func (e *Error) Error() string {
	if e.FailingNodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.FailingNodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around an existing cause, preserving it for
// errors.Is/errors.As and logging.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithNode returns a copy of e annotated with the failing node.
func (e *Error) WithNode(id NodeID) *Error {
	cp := *e
	cp.FailingNodeID = id
	return &cp
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
