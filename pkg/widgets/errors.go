package widgets

import "errors"

var (
	// ErrPrecondition is returned when an operation is not allowed in the
	// manager's current state, e.g. registering after the catalog is locked.
	ErrPrecondition = errors.New("precondition failed")
	// ErrNotFound is returned for unknown type ids or widget ids.
	ErrNotFound = errors.New("not found")
	// ErrOwnership is returned when a record belongs to another context.
	ErrOwnership = errors.New("widget belongs to another context")
	// ErrFiltered is returned when a declaration exists but the filter chain
	// removed it for the current context.
	ErrFiltered = errors.New("widget type filtered")
	// ErrFactoryContract is returned when a factory yields no usable value.
	ErrFactoryContract = errors.New("factory contract violated")
	// ErrNoIdentity is returned when no user id can be resolved from ctx.
	ErrNoIdentity = errors.New("no user identity")
)

// ErrDuplicateDeclaration is returned when a type id is registered twice.
var ErrDuplicateDeclaration = &duplicateError{}

type duplicateError struct{}

func (*duplicateError) Error() string { return "duplicate widget declaration" }

func (*duplicateError) Is(target error) bool { return target == ErrPrecondition }
