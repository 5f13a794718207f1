package widgets

import (
	"context"
	"time"
)

// Record is one persisted widget instance.
type Record struct {
	ID       string `json:"id" yaml:"id"`
	TypeID   string `json:"typeId" yaml:"typeId"`
	State    string `json:"state,omitempty" yaml:"state,omitempty"`
	Position int    `json:"position" yaml:"position"`
	// Context is the owning scope. It never changes for the record's lifetime.
	Context string `json:"context" yaml:"context"`
}

// Persister stores widget records. Implementations must apply position
// changes for InsertRecord and MoveBefore atomically.
type Persister interface {
	// UserRecords returns every record owned by owner in any order.
	UserRecords(ctx context.Context, owner string) ([]Record, error)
	// Record returns the record with id or nil when it does not exist.
	Record(ctx context.Context, id string) (*Record, error)
	// InsertRecord creates a record placed before beforeID, or at the end
	// when beforeID is empty.
	InsertRecord(ctx context.Context, typeID, owner, beforeID string) (Record, error)
	// RemoveRecord deletes the record.
	RemoveRecord(ctx context.Context, id string) error
	// MoveBefore places id before relatedID, or at the end when relatedID
	// is empty.
	MoveBefore(ctx context.Context, id, relatedID string) error
	// SaveState replaces the serialized state of id.
	SaveState(ctx context.Context, id, state string) error
}

// StateSerializer converts live instances to and from state strings.
type StateSerializer interface {
	Serialize(w Instance) (string, error)
	Restore(w Instance, state string) error
}

// IdentityAccessor resolves the current user.
type IdentityAccessor interface {
	UserID(ctx context.Context) (string, error)
}

// IdentityFunc adapts a function to IdentityAccessor.
type IdentityFunc func(ctx context.Context) (string, error)

func (f IdentityFunc) UserID(ctx context.Context) (string, error) { return f(ctx) }

// DeclarationFactory contributes declarations to a manager. Create is invoked
// exactly once, when the manager locks its catalog.
type DeclarationFactory interface {
	Create(ctx context.Context) ([]*Declaration, error)
}

// FactoryFunc adapts a function to DeclarationFactory.
type FactoryFunc func(ctx context.Context) ([]*Declaration, error)

func (f FactoryFunc) Create(ctx context.Context) ([]*Declaration, error) { return f(ctx) }

// Scope identifies whose catalog is being filtered.
type Scope struct {
	UserID string
	// Context is the record context key: the manager prefix followed by UserID.
	Context string
}

// Filter narrows a candidate list for a scope. Filters run in registration
// order, each receiving the previous one's output.
//
// A filter must be pure: the same scope and candidates must always produce
// the same result, and a type it approved once must be approved again when
// presented alone. The manager remembers approved types per context and
// skips the chain for single approved candidates.
type Filter interface {
	Filter(ctx context.Context, scope Scope, candidates []*Declaration) ([]*Declaration, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, scope Scope, candidates []*Declaration) ([]*Declaration, error)

func (f FilterFunc) Filter(ctx context.Context, scope Scope, candidates []*Declaration) ([]*Declaration, error) {
	return f(ctx, scope, candidates)
}

// ChangeKind names a persisted mutation.
type ChangeKind string

const (
	ChangeInserted   ChangeKind = "widget.inserted"
	ChangeRemoved    ChangeKind = "widget.removed"
	ChangeMoved      ChangeKind = "widget.moved"
	ChangeStateSaved ChangeKind = "widget.state_saved"
)

// Change describes a mutation that has been persisted.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	WidgetID  string     `json:"widget_id"`
	TypeID    string     `json:"type_id"`
	Context   string     `json:"context"`
	RelatedID string     `json:"related_id,omitempty"`
	At        time.Time  `json:"at"`
}

// Observer receives changes after they are persisted. It is never called for
// failed operations.
type Observer interface {
	WidgetChanged(ctx context.Context, c Change)
}

// Service is the per-user widget API.
type Service interface {
	AvailableWidgets(ctx context.Context) (map[string]Instance, error)
	UserWidgetIDs(ctx context.Context) ([]string, error)
	InsertWidget(ctx context.Context, typeID, beforeID string) (string, error)
	RemoveWidget(ctx context.Context, id string) error
	MoveWidgetBefore(ctx context.Context, id, relatedID string) error
	SaveWidgetState(ctx context.Context, id string, w Instance) error
	WidgetInstance(ctx context.Context, id string) (Instance, error)
}
