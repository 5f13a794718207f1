package widgetsrepo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// ErrNotFound is returned when a record id does not exist. It matches
// widgets.ErrNotFound.
var ErrNotFound = widgets.ErrNotFound

// errNotInitialized is returned by repositories without a connection.
var errNotInitialized = errors.New("repo not initialized")

// Repo is a widget persister with maintenance operations.
type Repo interface {
	widgets.Persister
	// Contexts lists every context owning at least one record.
	Contexts(ctx context.Context) ([]string, error)
	// Compact renumbers the positions of owner to 0..n-1 keeping their order.
	Compact(ctx context.Context, owner string) error
	// CountByType returns the number of records per widget type.
	CountByType(ctx context.Context) (map[string]int, error)
}

// Row represents a widget record row stored in the database.
type Row struct {
	ID        string    `db:"id" bson:"_id"`
	TypeID    string    `db:"type_id" bson:"type_id"`
	Context   string    `db:"context" bson:"context"`
	Position  int       `db:"position" bson:"position"`
	State     string    `db:"state" bson:"state"`
	CreatedAt time.Time `db:"created_at" bson:"created_at"`
	UpdatedAt time.Time `db:"updated_at" bson:"updated_at"`
}

func (r Row) record() widgets.Record {
	return widgets.Record{ID: r.ID, TypeID: r.TypeID, State: r.State, Position: r.Position, Context: r.Context}
}

var columns = []string{"id", "type_id", "context", "position", "state", "created_at", "updated_at"}

// NewID returns a time-ordered record id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
