package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/casbin/casbin/v2"
	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
)

type policyRow struct {
	Subject string `db:"subject"`
	Object  string `db:"object"`
	Action  string `db:"action"`
}

type userRoleRow struct {
	UserID string `db:"user_id"`
	Role   string `db:"role"`
}

// Load fills the Casbin enforcer with policies and groupings from the database.
// Existing policies are replaced.
func Load(ctx context.Context, db *sql.DB, dialect ormdriver.Dialect, tablePrefix string, e *casbin.Enforcer) error {
	if db == nil || e == nil {
		return nil
	}
	var policies []policyRow
	err := query.New(db, tablePrefix+"widget_policies", dialect).
		Select("subject", "object", "action").
		OrderBy("id", "asc").
		WithContext(ctx).
		Get(&policies)
	if err != nil {
		return fmt.Errorf("load widget policies: %w", err)
	}
	var roles []userRoleRow
	err = query.New(db, tablePrefix+"widget_user_roles", dialect).
		Select("user_id", "role").
		WithContext(ctx).
		Get(&roles)
	if err != nil {
		return fmt.Errorf("load widget user roles: %w", err)
	}

	e.ClearPolicy()
	for _, p := range policies {
		act := p.Action
		if act == "" {
			act = ActionUse
		}
		if _, err := e.AddPolicy(p.Subject, p.Object, act); err != nil {
			return err
		}
	}
	for _, r := range roles {
		if _, err := e.AddGroupingPolicy(r.UserID, r.Role); err != nil {
			return err
		}
	}
	return nil
}
