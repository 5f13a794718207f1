package widgets

import (
	"fmt"
	"reflect"
)

// Instance is a live widget produced by a declaration's factory.
type Instance any

// Declaration describes one widget type. It is immutable once created.
type Declaration struct {
	typeID  string
	unique  bool
	factory func() Instance
}

// NewDeclaration returns a declaration for typeID. When unique is true a user
// may hold at most one active instance of the type.
func NewDeclaration(typeID string, unique bool, factory func() Instance) *Declaration {
	return &Declaration{typeID: typeID, unique: unique, factory: factory}
}

// TypeID returns the widget type identifier.
func (d *Declaration) TypeID() string { return d.typeID }

// Unique reports whether the type allows a single active instance per user.
func (d *Declaration) Unique() bool { return d.unique }

// CreateInstance materializes a fresh widget.
func (d *Declaration) CreateInstance() (Instance, error) {
	if d.factory == nil {
		return nil, fmt.Errorf("%w: declaration %q has no factory", ErrFactoryContract, d.typeID)
	}
	inst := d.factory()
	if isNil(inst) {
		return nil, fmt.Errorf("%w: factory for %q returned no instance", ErrFactoryContract, d.typeID)
	}
	return inst, nil
}

func (d *Declaration) String() string {
	if d.unique {
		return d.typeID + " (unique)"
	}
	return d.typeID
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// TypeIDs returns the type ids of decls in order.
func TypeIDs(decls []*Declaration) []string {
	ids := make([]string, 0, len(decls))
	for _, d := range decls {
		ids = append(ids, d.typeID)
	}
	return ids
}
