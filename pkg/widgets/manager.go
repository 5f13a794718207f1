package widgets

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds the collaborators of a Manager.
type Config struct {
	Persister  Persister
	Serializer StateSerializer
	// Identity resolves the user for the ctx-based API. Defaults to
	// ContextIdentity.
	Identity IdentityAccessor
	// ContextPrefix is prepended to user ids to form record contexts.
	ContextPrefix string
	Observer      Observer
	Logger        *zap.SugaredLogger
}

// Manager owns a widget catalog and mediates every per-user operation on it.
//
// Declarations and factories are accepted until the first catalog query,
// which locks the catalog and runs every factory once. Filters may be added
// at any time.
type Manager struct {
	persister  Persister
	serializer StateSerializer
	identity   IdentityAccessor
	observer   Observer
	logger     *zap.SugaredLogger

	mu           sync.Mutex
	prefix       string
	declarations []*Declaration
	byType       map[string]*Declaration
	factories    []DeclarationFactory
	filters      []Filter
	locked       bool
	lockErr      error
	// lockDone is closed once the factories have run and lockErr is final.
	lockDone chan struct{}
	// whitelist holds, per context, type ids the filter chain approved.
	whitelist map[string]map[string]struct{}
}

var _ Service = (*Manager)(nil)

// New returns a Manager initialized with the given configuration.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	identity := cfg.Identity
	if identity == nil {
		identity = ContextIdentity
	}
	return &Manager{
		persister:  cfg.Persister,
		serializer: cfg.Serializer,
		identity:   identity,
		observer:   cfg.Observer,
		logger:     logger,
		prefix:     cfg.ContextPrefix,
		byType:     map[string]*Declaration{},
		whitelist:  map[string]map[string]struct{}{},
	}
}

// AddDeclaration registers a declaration.
func (m *Manager) AddDeclaration(d *Declaration) error {
	if d == nil {
		return fmt.Errorf("%w: nil declaration", ErrFactoryContract)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return fmt.Errorf("%w: declarations are locked", ErrPrecondition)
	}
	return m.register(d)
}

// AddFactory registers a factory to be invoked when the catalog locks.
func (m *Manager) AddFactory(f DeclarationFactory) error {
	if f == nil {
		return fmt.Errorf("%w: nil factory", ErrFactoryContract)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return fmt.Errorf("%w: declarations are locked", ErrPrecondition)
	}
	m.factories = append(m.factories, f)
	return nil
}

// AddFilter appends a filter to the chain. It applies to every later query.
func (m *Manager) AddFilter(f Filter) {
	if f == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	// approvals were granted by the old chain
	m.whitelist = map[string]map[string]struct{}{}
}

// ContextPrefix returns the prefix prepended to user ids.
func (m *Manager) ContextPrefix() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefix
}

// SetContextPrefix replaces the context prefix.
func (m *Manager) SetContextPrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefix = prefix
}

// Locked reports whether the catalog has been locked.
func (m *Manager) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// Declarations locks the catalog and returns it in registration order.
func (m *Manager) Declarations(ctx context.Context) ([]*Declaration, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	return m.catalog(), nil
}

// For returns the Service of userID, bypassing the identity accessor.
func (m *Manager) For(userID string) Service {
	return &userService{m: m, userID: userID}
}

func (m *Manager) register(d *Declaration) error {
	if _, ok := m.byType[d.typeID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateDeclaration, d.typeID)
	}
	m.byType[d.typeID] = d
	m.declarations = append(m.declarations, d)
	return nil
}

// lockingKey marks the context handed to factories while the catalog locks.
type lockingKey struct{}

// lock transitions the catalog to LOCKED. Factories run once, outside the
// manager mutex; a failure is kept and returned to every later caller.
// Concurrent callers wait for the transition to finish. A catalog query made
// from inside a factory with the context it received fails with
// ErrPrecondition instead of waiting on itself.
func (m *Manager) lock(ctx context.Context) error {
	m.mu.Lock()
	if m.locked {
		done := m.lockDone
		m.mu.Unlock()
		return m.awaitLock(ctx, done)
	}
	m.locked = true
	m.lockDone = make(chan struct{})
	factories := m.factories
	m.factories = nil
	m.mu.Unlock()

	type output struct {
		decls []*Declaration
		err   error
	}
	fctx := context.WithValue(ctx, lockingKey{}, m)
	outs := make([]output, 0, len(factories))
	for _, f := range factories {
		decls, err := f.Create(fctx)
		outs = append(outs, output{decls: decls, err: err})
		if err != nil {
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(m.lockDone)
	for i, o := range outs {
		if o.err != nil {
			m.lockErr = fmt.Errorf("declaration factory %d: %w", i, o.err)
			break
		}
		for _, d := range o.decls {
			if d == nil {
				m.lockErr = fmt.Errorf("%w: declaration factory %d returned a nil declaration", ErrFactoryContract, i)
				break
			}
			if err := m.register(d); err != nil {
				m.lockErr = fmt.Errorf("declaration factory %d: %w", i, err)
				break
			}
		}
		if m.lockErr != nil {
			break
		}
	}
	if m.lockErr != nil {
		m.logger.Errorf("widget catalog lock failed: %v", m.lockErr)
		return m.lockErr
	}
	m.logger.Debugf("widget catalog locked with %d declarations", len(m.declarations))
	return nil
}

func (m *Manager) awaitLock(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
	default:
		if owner, _ := ctx.Value(lockingKey{}).(*Manager); owner == m {
			return fmt.Errorf("%w: catalog queried while its factories run", ErrPrecondition)
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockErr
}

func (m *Manager) catalog() []*Declaration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Declaration, len(m.declarations))
	copy(out, m.declarations)
	return out
}

func (m *Manager) declaration(typeID string) (*Declaration, error) {
	m.mu.Lock()
	d, ok := m.byType[typeID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: widget type %q", ErrNotFound, typeID)
	}
	return d, nil
}

func (m *Manager) scope(ctx context.Context) (Scope, error) {
	userID, err := m.identity.UserID(ctx)
	if err != nil {
		return Scope{}, fmt.Errorf("resolve user: %w", err)
	}
	return m.scopeFor(userID), nil
}

func (m *Manager) scopeFor(userID string) Scope {
	return Scope{UserID: userID, Context: m.ContextPrefix() + userID}
}

// filter runs candidates through the chain. A single candidate already
// approved for the scope's context skips the chain.
func (m *Manager) filter(ctx context.Context, scope Scope, candidates []*Declaration) ([]*Declaration, error) {
	m.mu.Lock()
	filters := make([]Filter, len(m.filters))
	copy(filters, m.filters)
	approved := false
	if len(candidates) == 1 {
		_, approved = m.whitelist[scope.Context][candidates[0].typeID]
	}
	m.mu.Unlock()

	if approved {
		return candidates, nil
	}
	out := make([]*Declaration, len(candidates))
	copy(out, candidates)
	for i, f := range filters {
		var err error
		if out, err = f.Filter(ctx, scope, out); err != nil {
			return nil, fmt.Errorf("widget filter %d: %w", i, err)
		}
	}
	return out, nil
}

func (m *Manager) approve(scope Scope, decls []*Declaration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.whitelist[scope.Context]
	if !ok {
		set = map[string]struct{}{}
		m.whitelist[scope.Context] = set
	}
	for _, d := range decls {
		set[d.typeID] = struct{}{}
	}
}

// filterOne runs a single declaration through the chain and reports whether
// it survived.
func (m *Manager) filterOne(ctx context.Context, scope Scope, d *Declaration) (bool, error) {
	out, err := m.filter(ctx, scope, []*Declaration{d})
	if err != nil {
		return false, err
	}
	for _, o := range out {
		if o.typeID == d.typeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) ready(ctx context.Context) error {
	if m.persister == nil {
		return fmt.Errorf("%w: no persister configured", ErrPrecondition)
	}
	return m.lock(ctx)
}

func (m *Manager) userRecords(ctx context.Context, scope Scope) ([]Record, error) {
	recs, err := m.persister.UserRecords(ctx, scope.Context)
	if err != nil {
		return nil, fmt.Errorf("load widget records: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Position < recs[j].Position })
	return recs, nil
}

// fetchRecord loads a record and, when checkOwnership is set, verifies it
// belongs to the scope's context.
func (m *Manager) fetchRecord(ctx context.Context, scope Scope, id string, checkOwnership bool) (*Record, error) {
	rec, err := m.persister.Record(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load widget %q: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: widget %q", ErrNotFound, id)
	}
	if checkOwnership && rec.Context != scope.Context {
		return nil, fmt.Errorf("%w: widget %q", ErrOwnership, id)
	}
	return rec, nil
}

func (m *Manager) notify(ctx context.Context, c Change) {
	if m.observer == nil {
		return
	}
	c.At = time.Now().UTC()
	m.observer.WidgetChanged(ctx, c)
}

func (m *Manager) availableWidgets(ctx context.Context, scope Scope) (map[string]Instance, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}
	recs, err := m.userRecords(ctx, scope)
	if err != nil {
		return nil, err
	}
	active := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		active[r.TypeID] = struct{}{}
	}
	decls, err := m.filter(ctx, scope, m.catalog())
	if err != nil {
		return nil, err
	}
	res := make(map[string]Instance, len(decls))
	for _, d := range decls {
		if _, ok := active[d.typeID]; ok && d.unique {
			continue
		}
		inst, err := d.CreateInstance()
		if err != nil {
			return nil, err
		}
		res[d.typeID] = inst
	}
	return res, nil
}

func (m *Manager) userWidgetIDs(ctx context.Context, scope Scope) ([]string, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}
	recs, err := m.userRecords(ctx, scope)
	if err != nil {
		return nil, err
	}
	var decls []*Declaration
	seen := map[string]struct{}{}
	for _, r := range recs {
		if _, ok := seen[r.TypeID]; ok {
			continue
		}
		seen[r.TypeID] = struct{}{}
		d, err := m.declaration(r.TypeID)
		if err != nil {
			return nil, fmt.Errorf("widget %q: %w", r.ID, err)
		}
		decls = append(decls, d)
	}
	if len(decls) == 0 {
		return []string{}, nil
	}
	kept, err := m.filter(ctx, scope, decls)
	if err != nil {
		return nil, err
	}
	m.approve(scope, kept)
	allowed := make(map[string]struct{}, len(kept))
	for _, d := range kept {
		allowed[d.typeID] = struct{}{}
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		if _, ok := allowed[r.TypeID]; ok {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (m *Manager) insertWidget(ctx context.Context, scope Scope, typeID, beforeID string) (string, error) {
	if err := m.ready(ctx); err != nil {
		return "", err
	}
	d, err := m.declaration(typeID)
	if err != nil {
		return "", err
	}
	ok, err := m.filterOne(ctx, scope, d)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: widget type %q", ErrFiltered, typeID)
	}
	if beforeID != "" {
		if _, err := m.fetchRecord(ctx, scope, beforeID, true); err != nil {
			return "", err
		}
	}
	rec, err := m.persister.InsertRecord(ctx, typeID, scope.Context, beforeID)
	if err != nil {
		return "", fmt.Errorf("insert widget %q: %w", typeID, err)
	}
	m.logger.Debugw("widget inserted", "id", rec.ID, "type", typeID, "context", scope.Context)
	m.notify(ctx, Change{Kind: ChangeInserted, WidgetID: rec.ID, TypeID: typeID, Context: scope.Context, RelatedID: beforeID})
	return rec.ID, nil
}

func (m *Manager) removeWidget(ctx context.Context, scope Scope, id string) error {
	if err := m.ready(ctx); err != nil {
		return err
	}
	rec, err := m.fetchRecord(ctx, scope, id, true)
	if err != nil {
		return err
	}
	if err := m.persister.RemoveRecord(ctx, id); err != nil {
		return fmt.Errorf("remove widget %q: %w", id, err)
	}
	m.logger.Debugw("widget removed", "id", id, "context", scope.Context)
	m.notify(ctx, Change{Kind: ChangeRemoved, WidgetID: id, TypeID: rec.TypeID, Context: scope.Context})
	return nil
}

func (m *Manager) moveWidgetBefore(ctx context.Context, scope Scope, id, relatedID string) error {
	if err := m.ready(ctx); err != nil {
		return err
	}
	rec, err := m.fetchRecord(ctx, scope, id, true)
	if err != nil {
		return err
	}
	if relatedID != "" {
		if _, err := m.fetchRecord(ctx, scope, relatedID, true); err != nil {
			return err
		}
	}
	if err := m.persister.MoveBefore(ctx, id, relatedID); err != nil {
		return fmt.Errorf("move widget %q: %w", id, err)
	}
	m.notify(ctx, Change{Kind: ChangeMoved, WidgetID: id, TypeID: rec.TypeID, Context: scope.Context, RelatedID: relatedID})
	return nil
}

func (m *Manager) saveWidgetState(ctx context.Context, scope Scope, id string, w Instance) error {
	if err := m.ready(ctx); err != nil {
		return err
	}
	if m.serializer == nil {
		return fmt.Errorf("%w: no state serializer configured", ErrPrecondition)
	}
	rec, err := m.fetchRecord(ctx, scope, id, true)
	if err != nil {
		return err
	}
	state, err := m.serializer.Serialize(w)
	if err != nil {
		return fmt.Errorf("serialize widget %q: %w", id, err)
	}
	if err := m.persister.SaveState(ctx, id, state); err != nil {
		return fmt.Errorf("save widget %q: %w", id, err)
	}
	m.notify(ctx, Change{Kind: ChangeStateSaved, WidgetID: id, TypeID: rec.TypeID, Context: scope.Context})
	return nil
}

func (m *Manager) widgetInstance(ctx context.Context, scope Scope, id string) (Instance, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}
	rec, err := m.fetchRecord(ctx, scope, id, true)
	if err != nil {
		return nil, err
	}
	d, err := m.declaration(rec.TypeID)
	if err != nil {
		return nil, fmt.Errorf("widget %q: %w", id, err)
	}
	ok, err := m.filterOne(ctx, scope, d)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: widget type %q is disabled", ErrFiltered, rec.TypeID)
	}
	inst, err := d.CreateInstance()
	if err != nil {
		return nil, err
	}
	if rec.State != "" {
		if m.serializer == nil {
			return nil, fmt.Errorf("%w: no state serializer configured", ErrPrecondition)
		}
		if err := m.serializer.Restore(inst, rec.State); err != nil {
			return nil, fmt.Errorf("restore widget %q: %w", id, err)
		}
	}
	return inst, nil
}

// AvailableWidgets returns a fresh instance of every type the current user
// may add, keyed by type id. Unique types the user already holds are omitted.
func (m *Manager) AvailableWidgets(ctx context.Context) (map[string]Instance, error) {
	scope, err := m.scope(ctx)
	if err != nil {
		return nil, err
	}
	return m.availableWidgets(ctx, scope)
}

// UserWidgetIDs returns the current user's widget ids in position order,
// omitting widgets whose type the filter chain removed.
func (m *Manager) UserWidgetIDs(ctx context.Context) ([]string, error) {
	scope, err := m.scope(ctx)
	if err != nil {
		return nil, err
	}
	return m.userWidgetIDs(ctx, scope)
}

// InsertWidget adds a widget of typeID before beforeID, or at the end when
// beforeID is empty, and returns the new widget id.
func (m *Manager) InsertWidget(ctx context.Context, typeID, beforeID string) (string, error) {
	scope, err := m.scope(ctx)
	if err != nil {
		return "", err
	}
	return m.insertWidget(ctx, scope, typeID, beforeID)
}

// RemoveWidget deletes one of the current user's widgets.
func (m *Manager) RemoveWidget(ctx context.Context, id string) error {
	scope, err := m.scope(ctx)
	if err != nil {
		return err
	}
	return m.removeWidget(ctx, scope, id)
}

// MoveWidgetBefore places id before relatedID, or at the end when relatedID
// is empty.
func (m *Manager) MoveWidgetBefore(ctx context.Context, id, relatedID string) error {
	scope, err := m.scope(ctx)
	if err != nil {
		return err
	}
	return m.moveWidgetBefore(ctx, scope, id, relatedID)
}

// SaveWidgetState serializes w and stores it as the state of id.
func (m *Manager) SaveWidgetState(ctx context.Context, id string, w Instance) error {
	scope, err := m.scope(ctx)
	if err != nil {
		return err
	}
	return m.saveWidgetState(ctx, scope, id, w)
}

// WidgetInstance materializes widget id with its saved state restored.
func (m *Manager) WidgetInstance(ctx context.Context, id string) (Instance, error) {
	scope, err := m.scope(ctx)
	if err != nil {
		return nil, err
	}
	return m.widgetInstance(ctx, scope, id)
}

type userService struct {
	m      *Manager
	userID string
}

func (s *userService) AvailableWidgets(ctx context.Context) (map[string]Instance, error) {
	return s.m.availableWidgets(ctx, s.m.scopeFor(s.userID))
}

func (s *userService) UserWidgetIDs(ctx context.Context) ([]string, error) {
	return s.m.userWidgetIDs(ctx, s.m.scopeFor(s.userID))
}

func (s *userService) InsertWidget(ctx context.Context, typeID, beforeID string) (string, error) {
	return s.m.insertWidget(ctx, s.m.scopeFor(s.userID), typeID, beforeID)
}

func (s *userService) RemoveWidget(ctx context.Context, id string) error {
	return s.m.removeWidget(ctx, s.m.scopeFor(s.userID), id)
}

func (s *userService) MoveWidgetBefore(ctx context.Context, id, relatedID string) error {
	return s.m.moveWidgetBefore(ctx, s.m.scopeFor(s.userID), id, relatedID)
}

func (s *userService) SaveWidgetState(ctx context.Context, id string, w Instance) error {
	return s.m.saveWidgetState(ctx, s.m.scopeFor(s.userID), id, w)
}

func (s *userService) WidgetInstance(ctx context.Context, id string) (Instance, error) {
	return s.m.widgetInstance(ctx, s.m.scopeFor(s.userID), id)
}
