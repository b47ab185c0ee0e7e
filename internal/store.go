package internal

import (
	"context"
	"time"

	"github.com/lychee-technology/strata"
)

// Store is the attribute-table store over one session and dialect.
type Store struct {
	cfg      *strata.Config
	registry *strata.Registry
	session  Session
	backend  DialectBackend
	factory  strata.EntityFactory
	source   DefinitionSource
	newGuid  guidFunc
	nowFunc  func() time.Time
}

var _ strata.Store = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithEntityFactory sets how instances are created during load. Defaults to strata.RecordFactory.
func WithEntityFactory(factory strata.EntityFactory) Option {
	return func(s *Store) {
		s.factory = factory
	}
}

// WithDefinitionSource sets where definition overrides are fetched from at bootstrap.
func WithDefinitionSource(source DefinitionSource) Option {
	return func(s *Store) {
		s.source = source
	}
}

// WithClock replaces the clock stamping overview rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// NewStore binds a registry to a session. The dialect comes from cfg.Database.Dialect.
func NewStore(cfg *strata.Config, registry *strata.Registry, session Session, opts ...Option) (*Store, error) {
	if cfg == nil {
		cfg = strata.DefaultConfig()
	}
	if registry == nil {
		return nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, "registry is required")
	}
	backend, err := NewDialectBackend(cfg.Database.Dialect, session)
	if err != nil {
		return nil, err
	}
	newGuid, err := newGuidFunc(cfg.Store.GuidStrategy)
	if err != nil {
		return nil, err
	}
	s := &Store{
		cfg:      cfg,
		registry: registry,
		session:  session,
		backend:  backend,
		factory:  strata.RecordFactory,
		newGuid:  newGuid,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Backend exposes the dialect backend, e.g. for probing from tools.
func (s *Store) Backend() DialectBackend {
	return s.backend
}

func (s *Store) Bootstrap(ctx context.Context) (*strata.BootstrapReport, error) {
	loader, err := NewDefinitionLoader(ctx, s.backend, s.source)
	if err != nil {
		return nil, err
	}
	b := &bootstrapper{
		session:   s.session,
		backend:   s.backend,
		loader:    loader,
		registry:  s.registry,
		cfg:       s.cfg.Bootstrap,
		maxParams: s.maxParams(),
	}
	return b.run(ctx)
}

func (s *Store) Close() {
	s.session.Close()
}

func (s *Store) maxParams() int {
	if s.cfg.Store.MaxStatementParams > 0 {
		return s.cfg.Store.MaxStatementParams
	}
	return s.backend.MaxParams()
}

func (s *Store) now() time.Time {
	return s.nowFunc().UTC().Truncate(time.Millisecond)
}

// ObjectStatus is the probed state of one schema object.
type ObjectStatus struct {
	Name   string     `json:"name"`
	Kind   ObjectKind `json:"kind"`
	Exists bool       `json:"exists"`
	Error  string     `json:"error,omitempty"`
}

// ProbeSchema reports which schema objects exist without creating any of them.
func (s *Store) ProbeSchema(ctx context.Context, withExtras bool) []ObjectStatus {
	objs := concatObjects(referenceObjects(), bindingObjects(), attributeObjects(), overviewHistoryObjects())
	if withExtras {
		objs = concatObjects(objs, s.backend.Extras())
	}
	out := make([]ObjectStatus, 0, len(objs))
	for _, obj := range objs {
		exists, err := s.backend.Probe(ctx, obj.Kind, obj.Name)
		status := ObjectStatus{Name: obj.Name, Kind: obj.Kind, Exists: exists}
		if err != nil {
			status.Error = err.Error()
		}
		out = append(out, status)
	}
	return out
}
