package strata

import (
	"context"
)

// Store persists entity graphs into the attribute tables of one backend.
type Store interface {
	// Bootstrap creates missing schema objects. Repeated calls converge on the same schema.
	Bootstrap(ctx context.Context) (*BootstrapReport, error)

	// Save writes all entities in one transaction. Entities without a guid receive one.
	Save(ctx context.Context, entities []Entity) error
	// SaveChunked saves consecutive chunks of size entities, one transaction per chunk.
	SaveChunked(ctx context.Context, entities []Entity, size int) error

	// Load reconstructs the instances of an entity type (and its subtypes) matching filter.
	Load(ctx context.Context, entityID int64, filter Filter) ([]Entity, error)

	// Delete removes instances with their attribute and binding rows. History is retained.
	Delete(ctx context.Context, guids ...string) error

	Close()
}

// BootstrapState is a stage of the schema bootstrap sequence.
type BootstrapState string

const (
	StateUninitialized          BootstrapState = "uninitialized"
	StateReferenceTablesCreated BootstrapState = "reference-tables-created"
	StateBindingTablesCreated   BootstrapState = "binding-tables-created"
	StateAttributeTablesCreated BootstrapState = "attribute-tables-created"
	StateOverviewHistoryCreated BootstrapState = "overview/history-created"
	StateExtrasInitialized      BootstrapState = "dialect-extras-initialized"
	StateDefinitionsMapped      BootstrapState = "definitions-mapped"
	StateReady                  BootstrapState = "ready"
)

// BootstrapReport summarizes one bootstrap run.
type BootstrapReport struct {
	Created  []string          `json:"created"`
	Existing []string          `json:"existing"`
	Failed   map[string]string `json:"failed,omitempty"`
	State    BootstrapState    `json:"state"`
}

// FilterKind selects how Load picks instances.
type FilterKind int

const (
	FilterAll FilterKind = iota
	FilterByGuid
	FilterMatching
)

// Filter selects the instances a Load returns.
type Filter struct {
	kind  FilterKind
	guids []string
	query *Query
}

// All selects every instance of the type.
func All() Filter {
	return Filter{kind: FilterAll}
}

// ByGuid selects instances by guid.
func ByGuid(guids ...string) Filter {
	return Filter{kind: FilterByGuid, guids: append([]string(nil), guids...)}
}

// Matching selects instances satisfying q.
func Matching(q *Query) Filter {
	return Filter{kind: FilterMatching, query: q}
}

func (f Filter) Kind() FilterKind {
	return f.kind
}

func (f Filter) Guids() []string {
	return f.guids
}

func (f Filter) Query() *Query {
	return f.query
}
