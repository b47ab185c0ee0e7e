package strata

import (
	"errors"
	"fmt"
	"strings"
)

const overviewAlias = "eo"

// Query builds a filter over attribute tables joined to the entity overview.
//
// Terms are collected into groups. A group is AND-ed internally; And and Or open a
// new group chained to everything before it by that connective, left to right:
// A.Or().B.And().C renders as ((A) OR (B)) AND (C), not with SQL precedence. Every
// attribute table referenced by a term is joined once, so terms on two fields that
// share a table are matched against the same joined row.
type Query struct {
	registry *Registry
	groups   []*termGroup
	joins    []Table
	joined   map[string]bool
	errs     []error
}

type termGroup struct {
	connective string
	terms      []string
	args       []any
}

// NewQuery starts a query with an implicit first group.
func NewQuery(registry *Registry) *Query {
	return &Query{
		registry: registry,
		groups:   []*termGroup{{}},
		joined:   make(map[string]bool),
	}
}

// And opens a group AND-ed to the previous one.
func (q *Query) And() *Query {
	q.groups = append(q.groups, &termGroup{connective: "AND"})
	return q
}

// Or opens a group OR-ed to the previous one.
func (q *Query) Or() *Query {
	q.groups = append(q.groups, &termGroup{connective: "OR"})
	return q
}

func (q *Query) Equals(fieldID int64, value any) *Query {
	return q.compare(fieldID, "=", value)
}

func (q *Query) NotEquals(fieldID int64, value any) *Query {
	return q.compare(fieldID, "<>", value)
}

func (q *Query) GreaterThan(fieldID int64, value any) *Query {
	return q.compare(fieldID, ">", value)
}

func (q *Query) LessThan(fieldID int64, value any) *Query {
	return q.compare(fieldID, "<", value)
}

// Like matches a pattern the caller supplies wildcards for.
func (q *Query) Like(fieldID int64, pattern string) *Query {
	return q.like(fieldID, "LIKE", pattern)
}

// StartsLike matches values beginning with prefix.
func (q *Query) StartsLike(fieldID int64, prefix string) *Query {
	return q.like(fieldID, "LIKE", prefix+"%")
}

// EndsLike matches values ending with suffix.
func (q *Query) EndsLike(fieldID int64, suffix string) *Query {
	return q.like(fieldID, "LIKE", "%"+suffix)
}

// NotLike excludes values matching pattern.
func (q *Query) NotLike(fieldID int64, pattern string) *Query {
	return q.like(fieldID, "NOT LIKE", pattern)
}

func (q *Query) In(fieldID int64, values ...any) *Query {
	return q.in(fieldID, "IN", values)
}

func (q *Query) NotIn(fieldID int64, values ...any) *Query {
	return q.in(fieldID, "NOT IN", values)
}

// wrap parenthesizes a clause made of more than one term. Single terms are
// rendered in parentheses already.
func wrap(clause string, compound bool) string {
	if compound {
		return "(" + clause + ")"
	}
	return clause
}

// Tables returns the joined attribute tables in join order.
func (q *Query) Tables() []Table {
	return append([]Table(nil), q.joins...)
}

// ToQuery renders the query over every entity type. Placeholders are written as '?'.
func (q *Query) ToQuery() (string, []any, error) {
	return q.Build()
}

// Build renders the query, restricted to the given entity types when any are passed.
func (q *Query) Build(entityIDs ...int64) (string, []any, error) {
	if len(q.errs) > 0 {
		return "", nil, NewStoreError(ErrorTypeValidation, ErrCodeQueryBuildFailed, "query has invalid terms").WithCause(errors.Join(q.errs...))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT DISTINCT %[1]s.%[2]s, %[1]s.%[3]s, %[1]s.%[4]s, %[1]s.%[5]s FROM %[6]s %[1]s",
		overviewAlias, ColEntityGuid, ColEntityID, ColDateCreated, ColDateModified, TableEntityOverview)
	for _, t := range q.joins {
		fmt.Fprintf(&sb, " LEFT JOIN %s %s ON %s.%s = %s.%s", t.Name, t.Prefix, t.Prefix, ColEntityGuid, overviewAlias, ColEntityGuid)
	}

	var args []any
	var clauses []string
	if len(entityIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s.%s IN (%s)", overviewAlias, ColEntityID, markers(len(entityIDs))))
		for _, id := range entityIDs {
			args = append(args, id)
		}
	}

	var where string
	compound := false
	for _, g := range q.groups {
		if len(g.terms) == 0 {
			continue
		}
		text := strings.Join(g.terms, " AND ")
		if where == "" {
			where, compound = text, len(g.terms) > 1
		} else {
			where = wrap(where, compound) + " " + g.connective + " " + wrap(text, len(g.terms) > 1)
			compound = true
		}
		args = append(args, g.args...)
	}
	if where != "" {
		if len(clauses) > 0 {
			clauses = append(clauses, "("+where+")")
		} else {
			clauses = append(clauses, where)
		}
	}
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	return sb.String(), args, nil
}

func (q *Query) compare(fieldID int64, op string, value any) *Query {
	f, t, ok := q.resolve(fieldID)
	if !ok {
		return q
	}
	stored, err := EncodeElement(f, value)
	if err != nil {
		q.errs = append(q.errs, err)
		return q
	}
	q.add(t, fmt.Sprintf("(%s.%s = %d AND %s.%s %s ?)", t.Prefix, ColFieldID, f.ID, t.Prefix, ColValue, op), stored)
	return q
}

func (q *Query) like(fieldID int64, op string, pattern string) *Query {
	f, t, ok := q.resolve(fieldID)
	if !ok {
		return q
	}
	if f.Category.Element() != CategoryText {
		q.errs = append(q.errs, NewValidationError(fieldID, fmt.Sprintf("%s requires a text field, got %s", op, f.Category)))
		return q
	}
	q.add(t, fmt.Sprintf("(%s.%s = %d AND %s.%s %s ?)", t.Prefix, ColFieldID, f.ID, t.Prefix, ColValue, op), pattern)
	return q
}

func (q *Query) in(fieldID int64, op string, values []any) *Query {
	f, t, ok := q.resolve(fieldID)
	if !ok {
		return q
	}
	if len(values) == 0 {
		q.errs = append(q.errs, NewValidationError(fieldID, op+" requires at least one value"))
		return q
	}
	stored := make([]any, 0, len(values))
	for _, v := range values {
		s, err := EncodeElement(f, v)
		if err != nil {
			q.errs = append(q.errs, err)
			return q
		}
		stored = append(stored, s)
	}
	q.add(t, fmt.Sprintf("(%s.%s = %d AND %s.%s %s (%s))", t.Prefix, ColFieldID, f.ID, t.Prefix, ColValue, op, markers(len(values))), stored...)
	return q
}

func (q *Query) resolve(fieldID int64) (*FieldDefinition, Table, bool) {
	f, ok := q.registry.Field(fieldID)
	if !ok {
		q.errs = append(q.errs, NewUnregisteredFieldError(fieldID))
		return nil, Table{}, false
	}
	if f.Category.IsObject() || f.Category == CategoryBlob {
		q.errs = append(q.errs, NewValidationError(fieldID, fmt.Sprintf("%s fields cannot be filtered", f.Category)))
		return nil, Table{}, false
	}
	return f, TableFor(f.Category), true
}

func (q *Query) add(t Table, term string, args ...any) {
	if !q.joined[t.Name] {
		q.joined[t.Name] = true
		q.joins = append(q.joins, t)
	}
	g := q.groups[len(q.groups)-1]
	g.terms = append(g.terms, term)
	g.args = append(g.args, args...)
}

func markers(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
