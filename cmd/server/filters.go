package main

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal/catalog"
)

const (
	defaultPage         = 1
	defaultItemsPerPage = 20
	maxItemsPerPage     = 100
)

var reservedParams = map[string]bool{
	"page":           true,
	"items_per_page": true,
}

// buildFilter turns query parameters of the form field=op:value into a filter.
// Parameters are ANDed; a parameter without a known operator prefix is an equality test.
func buildFilter(cat *catalog.Catalog, entity string, params url.Values) (strata.Filter, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		if !reservedParams[name] {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return strata.All(), nil
	}
	sort.Strings(names)

	q := strata.NewQuery(cat.Registry())
	for _, name := range names {
		f, ok := cat.Field(entity, name)
		if !ok {
			return strata.Filter{}, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeFieldNotBound,
				fmt.Sprintf("%s has no property %q", entity, name))
		}
		for _, raw := range params[name] {
			if err := addTerm(q, f, raw); err != nil {
				return strata.Filter{}, err
			}
		}
	}
	return strata.Matching(q), nil
}

func addTerm(q *strata.Query, f *strata.FieldDefinition, raw string) error {
	op, value := parseExpression(raw)
	switch op {
	case "starts_with":
		q.StartsLike(f.ID, value)
		return nil
	case "ends_with":
		q.EndsLike(f.ID, value)
		return nil
	case "contains":
		q.Like(f.ID, "%"+value+"%")
		return nil
	case "in", "not_in":
		values, err := parseList(f, value)
		if err != nil {
			return err
		}
		if op == "in" {
			q.In(f.ID, values...)
		} else {
			q.NotIn(f.ID, values...)
		}
		return nil
	}

	v, err := catalog.ParseLiteral(f, value)
	if err != nil {
		return err
	}
	switch op {
	case "not_equals":
		q.NotEquals(f.ID, v)
	case "gt":
		q.GreaterThan(f.ID, v)
	case "lt":
		q.LessThan(f.ID, v)
	default:
		q.Equals(f.ID, v)
	}
	return nil
}

// parseExpression splits "op:value". Values without a known operator are equality literals,
// so "12:30:00" stays intact.
func parseExpression(expr string) (string, string) {
	op, value, found := strings.Cut(expr, ":")
	if !found {
		return "equals", expr
	}
	switch op {
	case "equals", "not_equals", "gt", "lt", "starts_with", "ends_with", "contains", "in", "not_in":
		return op, value
	}
	return "equals", expr
}

func parseList(f *strata.FieldDefinition, raw string) ([]any, error) {
	parts := strings.Split(raw, ",")
	values := make([]any, 0, len(parts))
	for _, p := range parts {
		v, err := catalog.ParseLiteral(f, strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func parsePagination(params url.Values) (int, int) {
	page := defaultPage
	if v, err := strconv.Atoi(params.Get("page")); err == nil && v > 0 {
		page = v
	}
	perPage := defaultItemsPerPage
	if v, err := strconv.Atoi(params.Get("items_per_page")); err == nil && v > 0 {
		perPage = v
	}
	if perPage > maxItemsPerPage {
		perPage = maxItemsPerPage
	}
	return page, perPage
}
