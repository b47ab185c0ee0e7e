package internal

import (
	"context"
	"fmt"

	"github.com/lychee-technology/strata"
)

// CategoryCode is the JdsRefFieldTypes id of a storage category.
func CategoryCode(c strata.StorageCategory) int32 {
	for i, known := range strata.Categories {
		if known == c {
			return int32(i + 1)
		}
	}
	return 0
}

type refUpsert struct {
	table  string
	keys   []string
	values []string
	rows   [][]any
}

// mapDefinitions writes the registry into the reference and binding tables. Rows are
// upserted, so repeated runs converge.
func (b *bootstrapper) mapDefinitions(ctx context.Context) error {
	var fieldTypes, entities, fields, enums, bindFields, bindEnums, inheritance [][]any
	for _, c := range strata.Categories {
		fieldTypes = append(fieldTypes, []any{CategoryCode(c), string(c)})
	}
	for _, f := range b.registry.AllFields() {
		fields = append(fields, []any{f.ID, f.Name, CategoryCode(f.Category)})
		for seq, literal := range f.EnumValues {
			enums = append(enums, []any{f.ID, int32(seq), literal})
		}
	}
	for _, e := range b.registry.Entities() {
		entities = append(entities, []any{e.ID, e.Name})
		for _, fid := range e.FieldIDs {
			bindFields = append(bindFields, []any{e.ID, fid})
			if f, ok := b.registry.Field(fid); ok && f.Category.IsEnum() {
				bindEnums = append(bindEnums, []any{e.ID, fid})
			}
		}
		if e.ParentID != 0 {
			inheritance = append(inheritance, []any{e.ParentID, e.ID})
		}
	}

	batches := []refUpsert{
		{strata.TableRefFieldTypes, []string{"TypeId"}, []string{"TypeName"}, fieldTypes},
		{strata.TableRefEntities, []string{strata.ColEntityID}, []string{"EntityName"}, entities},
		{strata.TableRefFields, []string{strata.ColFieldID}, []string{"FieldName", "FieldTypeId"}, fields},
		{strata.TableRefEnumValues, []string{strata.ColFieldID, strata.ColEnumSeq}, []string{strata.ColEnumValue}, enums},
		{strata.TableBindEntityFields, []string{strata.ColEntityID, strata.ColFieldID}, nil, bindFields},
		{strata.TableBindEntityEnums, []string{strata.ColEntityID, strata.ColFieldID}, nil, bindEnums},
		{strata.TableEntityInheritance, []string{"ParentEntityCode", "ChildEntityCode"}, nil, inheritance},
	}

	tx, err := b.session.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, batch := range batches {
		if len(batch.rows) == 0 {
			continue
		}
		width := len(batch.keys) + len(batch.values)
		_, err := execBatches(ctx, tx, b.maxParams, width, batch.rows, func(rows [][]any) (string, []any) {
			return b.backend.Upsert(batch.table, batch.keys, batch.values, rows)
		})
		if err != nil {
			return fmt.Errorf("map %s: %w", batch.table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit definition mapping: %w", err)
	}
	return nil
}
