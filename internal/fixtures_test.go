package internal

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/lychee-technology/strata"
	"github.com/stretchr/testify/require"
)

const (
	personEntity   int64 = 1
	addressEntity  int64 = 2
	employeeEntity int64 = 3

	ageField        int64 = 10
	nameField       int64 = 11
	tagsField       int64 = 12
	statusField     int64 = 13
	scoresField     int64 = 14
	bornField       int64 = 15
	addressField    int64 = 16
	activeField     int64 = 17
	photoField      int64 = 18
	zonedField      int64 = 19
	streetField     int64 = 20
	salaryField     int64 = 21
	shiftField      int64 = 22
	ratioField      int64 = 23
	heightField     int64 = 24
	friendsField    int64 = 25
	rolesField      int64 = 26
	lotteryField    int64 = 27
	visitsField     int64 = 28
	readingsField   int64 = 29
	weightsField    int64 = 30
	populationField int64 = 32
	orphanField     int64 = 99
)

func newTestRegistry(t *testing.T) *strata.Registry {
	t.Helper()
	r, err := strata.NewRegistryBuilder().
		Field(strata.FieldDefinition{ID: ageField, Name: "age", Type: strata.FieldTypeInt}).
		Field(strata.FieldDefinition{ID: nameField, Name: "name", Type: strata.FieldTypeText}).
		Field(strata.FieldDefinition{ID: tagsField, Name: "tags", Type: strata.FieldTypeTextCollection}).
		Field(strata.FieldDefinition{ID: statusField, Name: "status", Type: strata.FieldTypeEnum, EnumValues: []string{"active", "suspended"}}).
		Field(strata.FieldDefinition{ID: scoresField, Name: "scores", Type: strata.FieldTypeLongCollection}).
		Field(strata.FieldDefinition{ID: bornField, Name: "born", Type: strata.FieldTypeDateTime}).
		Field(strata.FieldDefinition{ID: addressField, Name: "address", Type: strata.FieldTypeEntity, EntityRef: addressEntity}).
		Field(strata.FieldDefinition{ID: activeField, Name: "active", Type: strata.FieldTypeBoolean}).
		Field(strata.FieldDefinition{ID: photoField, Name: "photo", Type: strata.FieldTypeBlob}).
		Field(strata.FieldDefinition{ID: zonedField, Name: "lastSeen", Type: strata.FieldTypeZonedDateTime}).
		Field(strata.FieldDefinition{ID: streetField, Name: "street", Type: strata.FieldTypeText}).
		Field(strata.FieldDefinition{ID: salaryField, Name: "salary", Type: strata.FieldTypeDouble}).
		Field(strata.FieldDefinition{ID: shiftField, Name: "shiftStart", Type: strata.FieldTypeTime}).
		Field(strata.FieldDefinition{ID: ratioField, Name: "ratio", Type: strata.FieldTypeFloat}).
		Field(strata.FieldDefinition{ID: heightField, Name: "height", Type: strata.FieldTypeLong}).
		Field(strata.FieldDefinition{ID: friendsField, Name: "friends", Type: strata.FieldTypeEntityCollection, EntityRef: personEntity}).
		Field(strata.FieldDefinition{ID: rolesField, Name: "roles", Type: strata.FieldTypeEnumCollection, EnumValues: []string{"admin", "editor", "viewer"}}).
		Field(strata.FieldDefinition{ID: lotteryField, Name: "lottery", Type: strata.FieldTypeIntCollection}).
		Field(strata.FieldDefinition{ID: visitsField, Name: "visits", Type: strata.FieldTypeDateTimeCollection}).
		Field(strata.FieldDefinition{ID: readingsField, Name: "readings", Type: strata.FieldTypeDoubleCollection}).
		Field(strata.FieldDefinition{ID: weightsField, Name: "weights", Type: strata.FieldTypeFloatCollection}).
		Field(strata.FieldDefinition{ID: populationField, Name: "population", Type: strata.FieldTypeLong}).
		Field(strata.FieldDefinition{ID: orphanField, Name: "orphan", Type: strata.FieldTypeText}).
		Entity(strata.EntityDefinition{ID: personEntity, Name: "person", FieldIDs: []int64{
			ageField, nameField, tagsField, statusField, scoresField, bornField, addressField, activeField,
			photoField, zonedField, shiftField, ratioField, heightField, friendsField, rolesField,
			lotteryField, visitsField, readingsField, weightsField,
		}}).
		Entity(strata.EntityDefinition{ID: addressEntity, Name: "address", FieldIDs: []int64{streetField, populationField}}).
		Entity(strata.EntityDefinition{ID: employeeEntity, Name: "employee", FieldIDs: []int64{salaryField}, ParentID: personEntity}).
		Build()
	require.NoError(t, err)
	return r
}

// sequentialGuids hands out g1, g2, ... in order.
func sequentialGuids() guidFunc {
	var n atomic.Int64
	return func() (string, error) {
		return fmt.Sprintf("g%d", n.Add(1)), nil
	}
}

// listeningRecord fails its post-save hook when failPost is set. After load it
// counts its integer rows, unless its name is "broken".
type listeningRecord struct {
	*strata.Record
	failPost   bool
	pre        int
	post       int
	loads      int
	loadedName any
	storedInts int
}

func (r *listeningRecord) OnPreSave(ctx context.Context, event strata.SaveEvent) error {
	r.pre++
	return nil
}

func (r *listeningRecord) OnPostSave(ctx context.Context, event strata.SaveEvent) error {
	r.post++
	if r.failPost {
		return fmt.Errorf("post-save hook of %s refused", r.Overview().EntityGuid)
	}
	return nil
}

func (r *listeningRecord) OnPostLoad(ctx context.Context, event strata.LoadEvent) error {
	r.loads++
	r.loadedName, _ = r.Get(nameField)
	if r.loadedName == "broken" {
		return fmt.Errorf("post-load hook of %s refused", r.Overview().EntityGuid)
	}
	rows, err := event.Querier.Query(ctx, "SELECT COUNT(*) FROM JdsStoreInteger WHERE EntityGuid = ?", r.Overview().EntityGuid)
	if err != nil {
		return err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&r.storedInts); err != nil {
			return err
		}
	}
	return rows.Err()
}

func recordsOf(t *testing.T, entities []strata.Entity) []*strata.Record {
	t.Helper()
	out := make([]*strata.Record, len(entities))
	for i, e := range entities {
		r, ok := e.(*strata.Record)
		require.True(t, ok, "entity %d is %T", i, e)
		out[i] = r
	}
	return out
}
