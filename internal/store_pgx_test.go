package internal

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/lychee-technology/strata"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newPgxStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewStore(strata.DefaultConfig(), newTestRegistry(t), NewPgxSession(mock), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	store.newGuid = sequentialGuids()
	return store, mock
}

func TestSaveWritesOverviewAndAttributes(t *testing.T) {
	store, mock := newPgxStore(t)
	defer mock.Close()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EntityGuid, DateCreated FROM JdsStoreEntityOverview WHERE EntityGuid IN ($1, $2)")).
		WithArgs("existing", "g1").
		WillReturnRows(mock.NewRows([]string{"EntityGuid", "DateCreated"}).AddRow("existing", created))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO JdsStoreEntityOverview (EntityGuid, EntityId, DateCreated, DateModified) VALUES ($1, $2, $3, $4), ($5, $6, $7, $8) ON CONFLICT (EntityGuid) DO UPDATE SET EntityId = EXCLUDED.EntityId, DateCreated = EXCLUDED.DateCreated, DateModified = EXCLUDED.DateModified")).
		WithArgs("existing", personEntity, created, fixedNow, "g1", personEntity, fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO JdsStoreInteger (EntityGuid, FieldId, Value) VALUES ($1, $2, $3) ON CONFLICT (EntityGuid, FieldId) DO UPDATE SET Value = EXCLUDED.Value")).
		WithArgs("g1", ageField, int32(7)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM JdsStoreTextArray WHERE FieldId = $1 AND EntityGuid IN ($2)")).
		WithArgs(tagsField, "existing").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO JdsStoreTextArray (EntityGuid, FieldId, Sequence, Value) VALUES ($1, $2, $3, $4), ($5, $6, $7, $8)")).
		WithArgs("existing", tagsField, int32(0), "x", "existing", tagsField, int32(1), "y").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	existing := strata.NewRecord(personEntity).Set(tagsField, "", []string{"x", "y"})
	existing.Overview().EntityGuid = "existing"
	fresh := strata.NewRecord(personEntity).Set(ageField, "", 7)

	require.NoError(t, store.Save(context.Background(), []strata.Entity{existing, fresh}))
	assert.Equal(t, "g1", fresh.Overview().EntityGuid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReplacesBindings(t *testing.T) {
	store, mock := newPgxStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EntityGuid, DateCreated FROM JdsStoreEntityOverview")).
		WithArgs("g1", "g2").
		WillReturnRows(mock.NewRows([]string{"EntityGuid", "DateCreated"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO JdsStoreEntityOverview (EntityGuid, EntityId, DateCreated, DateModified) VALUES ($1, $2, $3, $4), ($5, $6, $7, $8)")).
		WithArgs("g1", personEntity, fixedNow, fixedNow, "g2", addressEntity, fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO JdsStoreText (EntityGuid, FieldId, Value)")).
		WithArgs("g2", streetField, "1 Main St").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM JdsStoreEntityBinding WHERE FieldId = $1 AND ParentEntityGuid IN ($2)")).
		WithArgs(addressField, "g1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO JdsStoreEntityBinding (ParentEntityGuid, ChildEntityGuid, FieldId, ChildEntityId) VALUES ($1, $2, $3, $4)")).
		WithArgs("g1", "g2", addressField, addressEntity).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	home := strata.NewRecord(addressEntity).Set(streetField, "", "1 Main St")
	person := strata.NewRecord(personEntity).Set(addressField, "", home)
	require.NoError(t, store.Save(context.Background(), []strata.Entity{person, home}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnStatementFailure(t *testing.T) {
	store, mock := newPgxStore(t)
	defer mock.Close()
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EntityGuid, DateCreated FROM JdsStoreEntityOverview WHERE EntityGuid IN ($1)")).
		WithArgs("g1").
		WillReturnRows(mock.NewRows([]string{"EntityGuid", "DateCreated"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO JdsStoreEntityOverview (EntityGuid, EntityId, DateCreated, DateModified) VALUES ($1, $2, $3, $4)")).
		WithArgs("g1", personEntity, fixedNow, fixedNow).
		WillReturnError(boom)
	mock.ExpectRollback()

	err := store.Save(context.Background(), []strata.Entity{strata.NewRecord(personEntity).Set(nameField, "", "Ada")})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var se *strata.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, strata.ErrCodeSaveFailed, se.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveValidatesBeforeWriting(t *testing.T) {
	tests := []struct {
		name   string
		entity func() strata.Entity
		typ    strata.ErrorType
		code   string
	}{
		{
			name:   "unregistered entity",
			entity: func() strata.Entity { return strata.NewRecord(404) },
			typ:    strata.ErrorTypeConfiguration,
			code:   strata.ErrCodeUnregisteredEntity,
		},
		{
			name:   "unregistered field",
			entity: func() strata.Entity { return strata.NewRecord(personEntity).Set(12345, "", "x") },
			typ:    strata.ErrorTypeConfiguration,
			code:   strata.ErrCodeUnregisteredField,
		},
		{
			name:   "field not bound",
			entity: func() strata.Entity { return strata.NewRecord(personEntity).Set(orphanField, "", "x") },
			typ:    strata.ErrorTypeConfiguration,
			code:   strata.ErrCodeFieldNotBound,
		},
		{
			name:   "category mismatch",
			entity: func() strata.Entity { return strata.NewRecord(personEntity).Set(nameField, strata.CategoryLong, "x") },
			typ:    strata.ErrorTypeConfiguration,
			code:   strata.ErrCodeCategoryMismatch,
		},
		{
			name:   "value type mismatch",
			entity: func() strata.Entity { return strata.NewRecord(personEntity).Set(ageField, "", "forty") },
			typ:    strata.ErrorTypeValidation,
			code:   strata.ErrCodeTypeMismatch,
		},
		{
			name:   "unknown enum literal",
			entity: func() strata.Entity { return strata.NewRecord(personEntity).Set(statusField, "", "retired") },
			typ:    strata.ErrorTypeValidation,
			code:   strata.ErrCodeUnknownEnumLiteral,
		},
		{
			name: "object of wrong entity type",
			entity: func() strata.Entity {
				return strata.NewRecord(personEntity).Set(addressField, "", strata.NewRecord(personEntity))
			},
			typ:  strata.ErrorTypeValidation,
			code: strata.ErrCodeTypeMismatch,
		},
		{
			name: "guid too long",
			entity: func() strata.Entity {
				r := strata.NewRecord(personEntity)
				r.Overview().EntityGuid = strings.Repeat("x", 97)
				return r
			},
			typ:  strata.ErrorTypeValidation,
			code: strata.ErrCodeInvalidGuid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newPgxStore(t)
			defer mock.Close()

			err := store.Save(context.Background(), []strata.Entity{tt.entity()})
			require.Error(t, err)
			var se *strata.StoreError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.typ, se.Type)
			assert.Equal(t, tt.code, se.Code)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSaveRejectsDeepGraphs(t *testing.T) {
	store, mock := newPgxStore(t)
	defer mock.Close()
	store.cfg.Store.MaxObjectDepth = 2

	root := strata.NewRecord(personEntity)
	cur := root
	for range 3 {
		next := strata.NewRecord(personEntity)
		cur.Set(friendsField, "", []strata.Entity{next})
		cur = next
	}
	err := store.Save(context.Background(), []strata.Entity{root})
	require.Error(t, err)
	assert.True(t, strata.IsValidationError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEmptyBatchIsNoop(t *testing.T) {
	store, mock := newPgxStore(t)
	defer mock.Close()

	require.NoError(t, store.Save(context.Background(), nil))
	require.NoError(t, store.Delete(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRemovesEveryTable(t *testing.T) {
	store, mock := newPgxStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	for _, table := range strata.AttributeTables() {
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM " + table.Name + " WHERE EntityGuid IN ($1, $2)")).
			WithArgs("g1", "g2").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
	}
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM JdsStoreEntityBinding WHERE ParentEntityGuid IN ($1, $2) OR ChildEntityGuid IN ($3, $4)")).
		WithArgs("g1", "g2", "g1", "g2").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM JdsStoreEntityOverview WHERE EntityGuid IN ($1, $2)")).
		WithArgs("g1", "g2").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	require.NoError(t, store.Delete(context.Background(), "g1", "g2", "g1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteFailureIsTransactionError(t *testing.T) {
	store, mock := newPgxStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM JdsStoreText WHERE EntityGuid IN ($1)")).
		WithArgs("g1").
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := store.Delete(context.Background(), "g1")
	var se *strata.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, strata.ErrorTypeTransaction, se.Type)
	assert.Equal(t, strata.ErrCodeDeleteFailed, se.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSkipsUndecodableRows(t *testing.T) {
	store, mock := newPgxStore(t)
	defer mock.Close()
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EntityGuid, EntityId, DateCreated, DateModified FROM JdsStoreEntityOverview WHERE EntityId IN ($1) AND EntityGuid IN ($2)")).
		WithArgs(addressEntity, "a1").
		WillReturnRows(mock.NewRows([]string{"EntityGuid", "EntityId", "DateCreated", "DateModified"}).
			AddRow("a1", addressEntity, fixedNow, fixedNow))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EntityGuid, FieldId, Value FROM JdsStoreText WHERE EntityGuid IN ($1)")).
		WithArgs("a1").
		WillReturnRows(mock.NewRows([]string{"EntityGuid", "FieldId", "Value"}).
			AddRow("a1", streetField, "1 Main St").
			AddRow("a1", int64(777), "row of a field removed from the registry"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EntityGuid, FieldId, Value FROM JdsStoreLong WHERE EntityGuid IN ($1)")).
		WithArgs("a1").
		WillReturnRows(mock.NewRows([]string{"EntityGuid", "FieldId", "Value"}).
			AddRow("a1", populationField, "not a number"))

	loaded, err := store.Load(context.Background(), addressEntity, strata.ByGuid("a1", "a1"))
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	rec := loaded[0].(*strata.Record)
	street, ok := rec.Get(streetField)
	require.True(t, ok)
	assert.Equal(t, "1 Main St", street)
	_, ok = rec.Get(populationField)
	assert.False(t, ok)
	assert.Equal(t, 1, rec.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadUnregisteredEntity(t *testing.T) {
	store, mock := newPgxStore(t)
	defer mock.Close()

	_, err := store.Load(context.Background(), 404, strata.All())
	require.Error(t, err)
	assert.True(t, strata.IsConfigurationError(err))
}
