package internal

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lychee-technology/strata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertRendering(t *testing.T) {
	rows := [][]any{{"g1", int64(10), "a"}, {"g2", int64(10), "b"}}
	keys := []string{"EntityGuid", "FieldId"}
	values := []string{"Value"}

	tests := []struct {
		dialect strata.Dialect
		table   string
		want    string
	}{
		{strata.DialectPostgres, "JdsStoreText",
			"INSERT INTO JdsStoreText (EntityGuid, FieldId, Value) VALUES (?, ?, ?), (?, ?, ?) ON CONFLICT (EntityGuid, FieldId) DO UPDATE SET Value = EXCLUDED.Value"},
		{strata.DialectMySQL, "JdsStoreText",
			"INSERT INTO JdsStoreText (EntityGuid, FieldId, Value) VALUES (?, ?, ?), (?, ?, ?) ON DUPLICATE KEY UPDATE Value = VALUES(Value)"},
		{strata.DialectSQLite, "JdsStoreText",
			"INSERT OR REPLACE INTO JdsStoreText (EntityGuid, FieldId, Value) VALUES (?, ?, ?), (?, ?, ?)"},
		{strata.DialectSQLite, strata.TableEntityOverview,
			"INSERT INTO JdsStoreEntityOverview (EntityGuid, FieldId, Value) VALUES (?, ?, ?), (?, ?, ?) ON CONFLICT (EntityGuid, FieldId) DO UPDATE SET Value = excluded.Value"},
		{strata.DialectOracle, "JdsStoreText",
			"MERGE INTO JdsStoreText d USING (SELECT ? EntityGuid, ? FieldId, ? Value FROM dual UNION ALL SELECT ? EntityGuid, ? FieldId, ? Value FROM dual) s ON (d.EntityGuid = s.EntityGuid AND d.FieldId = s.FieldId) WHEN MATCHED THEN UPDATE SET d.Value = s.Value WHEN NOT MATCHED THEN INSERT (EntityGuid, FieldId, Value) VALUES (s.EntityGuid, s.FieldId, s.Value)"},
		{strata.DialectTransactSQL, "JdsStoreText",
			"MERGE INTO JdsStoreText WITH (HOLDLOCK) AS d USING (VALUES (?, ?, ?), (?, ?, ?)) AS s (EntityGuid, FieldId, Value) ON d.EntityGuid = s.EntityGuid AND d.FieldId = s.FieldId WHEN MATCHED THEN UPDATE SET d.Value = s.Value WHEN NOT MATCHED THEN INSERT (EntityGuid, FieldId, Value) VALUES (s.EntityGuid, s.FieldId, s.Value);"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect)+"/"+tt.table, func(t *testing.T) {
			backend, err := NewDialectBackend(tt.dialect, nil)
			require.NoError(t, err)
			query, args := backend.Upsert(tt.table, keys, values, rows)
			assert.Equal(t, tt.want, query)
			assert.Equal(t, []any{"g1", int64(10), "a", "g2", int64(10), "b"}, args)
		})
	}
}

func TestKeyOnlyUpsertKeepsExistingRows(t *testing.T) {
	keys := []string{"EntityId", "FieldId"}
	rows := [][]any{{int64(1), int64(2)}}

	tests := map[strata.Dialect]string{
		strata.DialectPostgres: "INSERT INTO JdsBindEntityFields (EntityId, FieldId) VALUES (?, ?) ON CONFLICT (EntityId, FieldId) DO NOTHING",
		strata.DialectMySQL:    "INSERT IGNORE INTO JdsBindEntityFields (EntityId, FieldId) VALUES (?, ?)",
		strata.DialectSQLite:   "INSERT OR IGNORE INTO JdsBindEntityFields (EntityId, FieldId) VALUES (?, ?)",
	}
	for d, want := range tests {
		backend, err := NewDialectBackend(d, nil)
		require.NoError(t, err)
		query, _ := backend.Upsert(strata.TableBindEntityFields, keys, nil, rows)
		assert.Equal(t, want, query, d)
	}

	backend, err := NewDialectBackend(strata.DialectOracle, nil)
	require.NoError(t, err)
	query, _ := backend.Upsert(strata.TableBindEntityFields, keys, nil, rows)
	assert.NotContains(t, query, "WHEN MATCHED")
}

func TestOracleBindsBooleansAsNumbers(t *testing.T) {
	backend, err := NewDialectBackend(strata.DialectOracle, nil)
	require.NoError(t, err)

	query, args := backend.Insert(strata.TableStoreBoolean, []string{"EntityGuid", "FieldId", "Value"}, [][]any{{"g1", int64(17), true}, {"g2", int64(17), false}})
	assert.Equal(t, "INSERT ALL INTO JdsStoreBoolean (EntityGuid, FieldId, Value) VALUES (?, ?, ?) INTO JdsStoreBoolean (EntityGuid, FieldId, Value) VALUES (?, ?, ?) SELECT 1 FROM dual", query)
	assert.Equal(t, []any{"g1", int64(17), 1, "g2", int64(17), 0}, args)
}

func TestUnsupportedDialect(t *testing.T) {
	_, err := NewDialectBackend("db2", nil)
	require.Error(t, err)
	assert.True(t, strata.IsConfigurationError(err))
}

func TestAddColumnSyntax(t *testing.T) {
	tests := map[strata.Dialect]string{
		strata.DialectPostgres:    "ALTER TABLE JdsStoreOldFieldValues ADD COLUMN BlobValue BYTEA",
		strata.DialectOracle:      "ALTER TABLE JdsStoreOldFieldValues ADD (BlobValue BLOB)",
		strata.DialectTransactSQL: "ALTER TABLE JdsStoreOldFieldValues ADD BlobValue VARBINARY(MAX)",
		strata.DialectSQLite:      "ALTER TABLE JdsStoreOldFieldValues ADD COLUMN BlobValue BLOB",
	}
	for d, want := range tests {
		backend, err := NewDialectBackend(d, nil)
		require.NoError(t, err)
		assert.Equal(t, want, backend.AddColumnSyntax(strata.TableOldFieldValues, "BlobValue", strata.CategoryBlob), d)
	}
}

func TestProbesFoldNames(t *testing.T) {
	tests := []struct {
		dialect strata.Dialect
		style   PlaceholderStyle
		query   string
		arg     string
	}{
		{strata.DialectPostgres, PlaceholderDollar, "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1", "jdsstoretext"},
		{strata.DialectOracle, PlaceholderColon, "SELECT COUNT(*) FROM user_objects WHERE object_type = 'TABLE' AND object_name = :1", "JDSSTORETEXT"},
		{strata.DialectTransactSQL, PlaceholderAtP, "SELECT COUNT(*) FROM sysobjects WHERE name = @p1 AND xtype = 'U'", "JdsStoreText"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).
				WithArgs(tt.arg).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

			backend, err := NewDialectBackend(tt.dialect, NewSQLSession(db, tt.style))
			require.NoError(t, err)
			assert.Equal(t, 1, backend.TableExists(context.Background(), strata.TableStoreText))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestProbeFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	backend, err := NewDialectBackend(strata.DialectMySQL, NewSQLSession(db, PlaceholderQuestion))
	require.NoError(t, err)

	mock.ExpectQuery("information_schema.TABLES").WillReturnError(errors.New("access denied"))
	assert.Equal(t, 0, backend.TableExists(context.Background(), strata.TableStoreText))

	mock.ExpectQuery("information_schema.TABLES").WillReturnError(errors.New("access denied"))
	_, err = backend.Probe(context.Background(), KindTable, strata.TableStoreText)
	var se *strata.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, strata.ErrCodeProbeFailed, se.Code)
	assert.Equal(t, strata.TableStoreText, se.Object)

	mock.ExpectQuery("information_schema.COLUMNS").
		WithArgs(strata.TableOldFieldValues, "TextValue").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	assert.Equal(t, 0, backend.ColumnExists(context.Background(), strata.TableOldFieldValues, "TextValue"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowsPerStatement(t *testing.T) {
	tests := []struct {
		maxParams, width, want int
	}{
		{65535, 4, 1000},
		{2099, 4, 524},
		{2099, 5, 419},
		{3, 4, 1},
		{32766, 1, 1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rowsPerStatement(tt.maxParams, tt.width), "%d/%d", tt.maxParams, tt.width)
	}
}

func TestRebind(t *testing.T) {
	query := "SELECT a FROM t WHERE b = ? AND c IN (?, ?) AND d = '?' AND \"e?\" = ?"
	tests := []struct {
		style PlaceholderStyle
		want  string
	}{
		{PlaceholderQuestion, query},
		{PlaceholderDollar, "SELECT a FROM t WHERE b = $1 AND c IN ($2, $3) AND d = '?' AND \"e?\" = $4"},
		{PlaceholderColon, "SELECT a FROM t WHERE b = :1 AND c IN (:2, :3) AND d = '?' AND \"e?\" = :4"},
		{PlaceholderAtP, "SELECT a FROM t WHERE b = @p1 AND c IN (@p2, @p3) AND d = '?' AND \"e?\" = @p4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rebind(tt.style, query))
	}
}
