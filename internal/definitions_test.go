package internal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/strata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allObjects(b DialectBackend) []SchemaObject {
	var objs []SchemaObject
	objs = append(objs, referenceObjects()...)
	objs = append(objs, bindingObjects()...)
	objs = append(objs, attributeObjects()...)
	objs = append(objs, overviewHistoryObjects()...)
	return append(objs, b.Extras()...)
}

func TestEmbeddedDefinitionsRender(t *testing.T) {
	dialects := []strata.Dialect{
		strata.DialectPostgres, strata.DialectMySQL, strata.DialectSQLite, strata.DialectOracle, strata.DialectTransactSQL,
	}
	for _, d := range dialects {
		t.Run(string(d), func(t *testing.T) {
			backend, err := NewDialectBackend(d, nil)
			require.NoError(t, err)
			loader, err := NewDefinitionLoader(context.Background(), backend, nil)
			require.NoError(t, err)

			for _, obj := range allObjects(backend) {
				stmts, err := loader.Statements(obj)
				require.NoError(t, err, obj.Name)
				require.NotEmpty(t, stmts, obj.Name)
				for _, stmt := range stmts {
					assert.NotContains(t, stmt, "<no value>", obj.Name)
				}
			}

			stmts, err := loader.Statements(SchemaObject{Name: strata.TableStoreTextArray, Template: "attribute_table", Table: &[]strata.Table{strata.TableFor(strata.CategoryTextArray)}[0]})
			require.NoError(t, err)
			assert.Contains(t, stmts[0], "Sequence")
			assert.Contains(t, stmts[0], backend.ColumnType(strata.CategoryText))
		})
	}
}

func TestDefinitionBlockMissing(t *testing.T) {
	backend, err := NewDialectBackend(strata.DialectSQLite, nil)
	require.NoError(t, err)
	loader, err := NewDefinitionLoader(context.Background(), backend, nil)
	require.NoError(t, err)

	_, err = loader.Statements(SchemaObject{Name: "procStoreText", Template: "save_value_procedure"})
	var se *strata.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, strata.ErrCodeDefinitionNotFound, se.Code)
}

func TestSplitBatches(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", "CREATE TABLE a (x INT);\n", []string{"CREATE TABLE a (x INT);"}},
		{"separated", "CREATE TABLE a (x INT)\nGO\nCREATE INDEX i ON a (x)\n", []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}},
		{"case and blanks", "\n\nA\n  go  \n\nGO\nB", []string{"A", "B"}},
		{"GO inside a line", "SELECT 'GO' FROM dual", []string{"SELECT 'GO' FROM dual"}},
		{"empty", "\nGO\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitBatches(tt.in))
		})
	}
}

type stubSource struct {
	body []byte
	ok   bool
	err  error
}

func (s stubSource) Fetch(context.Context, strata.Dialect) ([]byte, bool, error) {
	return s.body, s.ok, s.err
}

func TestDefinitionOverride(t *testing.T) {
	backend, err := NewDialectBackend(strata.DialectPostgres, nil)
	require.NoError(t, err)
	refEntities := referenceObjects()[0]

	override := stubSource{ok: true, body: []byte(`{{define "ref_entities"}}CREATE TABLE {{.Name}} (EntityId {{.Types.id}} PRIMARY KEY){{end}}`)}
	loader, err := NewDefinitionLoader(context.Background(), backend, override)
	require.NoError(t, err)
	stmts, err := loader.Statements(refEntities)
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE TABLE JdsRefEntities (EntityId BIGINT PRIMARY KEY)"}, stmts)

	stmts, err = loader.Statements(overviewObject())
	require.NoError(t, err)
	assert.Len(t, stmts, 2, "blocks without an override keep the embedded text")

	loader, err = NewDefinitionLoader(context.Background(), backend, stubSource{err: errors.New("unreachable")})
	require.NoError(t, err)
	stmts, err = loader.Statements(refEntities)
	require.NoError(t, err)
	assert.Contains(t, stmts[0], "EntityName")

	_, err = NewDefinitionLoader(context.Background(), backend, stubSource{ok: true, body: []byte(`{{define "x"}}{{end`)})
	require.Error(t, err)
}

type fakeGetObject struct {
	objects map[string][]byte
	err     error
	calls   int
}

func (f *fakeGetObject) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "not found"}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func TestS3DefinitionSource(t *testing.T) {
	ctx := context.Background()
	client := &fakeGetObject{objects: map[string][]byte{
		"defs/overrides/postgres.sql.tmpl": []byte(`{{define "ref_entities"}}SELECT 1{{end}}`),
	}}
	source := NewS3DefinitionSource(client, "defs", "overrides", nil)

	body, ok, err := source.Fetch(ctx, strata.DialectPostgres)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(body), `{{define "ref_entities"}}`))

	body, ok, err = source.Fetch(ctx, strata.DialectMySQL)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, body)
}

func TestS3DefinitionSourceBreaker(t *testing.T) {
	ctx := context.Background()
	client := &fakeGetObject{err: errors.New("dial tcp: i/o timeout")}
	breaker := NewCircuitBreaker(2, time.Minute, time.Hour)
	source := NewS3DefinitionSource(client, "defs", "", breaker)

	for range 2 {
		_, _, err := source.Fetch(ctx, strata.DialectOracle)
		require.Error(t, err)
	}
	require.True(t, breaker.IsOpen())

	calls := client.calls
	_, ok, err := source.Fetch(ctx, strata.DialectOracle)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, calls, client.calls, "an open breaker skips the download")
}
