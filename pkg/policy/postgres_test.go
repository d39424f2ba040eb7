package policy

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/contracts"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPostgresStore_ActivePolicies(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	rows := sqlmock.NewRows([]string{
		"id", "status", "tags", "allowed_users", "denied_users", "allowed_groups",
		"denied_groups", "allowed_roles", "denied_roles", "permissions", "condition",
	}).
		AddRow(1, "active", "PII_SSN,PII_EMAIL", "", "", "sales, eng", "", "", "",
			[]byte(`{"prompt":"REDACT"}`), "").
		AddRow(2, "active", "TOXIC", "", "alice", "", "", "", "", []byte(`{"prompt":"ALLOW"}`), "")

	mock.ExpectQuery(regexp.QuoteMeta("FROM policies")).
		WithArgs("app-1").
		WillReturnRows(rows)

	got, err := store.ActivePolicies(context.Background(), "app-1", []string{"PII_EMAIL"})
	require.NoError(t, err)

	// Policy 2 carries no matching trait; only policy 1 survives.
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, []string{"PII_SSN", "PII_EMAIL"}, p.Tags)
	assert.Equal(t, []string{"sales", "eng"}, p.AllowedGroups, "comma-joined columns split into trimmed tokens")
	assert.Equal(t, PermissionRedact, p.Permissions[contracts.RequestTypePrompt])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_VectorStoreConfig(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM vector_stores")).
		WithArgs("vs-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "user_enforcement", "group_enforcement"}).
			AddRow("vs-1", "opensearch", true, false))

	cfg, err := store.VectorStoreConfig(context.Background(), "vs-1")
	require.NoError(t, err)
	assert.Equal(t, "opensearch", cfg.Provider)
	assert.True(t, cfg.UserEnforcement)
	assert.False(t, cfg.GroupEnforcement)

	mock.ExpectQuery(regexp.QuoteMeta("FROM vector_stores")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "user_enforcement", "group_enforcement"}))

	_, err = store.VectorStoreConfig(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	db := openSQLite(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO policies
		(id, application_key, status, tags, allowed_groups, permissions)
		VALUES (1, 'app-1', 'active', 'PII_SSN', 'public', '{"prompt":"DENY"}'),
		       (2, 'app-1', 'inactive', 'PII_SSN', 'public', '{"prompt":"ALLOW"}')`)
	require.NoError(t, err)

	got, err := store.ActivePolicies(context.Background(), "app-1", []string{"PII_SSN"})
	require.NoError(t, err)
	require.Len(t, got, 1, "inactive policies are filtered in SQL")
	assert.Equal(t, PermissionDeny, got[0].Permissions[contracts.RequestTypePrompt])

	_, err = db.Exec(`INSERT INTO vector_stores (id, provider, user_enforcement, group_enforcement)
		VALUES ('vs-1', 'cortex', 1, 0)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO vector_store_policies
		(id, vector_store_id, metadata_key, metadata_value, operator)
		VALUES (10, 'vs-1', 'region', 'emea', '==')`)
	require.NoError(t, err)

	cfg, err := store.VectorStoreConfig(context.Background(), "vs-1")
	require.NoError(t, err)
	assert.Equal(t, "cortex", cfg.Provider)

	rows, err := store.VectorStorePolicies(context.Background(), "vs-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "region", rows[0].MetadataKey)
}
