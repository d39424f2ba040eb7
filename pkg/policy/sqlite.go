package policy

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore reads policies from an embedded SQLite database. Used by
// single-node deployments and tests; shares the row shape of
// PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and creates the schema when absent.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("policy: migrate sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS policies (
		id INTEGER PRIMARY KEY,
		application_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		tags TEXT NOT NULL DEFAULT '',
		allowed_users TEXT NOT NULL DEFAULT '',
		denied_users TEXT NOT NULL DEFAULT '',
		allowed_groups TEXT NOT NULL DEFAULT '',
		denied_groups TEXT NOT NULL DEFAULT '',
		allowed_roles TEXT NOT NULL DEFAULT '',
		denied_roles TEXT NOT NULL DEFAULT '',
		permissions JSON,
		condition TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS vector_stores (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		user_enforcement INTEGER NOT NULL DEFAULT 0,
		group_enforcement INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS vector_store_policies (
		id INTEGER PRIMARY KEY,
		vector_store_id TEXT NOT NULL,
		metadata_key TEXT NOT NULL,
		metadata_value TEXT NOT NULL,
		operator TEXT NOT NULL,
		allowed_users TEXT NOT NULL DEFAULT '',
		denied_users TEXT NOT NULL DEFAULT '',
		allowed_groups TEXT NOT NULL DEFAULT '',
		denied_groups TEXT NOT NULL DEFAULT ''
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) ActivePolicies(ctx context.Context, applicationKey string, traits []string) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, status, tags, allowed_users, denied_users, allowed_groups, denied_groups,
       allowed_roles, denied_roles, permissions, condition
FROM policies
WHERE application_key = ? AND status = 'active'
ORDER BY id`, applicationKey)
	if err != nil {
		return nil, fmt.Errorf("policy: query policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Policy
	for rows.Next() {
		p, err := scanPolicyRow(rows)
		if err != nil {
			return nil, err
		}
		if len(p.matchedTraits(traits)) == 0 {
			continue
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("policy: iterate policies: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) VectorStorePolicies(ctx context.Context, vectorStoreID string) ([]VectorStorePolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, vector_store_id, metadata_key, metadata_value, operator,
       allowed_users, denied_users, allowed_groups, denied_groups
FROM vector_store_policies
WHERE vector_store_id = ?
ORDER BY id`, vectorStoreID)
	if err != nil {
		return nil, fmt.Errorf("policy: query vector store policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []VectorStorePolicy
	for rows.Next() {
		var (
			p              VectorStorePolicy
			au, du, ag, dg string
		)
		if err := rows.Scan(&p.ID, &p.VectorStoreID, &p.MetadataKey, &p.MetadataValue,
			&p.Operator, &au, &du, &ag, &dg); err != nil {
			return nil, fmt.Errorf("policy: scan vector store policy: %w", err)
		}
		p.AllowedUsers = splitTokens(au)
		p.DeniedUsers = splitTokens(du)
		p.AllowedGroups = splitTokens(ag)
		p.DeniedGroups = splitTokens(dg)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("policy: iterate vector store policies: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) VectorStoreConfig(ctx context.Context, vectorStoreID string) (VectorStoreConfig, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, provider, user_enforcement, group_enforcement
FROM vector_stores WHERE id = ?`, vectorStoreID)

	var cfg VectorStoreConfig
	err := row.Scan(&cfg.ID, &cfg.Provider, &cfg.UserEnforcement, &cfg.GroupEnforcement)
	if err == sql.ErrNoRows {
		return VectorStoreConfig{}, fmt.Errorf("policy: vector store %q not found: %w", vectorStoreID, ErrStoreUnavailable)
	}
	if err != nil {
		return VectorStoreConfig{}, fmt.Errorf("policy: load vector store config: %w", err)
	}
	return cfg, nil
}
