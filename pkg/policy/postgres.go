package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// PostgresStore reads policies from PostgreSQL. Subject lists are
// stored as comma-joined text columns and split into exact tokens on
// load; permissions are a JSON map of channel to permission.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const postgresPolicyQuery = `
SELECT id, status, tags, allowed_users, denied_users, allowed_groups, denied_groups,
       allowed_roles, denied_roles, permissions, condition
FROM policies
WHERE application_key = $1 AND status = 'active'
ORDER BY id`

func (s *PostgresStore) ActivePolicies(ctx context.Context, applicationKey string, traits []string) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, postgresPolicyQuery, applicationKey)
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

func (s *PostgresStore) VectorStorePolicies(ctx context.Context, vectorStoreID string) ([]VectorStorePolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, vector_store_id, metadata_key, metadata_value, operator,
       allowed_users, denied_users, allowed_groups, denied_groups
FROM vector_store_policies
WHERE vector_store_id = $1
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

func (s *PostgresStore) VectorStoreConfig(ctx context.Context, vectorStoreID string) (VectorStoreConfig, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, provider, user_enforcement, group_enforcement
FROM vector_stores WHERE id = $1`, vectorStoreID)

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

// policyScanner covers *sql.Rows and *sql.Row.
type policyScanner interface {
	Scan(dest ...any) error
}

func scanPolicyRow(sc policyScanner) (Policy, error) {
	var (
		p                            Policy
		tags, au, du, ag, dg, ar, dr string
		permsJSON                    []byte
	)
	if err := sc.Scan(&p.ID, &p.Status, &tags, &au, &du, &ag, &dg, &ar, &dr, &permsJSON, &p.Condition); err != nil {
		return Policy{}, fmt.Errorf("policy: scan policy: %w", err)
	}
	p.Tags = splitTokens(tags)
	p.AllowedUsers = splitTokens(au)
	p.DeniedUsers = splitTokens(du)
	p.AllowedGroups = splitTokens(ag)
	p.DeniedGroups = splitTokens(dg)
	p.AllowedRoles = splitTokens(ar)
	p.DeniedRoles = splitTokens(dr)
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &p.Permissions); err != nil {
			return Policy{}, fmt.Errorf("policy: decode permissions of policy %d: %w", p.ID, err)
		}
	} else {
		p.Permissions = map[contracts.RequestType]Permission{}
	}
	return p, nil
}

// splitTokens splits a comma-joined column into exact trimmed tokens.
// "admin, sales" yields {"admin", "sales"}; membership checks compare
// whole tokens only.
func splitTokens(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
