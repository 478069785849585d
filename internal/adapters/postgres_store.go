package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"compliance-gate/internal/ports"
	"compliance-gate/internal/types"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS compliance_items (
	repo_key TEXT NOT NULL,
	path TEXT NOT NULL,
	name TEXT NOT NULL,
	folder BOOLEAN NOT NULL DEFAULT FALSE,
	last_modified TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (repo_key, path)
)`,
	`CREATE TABLE IF NOT EXISTS compliance_properties (
	repo_key TEXT NOT NULL,
	path TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (repo_key, path, key)
)`,
	`CREATE INDEX IF NOT EXISTS compliance_properties_lookup ON compliance_properties (repo_key, key, value)`,
}

// PostgresPropertyStore persists items and properties in two tables.
type PostgresPropertyStore struct {
	Pool *pgxpool.Pool
}

var _ ports.PropertyStore = (*PostgresPropertyStore)(nil)
var _ ports.ItemIndexPort = (*PostgresPropertyStore)(nil)

func NewPostgresPropertyStore(ctx context.Context, dsn string) (*PostgresPropertyStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("postgres dsn is empty")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("connect postgres").
			WithCause(err)
	}
	store := &PostgresPropertyStore{Pool: pool}
	if err := store.ensureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresPropertyStore) Close() {
	if s == nil || s.Pool == nil {
		return
	}
	s.Pool.Close()
}

func (s *PostgresPropertyStore) ensureSchema(ctx context.Context) error {
	for _, statement := range postgresSchema {
		if _, err := s.Pool.Exec(ctx, statement); err != nil {
			return postgresError("apply schema", err)
		}
	}
	return nil
}

func (s *PostgresPropertyStore) GetProperty(ctx context.Context, ref types.ArtifactRef, key string) (string, bool, error) {
	var value string
	err := s.Pool.QueryRow(ctx,
		`SELECT value FROM compliance_properties WHERE repo_key = $1 AND path = $2 AND key = $3`,
		ref.RepoKey, ref.Path, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, postgresError("get property", err)
	}
	return value, true, nil
}

func (s *PostgresPropertyStore) SetProperty(ctx context.Context, ref types.ArtifactRef, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("property key is empty")
	}
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO compliance_items (repo_key, path, name, folder) VALUES ($1, $2, $3, $4)
ON CONFLICT (repo_key, path) DO NOTHING`,
			ref.RepoKey, ref.Path, ref.Name(), ref.IsRepoRoot(),
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO compliance_properties (repo_key, path, key, value, updated_at) VALUES ($1, $2, $3, $4, now())
ON CONFLICT (repo_key, path, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			ref.RepoKey, ref.Path, key, value,
		)
		return err
	})
	if err != nil {
		return postgresError("set property", err)
	}
	return nil
}

func (s *PostgresPropertyStore) DeleteProperty(ctx context.Context, ref types.ArtifactRef, key string) error {
	if _, err := s.Pool.Exec(ctx,
		`DELETE FROM compliance_properties WHERE repo_key = $1 AND path = $2 AND key = $3`,
		ref.RepoKey, ref.Path, key,
	); err != nil {
		return postgresError("delete property", err)
	}
	return nil
}

func (s *PostgresPropertyStore) FindByPropertyValues(ctx context.Context, repoKey string, values map[string]string) ([]types.ArtifactRef, error) {
	query, args := propertySearchQuery(repoKey, values)
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, postgresError("find by property values", err)
	}
	defer rows.Close()
	var refs []types.ArtifactRef
	for rows.Next() {
		var itemPath string
		if err := rows.Scan(&itemPath); err != nil {
			return nil, postgresError("scan item", err)
		}
		refs = append(refs, types.ArtifactRef{RepoKey: repoKey, Path: itemPath})
	}
	if err := rows.Err(); err != nil {
		return nil, postgresError("find by property values", err)
	}
	return refs, nil
}

// propertySearchQuery builds one EXISTS clause per wanted property, in key
// order so the statement text is stable.
func propertySearchQuery(repoKey string, values map[string]string) (string, []any) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := []any{repoKey}
	var builder strings.Builder
	builder.WriteString(`SELECT i.path FROM compliance_items i WHERE i.repo_key = $1`)
	for _, key := range keys {
		args = append(args, key)
		clause := fmt.Sprintf(` AND EXISTS (SELECT 1 FROM compliance_properties p WHERE p.repo_key = i.repo_key AND p.path = i.path AND p.key = $%d`, len(args))
		builder.WriteString(clause)
		if value := values[key]; value != ports.AnyValue {
			args = append(args, value)
			builder.WriteString(fmt.Sprintf(` AND p.value = $%d`, len(args)))
		}
		builder.WriteString(`)`)
	}
	builder.WriteString(` ORDER BY i.path`)
	return builder.String(), args
}

func (s *PostgresPropertyStore) FindByNamePattern(ctx context.Context, repoKey string, pattern string) ([]types.ArtifactRef, error) {
	compiled, err := compileNamePattern(pattern)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT path, name FROM compliance_items WHERE repo_key = $1 AND NOT folder AND path <> '' ORDER BY path`,
		repoKey,
	)
	if err != nil {
		return nil, postgresError("find by name pattern", err)
	}
	defer rows.Close()
	var refs []types.ArtifactRef
	for rows.Next() {
		var itemPath, name string
		if err := rows.Scan(&itemPath, &name); err != nil {
			return nil, postgresError("scan item", err)
		}
		if compiled.Match(name) {
			refs = append(refs, types.ArtifactRef{RepoKey: repoKey, Path: itemPath})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, postgresError("find by name pattern", err)
	}
	return refs, nil
}

func (s *PostgresPropertyStore) LastModified(ctx context.Context, ref types.ArtifactRef) (time.Time, error) {
	var modified time.Time
	err := s.Pool.QueryRow(ctx,
		`SELECT last_modified FROM compliance_items WHERE repo_key = $1 AND path = $2`,
		ref.RepoKey, ref.Path,
	).Scan(&modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, itemNotFound(ref)
	}
	if err != nil {
		return time.Time{}, postgresError("last modified", err)
	}
	return modified.UTC(), nil
}

func (s *PostgresPropertyStore) IsFolder(ctx context.Context, ref types.ArtifactRef) (bool, error) {
	var folder bool
	err := s.Pool.QueryRow(ctx,
		`SELECT folder FROM compliance_items WHERE repo_key = $1 AND path = $2`,
		ref.RepoKey, ref.Path,
	).Scan(&folder)
	if errors.Is(err, pgx.ErrNoRows) {
		return ref.IsRepoRoot(), nil
	}
	if err != nil {
		return false, postgresError("is folder", err)
	}
	return folder, nil
}

func (s *PostgresPropertyStore) PutItem(ctx context.Context, item types.ItemInfo) error {
	modified := item.LastModified
	if modified.IsZero() {
		modified = time.Now()
	}
	if _, err := s.Pool.Exec(ctx,
		`INSERT INTO compliance_items (repo_key, path, name, folder, last_modified) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (repo_key, path) DO UPDATE SET folder = EXCLUDED.folder, last_modified = EXCLUDED.last_modified`,
		item.Ref.RepoKey, item.Ref.Path, item.Ref.Name(), item.Folder, modified.UTC(),
	); err != nil {
		return postgresError("put item", err)
	}
	return nil
}

func (s *PostgresPropertyStore) CopyItem(ctx context.Context, from types.ArtifactRef, to types.ArtifactRef) error {
	return s.transfer(ctx, from, to, false)
}

func (s *PostgresPropertyStore) MoveItem(ctx context.Context, from types.ArtifactRef, to types.ArtifactRef) error {
	return s.transfer(ctx, from, to, true)
}

func (s *PostgresPropertyStore) transfer(ctx context.Context, from types.ArtifactRef, to types.ArtifactRef, move bool) error {
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO compliance_items (repo_key, path, name, folder, last_modified)
SELECT $3, $4, $5, folder, now() FROM compliance_items WHERE repo_key = $1 AND path = $2
ON CONFLICT (repo_key, path) DO UPDATE SET folder = EXCLUDED.folder, last_modified = EXCLUDED.last_modified`,
			from.RepoKey, from.Path, to.RepoKey, to.Path, to.Name(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return itemNotFound(from)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM compliance_properties WHERE repo_key = $1 AND path = $2`,
			to.RepoKey, to.Path,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO compliance_properties (repo_key, path, key, value, updated_at)
SELECT $3, $4, key, value, now() FROM compliance_properties WHERE repo_key = $1 AND path = $2`,
			from.RepoKey, from.Path, to.RepoKey, to.Path,
		); err != nil {
			return err
		}
		if !move {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM compliance_properties WHERE repo_key = $1 AND path = $2`, from.RepoKey, from.Path); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM compliance_items WHERE repo_key = $1 AND path = $2`, from.RepoKey, from.Path)
		return err
	})
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			return err
		}
		return postgresError("transfer item", err)
	}
	return nil
}

func postgresError(action string, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("postgres " + action + " failed").
		WithCause(err)
}
