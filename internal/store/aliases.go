package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/newsledger/internal/model"
)

// SetAlias stores or replaces a curated alias
func (s *Store) SetAlias(ctx context.Context, alias, canonical string) error {
	alias = strings.ToLower(strings.TrimSpace(alias))
	canonical = strings.ToLower(strings.TrimSpace(canonical))
	if alias == "" || canonical == "" {
		return fmt.Errorf("set alias: alias and canonical are required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outlet_aliases (alias, canonical, created_at) VALUES (?, ?, ?)
		ON CONFLICT (alias) DO UPDATE SET canonical = excluded.canonical`,
		alias, canonical, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("set alias %s: %w", alias, err)
	}
	return nil
}

// DeleteAlias removes a curated alias
func (s *Store) DeleteAlias(ctx context.Context, alias string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outlet_aliases WHERE alias = ?`, strings.ToLower(strings.TrimSpace(alias)))
	if err != nil {
		return fmt.Errorf("delete alias %s: %w", alias, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAliases returns all curated aliases ordered by alias
func (s *Store) ListAliases(ctx context.Context) ([]model.OutletAlias, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alias, canonical FROM outlet_aliases ORDER BY alias`)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	out := make([]model.OutletAlias, 0)
	for rows.Next() {
		var a model.OutletAlias
		if err := rows.Scan(&a.Alias, &a.Canonical); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Aliases returns the stored alias table as a map
func (s *Store) Aliases(ctx context.Context) (map[string]string, error) {
	list, err := s.ListAliases(ctx)
	if err != nil {
		return nil, err
	}
	table := make(map[string]string, len(list))
	for _, a := range list {
		table[a.Alias] = a.Canonical
	}
	return table, nil
}
