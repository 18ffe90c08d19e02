package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/energy-billing/generic"
	"github.com/warp/energy-billing/indexation"
)

// =============================================================================
// INDEX STORE
// =============================================================================

// SaveIndex inserts or updates an index definition. Codes are unique.
func (s *Store) SaveIndex(ctx context.Context, idx indexation.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var decimals sql.NullInt64
	if idx.Decimals != nil {
		decimals = sql.NullInt64{Int64: int64(*idx.Decimals), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indices (id, code, label, unit, type, formula, decimals)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			label = excluded.label,
			unit = excluded.unit,
			type = excluded.type,
			formula = excluded.formula,
			decimals = excluded.decimals
	`, idx.ID, idx.Code, idx.Label, idx.Unit, idx.Type, idx.Formula, decimals)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: index code %q already used", generic.ErrInvalidDefinition, idx.Code)
	}
	return err
}

// GetIndex retrieves an index by ID.
func (s *Store) GetIndex(ctx context.Context, id generic.IndexID) (*indexation.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, code, label, unit, type, formula, decimals FROM indices WHERE id = ?", id)
	idx, err := scanIndex(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("index", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

// ListIndices returns the index catalogue ordered by code.
func (s *Store) ListIndices(ctx context.Context) ([]indexation.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, code, label, unit, type, formula, decimals FROM indices ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indices []indexation.Index
	for rows.Next() {
		idx, err := scanIndex(rows)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	return indices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIndex(row rowScanner) (indexation.Index, error) {
	var idx indexation.Index
	var typ string
	var decimals sql.NullInt64
	if err := row.Scan(&idx.ID, &idx.Code, &idx.Label, &idx.Unit, &typ, &idx.Formula, &decimals); err != nil {
		return idx, err
	}
	idx.Type = indexation.IndexType(typ)
	if decimals.Valid {
		d := int(decimals.Int64)
		idx.Decimals = &d
	}
	return idx, nil
}

// SaveIndexValue stores a monthly value, replacing any previous value for
// the same (index, period).
func (s *Store) SaveIndexValue(ctx context.Context, v indexation.IndexValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = indexation.ValueID(v.IndexID, v.Period)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_values (id, index_id, period, value, source, comment)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(index_id, period) DO UPDATE SET
			value = excluded.value,
			source = excluded.source,
			comment = excluded.comment
	`, v.ID, v.IndexID, v.Period, v.Value, v.Source, v.Comment)
	return err
}

// ListIndexValues returns every stored value ordered by period then index.
func (s *Store) ListIndexValues(ctx context.Context) ([]indexation.IndexValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryIndexValues(ctx, "")
}

// ListIndexValuesByIndex returns one index's stored values ordered by period.
func (s *Store) ListIndexValuesByIndex(ctx context.Context, id generic.IndexID) ([]indexation.IndexValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryIndexValues(ctx, "WHERE index_id = ?", id)
}

func (s *Store) queryIndexValues(ctx context.Context, where string, args ...any) ([]indexation.IndexValue, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, index_id, period, value, source, comment FROM index_values "+where+" ORDER BY period, index_id",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []indexation.IndexValue
	for rows.Next() {
		var v indexation.IndexValue
		if err := rows.Scan(&v.ID, &v.IndexID, &v.Period, &v.Value, &v.Source, &v.Comment); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
