package concept

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/metadata-mapping/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the Postgres-backed concept repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const conceptColumns = `id, uuid, name, date_created,
	retired, COALESCE(retired_by,''), date_retired, COALESCE(retire_reason,'')`

func scanConcept(row pgx.Row) (*Concept, error) {
	var c Concept
	err := row.Scan(&c.ID, &c.UUID, &c.Name, &c.DateCreated,
		&c.Retired, &c.RetiredBy, &c.DateRetired, &c.RetireReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan concept: %w", err)
	}
	return &c, nil
}

func (r *repoPG) SaveConcept(ctx context.Context, c *Concept) error {
	if c.ID == 0 {
		err := r.conn(ctx).QueryRow(ctx,
			`INSERT INTO concept (uuid, name, date_created, retired, retired_by, date_retired, retire_reason)
			 VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, NULLIF($7,''))
			 RETURNING id`,
			c.UUID, c.Name, c.DateCreated,
			c.Retired, c.RetiredBy, c.DateRetired, c.RetireReason).
			Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("insert concept: %w", err)
		}
		return nil
	}

	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE concept
		 SET name = $2, retired = $3, retired_by = NULLIF($4,''),
		     date_retired = $5, retire_reason = NULLIF($6,'')
		 WHERE id = $1`,
		c.ID, c.Name, c.Retired, c.RetiredBy, c.DateRetired, c.RetireReason)
	if err != nil {
		return fmt.Errorf("update concept: %w", err)
	}
	return nil
}

func (r *repoPG) GetConcept(ctx context.Context, id int64) (*Concept, error) {
	return scanConcept(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conceptColumns+` FROM concept WHERE id = $1`, id))
}

func (r *repoPG) GetConceptByUUID(ctx context.Context, uuid string) (*Concept, error) {
	return scanConcept(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conceptColumns+` FROM concept WHERE uuid = $1`, uuid))
}

func (r *repoPG) DeleteConcept(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM concept WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete concept: %w", err)
	}
	return nil
}

func (r *repoPG) ListConcepts(ctx context.Context, first, max int) ([]*Concept, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+conceptColumns+` FROM concept ORDER BY id LIMIT $1 OFFSET $2`, max, first)
	if err != nil {
		return nil, fmt.Errorf("list concepts: %w", err)
	}
	defer rows.Close()
	return collectConcepts(rows)
}

func (r *repoPG) ListConceptsByMapping(ctx context.Context, sourceName, code string) ([]*Concept, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT c.id, c.uuid, c.name, c.date_created,
		        c.retired, COALESCE(c.retired_by,''), c.date_retired, COALESCE(c.retire_reason,'')
		 FROM concept c
		 JOIN concept_reference_map m ON m.concept_id = c.id
		 JOIN concept_reference_term t ON t.id = m.concept_reference_term_id
		 JOIN concept_source s ON s.id = t.concept_source_id
		 WHERE s.name = $1 AND t.code = $2
		 ORDER BY c.id`, sourceName, code)
	if err != nil {
		return nil, fmt.Errorf("list concepts by mapping: %w", err)
	}
	defer rows.Close()
	return collectConcepts(rows)
}

func collectConcepts(rows pgx.Rows) ([]*Concept, error) {
	var results []*Concept
	for rows.Next() {
		var c Concept
		if err := rows.Scan(&c.ID, &c.UUID, &c.Name, &c.DateCreated,
			&c.Retired, &c.RetiredBy, &c.DateRetired, &c.RetireReason); err != nil {
			return nil, err
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

const sourceColumns = `id, uuid, name, COALESCE(description,''), date_created,
	retired, COALESCE(retired_by,''), date_retired, COALESCE(retire_reason,'')`

func scanSource(row pgx.Row) (*Source, error) {
	var s Source
	err := row.Scan(&s.ID, &s.UUID, &s.Name, &s.Description, &s.DateCreated,
		&s.Retired, &s.RetiredBy, &s.DateRetired, &s.RetireReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan concept source: %w", err)
	}
	return &s, nil
}

func (r *repoPG) SaveSource(ctx context.Context, s *Source) error {
	if s.ID == 0 {
		err := r.conn(ctx).QueryRow(ctx,
			`INSERT INTO concept_source (uuid, name, description, date_created,
			        retired, retired_by, date_retired, retire_reason)
			 VALUES ($1, $2, NULLIF($3,''), $4, $5, NULLIF($6,''), $7, NULLIF($8,''))
			 RETURNING id`,
			s.UUID, s.Name, s.Description, s.DateCreated,
			s.Retired, s.RetiredBy, s.DateRetired, s.RetireReason).
			Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("insert concept source: %w", err)
		}
		return nil
	}

	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE concept_source
		 SET name = $2, description = NULLIF($3,''), retired = $4,
		     retired_by = NULLIF($5,''), date_retired = $6, retire_reason = NULLIF($7,'')
		 WHERE id = $1`,
		s.ID, s.Name, s.Description,
		s.Retired, s.RetiredBy, s.DateRetired, s.RetireReason)
	if err != nil {
		return fmt.Errorf("update concept source: %w", err)
	}
	return nil
}

func (r *repoPG) GetSourceByUUID(ctx context.Context, uuid string) (*Source, error) {
	return scanSource(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM concept_source WHERE uuid = $1`, uuid))
}

func (r *repoPG) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	return scanSource(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM concept_source WHERE name = $1 AND NOT retired
		 ORDER BY id LIMIT 1`, name))
}

func (r *repoPG) SaveReferenceTerm(ctx context.Context, t *ReferenceTerm) error {
	if t.ID == 0 {
		err := r.conn(ctx).QueryRow(ctx,
			`INSERT INTO concept_reference_term (uuid, concept_source_id, code, date_created,
			        retired, retired_by, date_retired, retire_reason)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, NULLIF($8,''))
			 RETURNING id`,
			t.UUID, t.SourceID, t.Code, t.DateCreated,
			t.Retired, t.RetiredBy, t.DateRetired, t.RetireReason).
			Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("insert reference term: %w", err)
		}
		return nil
	}

	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE concept_reference_term
		 SET code = $2, retired = $3, retired_by = NULLIF($4,''),
		     date_retired = $5, retire_reason = NULLIF($6,'')
		 WHERE id = $1`,
		t.ID, t.Code, t.Retired, t.RetiredBy, t.DateRetired, t.RetireReason)
	if err != nil {
		return fmt.Errorf("update reference term: %w", err)
	}
	return nil
}

func (r *repoPG) GetReferenceTerm(ctx context.Context, sourceID int64, code string) (*ReferenceTerm, error) {
	var t ReferenceTerm
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, uuid, concept_source_id, code, date_created,
		        retired, COALESCE(retired_by,''), date_retired, COALESCE(retire_reason,'')
		 FROM concept_reference_term
		 WHERE concept_source_id = $1 AND code = $2
		 ORDER BY id LIMIT 1`, sourceID, code).
		Scan(&t.ID, &t.UUID, &t.SourceID, &t.Code, &t.DateCreated,
			&t.Retired, &t.RetiredBy, &t.DateRetired, &t.RetireReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan reference term: %w", err)
	}
	return &t, nil
}

func (r *repoPG) DeleteReferenceTerm(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM concept_reference_term WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reference term: %w", err)
	}
	return nil
}

func (r *repoPG) SaveMap(ctx context.Context, m *Map) error {
	if m.ID == 0 {
		err := r.conn(ctx).QueryRow(ctx,
			`INSERT INTO concept_reference_map (uuid, concept_id, concept_reference_term_id)
			 VALUES ($1, $2, $3)
			 RETURNING id`,
			m.UUID, m.ConceptID, m.ReferenceTermID).
			Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("insert concept map: %w", err)
		}
	}
	return nil
}

func (r *repoPG) HasMappingToSource(ctx context.Context, conceptID, sourceID int64) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM concept_reference_map m
		    JOIN concept_reference_term t ON t.id = m.concept_reference_term_id
		    WHERE m.concept_id = $1 AND t.concept_source_id = $2)`,
		conceptID, sourceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check concept mapping: %w", err)
	}
	return exists, nil
}

func (r *repoPG) DeleteMapsForTerm(ctx context.Context, termID int64) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM concept_reference_map WHERE concept_reference_term_id = $1`, termID)
	if err != nil {
		return fmt.Errorf("delete concept maps: %w", err)
	}
	return nil
}
