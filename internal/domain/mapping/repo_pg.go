package mapping

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

// NewRepoPG creates the Postgres-backed mapping repository.
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

// =========== Sources ===========

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
		return nil, fmt.Errorf("scan source: %w", err)
	}
	return &s, nil
}

func (r *repoPG) SaveSource(ctx context.Context, source *Source) error {
	if source.ID == 0 {
		err := r.conn(ctx).QueryRow(ctx,
			`INSERT INTO metadata_source (uuid, name, description, date_created,
			        retired, retired_by, date_retired, retire_reason)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, NULLIF($8,''))
			 RETURNING id`,
			source.UUID, source.Name, source.Description, source.DateCreated,
			source.Retired, source.RetiredBy, source.DateRetired, source.RetireReason).
			Scan(&source.ID)
		if err != nil {
			return fmt.Errorf("insert source: %w", err)
		}
		return nil
	}

	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE metadata_source
		 SET name = $2, description = $3, retired = $4, retired_by = NULLIF($5,''),
		     date_retired = $6, retire_reason = NULLIF($7,'')
		 WHERE id = $1`,
		source.ID, source.Name, source.Description,
		source.Retired, source.RetiredBy, source.DateRetired, source.RetireReason)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return nil
}

func (r *repoPG) GetSource(ctx context.Context, id int64) (*Source, error) {
	return scanSource(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM metadata_source WHERE id = $1`, id))
}

func (r *repoPG) GetSourceByUUID(ctx context.Context, uuid string) (*Source, error) {
	return scanSource(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM metadata_source WHERE uuid = $1`, uuid))
}

func (r *repoPG) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	return scanSource(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM metadata_source WHERE name = $1 AND NOT retired
		 ORDER BY id LIMIT 1`, name))
}

func (r *repoPG) SearchSources(ctx context.Context, criteria SourceCriteria) ([]*Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM metadata_source WHERE 1=1`
	var args []interface{}

	if !criteria.IncludeAll {
		query += ` AND NOT retired`
	}
	if criteria.Name != "" {
		args = append(args, criteria.Name)
		query += fmt.Sprintf(` AND name = $%d`, len(args))
	}
	query += ` ORDER BY name, id`
	query, args = appendPaging(query, args, criteria.FirstResult, criteria.MaxResults)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search sources: %w", err)
	}
	defer rows.Close()

	var results []*Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.UUID, &s.Name, &s.Description, &s.DateCreated,
			&s.Retired, &s.RetiredBy, &s.DateRetired, &s.RetireReason); err != nil {
			return nil, err
		}
		results = append(results, &s)
	}
	return results, rows.Err()
}

// =========== Term Mappings ===========

const termMappingColumns = `t.id, t.uuid, t.metadata_source_id, s.uuid, s.name,
	t.code, COALESCE(t.name,''), COALESCE(t.description,''),
	COALESCE(t.metadata_class,''), COALESCE(t.metadata_uuid,''), t.date_created,
	t.retired, COALESCE(t.retired_by,''), t.date_retired, COALESCE(t.retire_reason,'')`

const termMappingFrom = ` FROM metadata_term_mapping t
	JOIN metadata_source s ON s.id = t.metadata_source_id`

func scanTermMapping(row pgx.Row) (*TermMapping, error) {
	var t TermMapping
	err := row.Scan(&t.ID, &t.UUID, &t.SourceID, &t.SourceUUID, &t.SourceName,
		&t.Code, &t.Name, &t.Description,
		&t.Reference.Class, &t.Reference.UUID, &t.DateCreated,
		&t.Retired, &t.RetiredBy, &t.DateRetired, &t.RetireReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan term mapping: %w", err)
	}
	return &t, nil
}

func (r *repoPG) SaveTermMapping(ctx context.Context, tm *TermMapping) error {
	if tm.ID == 0 {
		err := r.conn(ctx).QueryRow(ctx,
			`INSERT INTO metadata_term_mapping (uuid, metadata_source_id, code, name,
			        description, metadata_class, metadata_uuid, date_created,
			        retired, retired_by, date_retired, retire_reason)
			 VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), NULLIF($7,''),
			        $8, $9, NULLIF($10,''), $11, NULLIF($12,''))
			 RETURNING id`,
			tm.UUID, tm.SourceID, tm.Code, tm.Name, tm.Description,
			tm.Reference.Class, tm.Reference.UUID, tm.DateCreated,
			tm.Retired, tm.RetiredBy, tm.DateRetired, tm.RetireReason).
			Scan(&tm.ID)
		if err != nil {
			return fmt.Errorf("insert term mapping: %w", err)
		}
		return nil
	}

	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE metadata_term_mapping
		 SET metadata_source_id = $2, code = $3, name = NULLIF($4,''),
		     description = NULLIF($5,''), metadata_class = NULLIF($6,''),
		     metadata_uuid = NULLIF($7,''), retired = $8, retired_by = NULLIF($9,''),
		     date_retired = $10, retire_reason = NULLIF($11,'')
		 WHERE id = $1`,
		tm.ID, tm.SourceID, tm.Code, tm.Name, tm.Description,
		tm.Reference.Class, tm.Reference.UUID,
		tm.Retired, tm.RetiredBy, tm.DateRetired, tm.RetireReason)
	if err != nil {
		return fmt.Errorf("update term mapping: %w", err)
	}
	return nil
}

func (r *repoPG) GetTermMapping(ctx context.Context, id int64) (*TermMapping, error) {
	return scanTermMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+termMappingColumns+termMappingFrom+` WHERE t.id = $1`, id))
}

func (r *repoPG) GetTermMappingByUUID(ctx context.Context, uuid string) (*TermMapping, error) {
	return scanTermMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+termMappingColumns+termMappingFrom+` WHERE t.uuid = $1`, uuid))
}

func (r *repoPG) GetActiveTermMapping(ctx context.Context, sourceName, code string) (*TermMapping, error) {
	return scanTermMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+termMappingColumns+termMappingFrom+`
		 WHERE s.name = $1 AND t.code = $2 AND NOT t.retired
		 ORDER BY t.id LIMIT 1`, sourceName, code))
}

func (r *repoPG) GetTermMappingByCode(ctx context.Context, sourceName, code string) (*TermMapping, error) {
	return scanTermMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+termMappingColumns+termMappingFrom+`
		 WHERE s.name = $1 AND t.code = $2`, sourceName, code))
}

func (r *repoPG) SearchTermMappings(ctx context.Context, criteria TermMappingCriteria) ([]*TermMapping, error) {
	query := `SELECT ` + termMappingColumns + termMappingFrom + ` WHERE 1=1`
	var args []interface{}

	if !criteria.IncludeAll {
		query += ` AND NOT t.retired`
	}
	if criteria.SourceUUID != "" {
		args = append(args, criteria.SourceUUID)
		query += fmt.Sprintf(` AND s.uuid = $%d`, len(args))
	}
	if criteria.SourceName != "" {
		args = append(args, criteria.SourceName)
		query += fmt.Sprintf(` AND s.name = $%d`, len(args))
	}
	if criteria.Code != "" {
		args = append(args, criteria.Code)
		query += fmt.Sprintf(` AND t.code = $%d`, len(args))
	}
	if criteria.Name != "" {
		args = append(args, criteria.Name)
		query += fmt.Sprintf(` AND t.name = $%d`, len(args))
	}
	if criteria.Referent != nil {
		args = append(args, criteria.Referent.Class)
		query += fmt.Sprintf(` AND t.metadata_class = $%d`, len(args))
		args = append(args, criteria.Referent.UUID)
		query += fmt.Sprintf(` AND t.metadata_uuid = $%d`, len(args))
	}
	// Stable order for paged iteration: new rows sort after existing ones.
	query += ` ORDER BY t.metadata_source_id, t.id`
	query, args = appendPaging(query, args, criteria.FirstResult, criteria.MaxResults)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search term mappings: %w", err)
	}
	defer rows.Close()

	var results []*TermMapping
	for rows.Next() {
		var t TermMapping
		if err := rows.Scan(&t.ID, &t.UUID, &t.SourceID, &t.SourceUUID, &t.SourceName,
			&t.Code, &t.Name, &t.Description,
			&t.Reference.Class, &t.Reference.UUID, &t.DateCreated,
			&t.Retired, &t.RetiredBy, &t.DateRetired, &t.RetireReason); err != nil {
			return nil, err
		}
		results = append(results, &t)
	}
	return results, rows.Err()
}

// =========== Sets ===========

const setColumns = `id, uuid, COALESCE(name,''), COALESCE(description,''), date_created,
	retired, COALESCE(retired_by,''), date_retired, COALESCE(retire_reason,'')`

func scanSet(row pgx.Row) (*Set, error) {
	var s Set
	err := row.Scan(&s.ID, &s.UUID, &s.Name, &s.Description, &s.DateCreated,
		&s.Retired, &s.RetiredBy, &s.DateRetired, &s.RetireReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan set: %w", err)
	}
	return &s, nil
}

func (r *repoPG) SaveSet(ctx context.Context, set *Set) error {
	if set.ID == 0 {
		err := r.conn(ctx).QueryRow(ctx,
			`INSERT INTO metadata_set (uuid, name, description, date_created,
			        retired, retired_by, date_retired, retire_reason)
			 VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, $5, NULLIF($6,''), $7, NULLIF($8,''))
			 RETURNING id`,
			set.UUID, set.Name, set.Description, set.DateCreated,
			set.Retired, set.RetiredBy, set.DateRetired, set.RetireReason).
			Scan(&set.ID)
		if err != nil {
			return fmt.Errorf("insert set: %w", err)
		}
		return nil
	}

	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE metadata_set
		 SET name = NULLIF($2,''), description = NULLIF($3,''), retired = $4,
		     retired_by = NULLIF($5,''), date_retired = $6, retire_reason = NULLIF($7,'')
		 WHERE id = $1`,
		set.ID, set.Name, set.Description,
		set.Retired, set.RetiredBy, set.DateRetired, set.RetireReason)
	if err != nil {
		return fmt.Errorf("update set: %w", err)
	}
	return nil
}

func (r *repoPG) GetSet(ctx context.Context, id int64) (*Set, error) {
	return scanSet(r.conn(ctx).QueryRow(ctx,
		`SELECT `+setColumns+` FROM metadata_set WHERE id = $1`, id))
}

func (r *repoPG) GetSetByUUID(ctx context.Context, uuid string) (*Set, error) {
	return scanSet(r.conn(ctx).QueryRow(ctx,
		`SELECT `+setColumns+` FROM metadata_set WHERE uuid = $1`, uuid))
}

func (r *repoPG) SearchSets(ctx context.Context, criteria SetCriteria) ([]*Set, error) {
	query := `SELECT ` + setColumns + ` FROM metadata_set WHERE 1=1`
	var args []interface{}

	if !criteria.IncludeAll {
		query += ` AND NOT retired`
	}
	query += ` ORDER BY id`
	query, args = appendPaging(query, args, criteria.FirstResult, criteria.MaxResults)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search sets: %w", err)
	}
	defer rows.Close()

	var results []*Set
	for rows.Next() {
		var s Set
		if err := rows.Scan(&s.ID, &s.UUID, &s.Name, &s.Description, &s.DateCreated,
			&s.Retired, &s.RetiredBy, &s.DateRetired, &s.RetireReason); err != nil {
			return nil, err
		}
		results = append(results, &s)
	}
	return results, rows.Err()
}

// =========== Set Members ===========

const memberColumns = `id, uuid, metadata_set_id, COALESCE(metadata_class,''),
	COALESCE(metadata_uuid,''), sort_weight, date_created,
	retired, COALESCE(retired_by,''), date_retired, COALESCE(retire_reason,'')`

func (r *repoPG) SaveSetMember(ctx context.Context, member *SetMember) error {
	if member.ID == 0 {
		err := r.conn(ctx).QueryRow(ctx,
			`INSERT INTO metadata_set_member (uuid, metadata_set_id, metadata_class,
			        metadata_uuid, sort_weight, date_created,
			        retired, retired_by, date_retired, retire_reason)
			 VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, $6, $7, NULLIF($8,''), $9, NULLIF($10,''))
			 RETURNING id`,
			member.UUID, member.SetID, member.Reference.Class, member.Reference.UUID,
			member.SortWeight, member.DateCreated,
			member.Retired, member.RetiredBy, member.DateRetired, member.RetireReason).
			Scan(&member.ID)
		if err != nil {
			return fmt.Errorf("insert set member: %w", err)
		}
		return nil
	}

	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE metadata_set_member
		 SET metadata_class = NULLIF($2,''), metadata_uuid = NULLIF($3,''), sort_weight = $4,
		     retired = $5, retired_by = NULLIF($6,''), date_retired = $7, retire_reason = NULLIF($8,'')
		 WHERE id = $1`,
		member.ID, member.Reference.Class, member.Reference.UUID, member.SortWeight,
		member.Retired, member.RetiredBy, member.DateRetired, member.RetireReason)
	if err != nil {
		return fmt.Errorf("update set member: %w", err)
	}
	return nil
}

func (r *repoPG) GetSetMemberByUUID(ctx context.Context, uuid string) (*SetMember, error) {
	var m SetMember
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+memberColumns+` FROM metadata_set_member WHERE uuid = $1`, uuid).
		Scan(&m.ID, &m.UUID, &m.SetID, &m.Reference.Class, &m.Reference.UUID,
			&m.SortWeight, &m.DateCreated,
			&m.Retired, &m.RetiredBy, &m.DateRetired, &m.RetireReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan set member: %w", err)
	}
	return &m, nil
}

func (r *repoPG) ListSetMembers(ctx context.Context, setID int64, mode RetiredMode, first, max int) ([]*SetMember, error) {
	query := `SELECT ` + memberColumns + ` FROM metadata_set_member WHERE metadata_set_id = $1`
	args := []interface{}{setID}

	if mode != IncludeRetired {
		query += ` AND NOT retired`
	}
	query += ` ORDER BY sort_weight DESC NULLS LAST, id`
	query, args = appendPaging(query, args, first, max)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list set members: %w", err)
	}
	defer rows.Close()

	var results []*SetMember
	for rows.Next() {
		var m SetMember
		if err := rows.Scan(&m.ID, &m.UUID, &m.SetID, &m.Reference.Class, &m.Reference.UUID,
			&m.SortWeight, &m.DateCreated,
			&m.Retired, &m.RetiredBy, &m.DateRetired, &m.RetireReason); err != nil {
			return nil, err
		}
		results = append(results, &m)
	}
	return results, rows.Err()
}

func appendPaging(query string, args []interface{}, first, max int) (string, []interface{}) {
	if max > 0 {
		args = append(args, max)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if first > 0 {
		args = append(args, first)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return query, args
}
