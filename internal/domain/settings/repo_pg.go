package settings

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

func (r *repoPG) Get(ctx context.Context, property string) (*GlobalProperty, error) {
	var gp GlobalProperty
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT property, property_value, COALESCE(description,'')
		 FROM global_property WHERE property = $1`, property).
		Scan(&gp.Property, &gp.Value, &gp.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("global property get: %w", err)
	}
	return &gp, nil
}

func (r *repoPG) Set(ctx context.Context, gp *GlobalProperty) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO global_property (property, property_value, description)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (property) DO UPDATE
		 SET property_value = EXCLUDED.property_value,
		     description = CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description
		                        ELSE global_property.description END`,
		gp.Property, gp.Value, gp.Description)
	if err != nil {
		return fmt.Errorf("global property set: %w", err)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, property string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM global_property WHERE property = $1`, property)
	if err != nil {
		return fmt.Errorf("global property delete: %w", err)
	}
	return nil
}
