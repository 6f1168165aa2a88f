// Package schema introspects a PostgreSQL database into the table/column
// universe the query pipeline validates against. It is a boundary
// convenience: the pipeline itself only ever sees a Schema value.
package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/inkstone-ai/inkstone/pkg/models"
)

// Loader reads table, column, and row-estimate information from Postgres.
type Loader struct {
	pool *pgxpool.Pool
}

// NewLoader connects a pool to the given database URL.
func NewLoader(ctx context.Context, databaseURL string) (*Loader, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect schema database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping schema database: %w", err)
	}
	return &Loader{pool: pool}, nil
}

// Close releases the connection pool.
func (l *Loader) Close() {
	l.pool.Close()
}

// Load introspects the public schema. Row counts come from the planner's
// estimates in pg_class, not a COUNT(*), so Load is cheap on large tables.
func (l *Loader) Load(ctx context.Context) (*models.Schema, error) {
	const columnsQuery = `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`

	rows, err := l.pool.Query(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	byTable := make(map[string][]string)
	var order []string
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		if _, seen := byTable[table]; !seen {
			order = append(order, table)
		}
		byTable[table] = append(byTable[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	estimates, err := l.rowEstimates(ctx)
	if err != nil {
		// Estimates only feed the full-scan warning; missing them is not
		// worth failing the whole load.
		log.Warn().Err(err).Msg("Row estimates unavailable")
		estimates = map[string]int64{}
	}

	schema := &models.Schema{Tables: make([]models.SchemaTable, 0, len(order))}
	for _, table := range order {
		schema.Tables = append(schema.Tables, models.SchemaTable{
			Name:        table,
			Columns:     byTable[table],
			RowEstimate: estimates[table],
		})
	}
	return schema, nil
}

// rowEstimates reads planner row estimates for public tables.
func (l *Loader) rowEstimates(ctx context.Context) (map[string]int64, error) {
	const estimateQuery = `
		SELECT c.relname, c.reltuples::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = 'public' AND c.relkind = 'r'`

	rows, err := l.pool.Query(ctx, estimateQuery)
	if err != nil {
		return nil, fmt.Errorf("query row estimates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var table string
		var estimate int64
		if err := rows.Scan(&table, &estimate); err != nil {
			return nil, fmt.Errorf("scan estimate row: %w", err)
		}
		if estimate < 0 {
			estimate = 0
		}
		out[table] = estimate
	}
	return out, rows.Err()
}
