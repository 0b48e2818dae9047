package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaContext renders the public schema as text for the SQL generator:
// every table and column with its type and comment. Migration bookkeeping
// tables are left out.
func SchemaContext(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	tableComments, err := loadTableComments(ctx, pool)
	if err != nil {
		return "", err
	}

	rows, err := pool.Query(ctx,
		`SELECT c.table_name, c.column_name, c.data_type, c.is_nullable,
		        COALESCE(col_description(pc.oid, c.ordinal_position), '')
		 FROM information_schema.columns c
		 JOIN pg_class pc
		   ON pc.relname = c.table_name
		  AND pc.relnamespace = 'public'::regnamespace
		 WHERE c.table_schema = 'public'
		   AND c.table_name NOT LIKE 'schema_migrations%'
		 ORDER BY c.table_name, c.ordinal_position`)
	if err != nil {
		return "", fmt.Errorf("describe schema columns: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	currentTable := ""
	for rows.Next() {
		var table, column, dataType, nullable, comment string
		if err := rows.Scan(&table, &column, &dataType, &nullable, &comment); err != nil {
			return "", fmt.Errorf("scan schema column: %w", err)
		}

		if table != currentTable {
			if currentTable != "" {
				b.WriteString("\n")
			}
			b.WriteString("TABLE " + table)
			if tc := tableComments[table]; tc != "" {
				b.WriteString(" -- " + tc)
			}
			b.WriteString("\n")
			currentTable = table
		}

		b.WriteString("  " + column + " " + strings.ToUpper(dataType))
		if nullable == "NO" {
			b.WriteString(" NOT NULL")
		}
		if comment != "" {
			b.WriteString(" -- " + comment)
		}
		b.WriteString("\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read schema columns: %w", err)
	}
	return b.String(), nil
}

func loadTableComments(ctx context.Context, pool *pgxpool.Pool) (map[string]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT t.table_name, COALESCE(obj_description(pc.oid), '')
		 FROM information_schema.tables t
		 JOIN pg_class pc
		   ON pc.relname = t.table_name
		  AND pc.relnamespace = 'public'::regnamespace
		 WHERE t.table_schema = 'public' AND t.table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, fmt.Errorf("describe schema tables: %w", err)
	}
	defer rows.Close()

	comments := make(map[string]string)
	for rows.Next() {
		var table, comment string
		if err := rows.Scan(&table, &comment); err != nil {
			return nil, fmt.Errorf("scan schema table: %w", err)
		}
		comments[table] = comment
	}
	return comments, rows.Err()
}
