package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/record"
	"cdc-rowstream/internal/types"
)

const columnsQuery = `
	SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE
	FROM INFORMATION_SCHEMA.COLUMNS
	WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	ORDER BY ORDINAL_POSITION
`

// Column is one row of INFORMATION_SCHEMA.COLUMNS
type Column struct {
	Name       string
	ColumnType string
	Nullable   bool
}

// Catalog reads table layouts from INFORMATION_SCHEMA and caches them by
// "database.table"
type Catalog struct {
	db     *sql.DB
	logger *logrus.Logger

	mu      sync.Mutex
	columns map[string][]Column
}

// Open connects to the MySQL server holding the captured tables
func Open(host string, port int, user, password string, logger *logrus.Logger) (*Catalog, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", user, password, host, port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return New(db, logger), nil
}

// New wraps an existing connection
func New(db *sql.DB, logger *logrus.Logger) *Catalog {
	return &Catalog{db: db, logger: logger, columns: make(map[string][]Column)}
}

// Close closes the database connection
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Columns returns the cached layout of a table, fetching it on first use
func (c *Catalog) Columns(ctx context.Context, database, table string) ([]Column, error) {
	key := record.TableID(database, table)
	c.mu.Lock()
	cols, ok := c.columns[key]
	c.mu.Unlock()
	if ok {
		return cols, nil
	}
	return c.Refresh(ctx, database, table)
}

// Refresh re-reads the layout of a table, replacing the cached one
func (c *Catalog) Refresh(ctx context.Context, database, table string) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx, columnsQuery, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column info: %w", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.ColumnType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		col.Nullable = nullable == "YES"
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", database, table)
	}

	c.mu.Lock()
	c.columns[record.TableID(database, table)] = cols
	c.mu.Unlock()
	c.logger.Debugf("Fetched %d columns for %s.%s", len(cols), database, table)
	return cols, nil
}

// Invalidate drops the cached layout of a table
func (c *Catalog) Invalidate(database, table string) {
	c.mu.Lock()
	delete(c.columns, record.TableID(database, table))
	c.mu.Unlock()
}

// RowType builds the row type of a table from its cached layout
func (c *Catalog) RowType(ctx context.Context, database, table string) (*types.RowType, error) {
	cols, err := c.Columns(ctx, database, table)
	if err != nil {
		return nil, err
	}
	return RowTypeOf(cols)
}

// ProducedType loads the produced type for tableIDs given as "database.table".
// A single table yields a RowType unless multiTable is set; several tables
// yield a MultipleRowType in the given order.
func (c *Catalog) ProducedType(ctx context.Context, tableIDs []string, multiTable bool) (types.ProducedType, error) {
	if len(tableIDs) == 0 {
		return nil, fmt.Errorf("no tables configured")
	}
	entries := make([]types.TableRowType, 0, len(tableIDs))
	for _, id := range tableIDs {
		database, table, err := SplitTableID(id)
		if err != nil {
			return nil, err
		}
		rt, err := c.RowType(ctx, database, table)
		if err != nil {
			return nil, fmt.Errorf("failed to load row type of %s: %w", id, err)
		}
		entries = append(entries, types.TableRowType{TableID: id, RowType: rt})
	}
	if len(entries) == 1 && !multiTable {
		return entries[0].RowType, nil
	}
	m, err := types.NewMultipleRowType(entries...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RowTypeOf maps catalog columns to a row type
func RowTypeOf(cols []Column) (*types.RowType, error) {
	fields := make([]types.Field, 0, len(cols))
	for _, col := range cols {
		dt, err := DataTypeOf(col.ColumnType)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		fields = append(fields, types.Field{Name: col.Name, Type: dt})
	}
	return types.NewRowType(fields...)
}

// RecordColumns converts catalog columns to the form schema change records carry
func RecordColumns(cols []Column) []record.Column {
	out := make([]record.Column, len(cols))
	for i, col := range cols {
		out[i] = record.Column{Name: col.Name, TypeName: col.ColumnType, Optional: col.Nullable}
	}
	return out
}

// SplitTableID splits "database.table"
func SplitTableID(id string) (string, string, error) {
	i := strings.Index(id, ".")
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("table id %q must be database.table", id)
	}
	return id[:i], id[i+1:], nil
}
