// Package resolver turns schema change records into column change events by
// comparing the announced layout of a table with its live row type.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/catalog"
	"cdc-rowstream/internal/record"
	"cdc-rowstream/internal/schemachange"
	"cdc-rowstream/internal/types"
)

// scope is the set of captured table ids; empty captures every table
type scope map[string]bool

func newScope(tableIDs []string) scope {
	s := make(scope, len(tableIDs))
	for _, id := range tableIDs {
		s[id] = true
	}
	return s
}

// liveRowType finds the current layout of tableID. A single row type stands
// for the captured table only.
func (s scope) liveRowType(current types.ProducedType, tableID string) *types.RowType {
	switch t := current.(type) {
	case *types.RowType:
		if len(s) > 0 && !s[tableID] {
			return nil
		}
		return t
	case *types.MultipleRowType:
		return t.RowType(tableID)
	default:
		return nil
	}
}

// TableChangesResolver reads the post-DDL layout from the tableChanges a
// schema change record carries
type TableChangesResolver struct {
	tables scope
	logger *logrus.Logger
}

// NewTableChangesResolver creates a resolver for records that carry
// tableChanges. tableIDs lists the captured tables; empty captures every table.
func NewTableChangesResolver(tableIDs []string, logger *logrus.Logger) *TableChangesResolver {
	return &TableChangesResolver{tables: newScope(tableIDs), logger: logger}
}

// Resolve diffs the announced layout against the live row type
func (r *TableChangesResolver) Resolve(rec record.Record, current types.ProducedType) (*schemachange.Event, error) {
	ev, ok := rec.(*record.Event)
	if !ok {
		return nil, fmt.Errorf("unsupported record type %T", rec)
	}
	tableID := rec.TableID()
	old := r.tables.liveRowType(current, tableID)
	if old == nil {
		r.logger.Debugf("Table %s is not captured, skip schema change", tableID)
		return nil, nil
	}

	change := findTableChange(ev.TableChanges, tableID)
	if change == nil {
		r.logger.Debugf("Schema change on %s carries no table layout: %s", tableID, ev.DDL)
		return nil, nil
	}
	if strings.EqualFold(change.Type, "DROP") {
		r.logger.Infof("Table %s dropped, keep its last layout", tableID)
		return nil, nil
	}

	updated, err := rowTypeOf(change.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to map layout of %s: %w", tableID, err)
	}
	event := schemachange.Diff(tableID, old, updated)
	if event != nil {
		event.DDL = ev.DDL
	}
	return event, nil
}

// findTableChange returns the change announced for tableID. Changes of other
// tables are never used.
func findTableChange(changes []record.TableChange, tableID string) *record.TableChange {
	for i := range changes {
		if changes[i].TableID == tableID {
			return &changes[i]
		}
	}
	return nil
}

func rowTypeOf(columns []record.Column) (*types.RowType, error) {
	fields := make([]types.Field, 0, len(columns))
	for _, col := range columns {
		dt, err := catalog.DataTypeFor(col.TypeName, col.Length, col.Scale)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		fields = append(fields, types.Field{Name: col.Name, Type: dt})
	}
	return types.NewRowType(fields...)
}

// CatalogResolver re-reads the table layout from INFORMATION_SCHEMA when a
// schema change record arrives. The catalog reflects the server's current
// layout, which can be ahead of the record being replayed.
type CatalogResolver struct {
	catalog *catalog.Catalog
	tables  scope
	timeout time.Duration
	logger  *logrus.Logger
}

// NewCatalogResolver creates a resolver backed by c. tableIDs lists the
// captured tables; empty captures every table.
func NewCatalogResolver(c *catalog.Catalog, tableIDs []string, timeout time.Duration, logger *logrus.Logger) *CatalogResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CatalogResolver{catalog: c, tables: newScope(tableIDs), timeout: timeout, logger: logger}
}

// Resolve refreshes the table layout and diffs it against the live row type
func (r *CatalogResolver) Resolve(rec record.Record, current types.ProducedType) (*schemachange.Event, error) {
	tableID := rec.TableID()
	old := r.tables.liveRowType(current, tableID)
	if old == nil {
		r.logger.Debugf("Table %s is not captured, skip schema change", tableID)
		return nil, nil
	}
	if ev, ok := rec.(*record.Event); ok {
		if change := findTableChange(ev.TableChanges, tableID); change != nil && strings.EqualFold(change.Type, "DROP") {
			r.logger.Infof("Table %s dropped, keep its last layout", tableID)
			return nil, nil
		}
	}

	database, table, err := catalog.SplitTableID(tableID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	cols, err := r.catalog.Refresh(ctx, database, table)
	if err != nil {
		return nil, err
	}
	updated, err := catalog.RowTypeOf(cols)
	if err != nil {
		return nil, fmt.Errorf("failed to map layout of %s: %w", tableID, err)
	}
	event := schemachange.Diff(tableID, old, updated)
	if event != nil {
		if ev, ok := rec.(*record.Event); ok {
			event.DDL = ev.DDL
		}
	}
	return event, nil
}
