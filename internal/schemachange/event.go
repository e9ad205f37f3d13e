package schemachange

import (
	"errors"
	"fmt"
	"strings"

	"cdc-rowstream/internal/types"
)

// ErrInvalidEvent is returned when an event cannot be applied to a row type
var ErrInvalidEvent = errors.New("invalid schema change event")

// ColumnChange is one column-level operation of a schema change.
// The set of implementations is closed: AddColumn, DropColumn, RenameColumn
// and ModifyColumn.
type ColumnChange interface {
	isColumnChange()
	String() string
}

// AddColumn appends a column at the end of the row type
type AddColumn struct {
	Column types.Field `json:"column"`
}

// DropColumn removes a column
type DropColumn struct {
	Name string `json:"name"`
}

// RenameColumn renames a column in place, keeping its type and position
type RenameColumn struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ModifyColumn changes the declared type of a column
type ModifyColumn struct {
	Name string         `json:"name"`
	Type types.DataType `json:"type"`
}

func (AddColumn) isColumnChange()    {}
func (DropColumn) isColumnChange()   {}
func (RenameColumn) isColumnChange() {}
func (ModifyColumn) isColumnChange() {}

func (c AddColumn) String() string {
	return fmt.Sprintf("ADD COLUMN %s %s", c.Column.Name, c.Column.Type)
}

func (c DropColumn) String() string {
	return "DROP COLUMN " + c.Name
}

func (c RenameColumn) String() string {
	return fmt.Sprintf("RENAME COLUMN %s TO %s", c.From, c.To)
}

func (c ModifyColumn) String() string {
	return fmt.Sprintf("MODIFY COLUMN %s %s", c.Name, c.Type)
}

// Event is a resolved schema change for one table. It is never modified
// after creation.
type Event struct {
	TableID string
	// DDL is the statement the event was resolved from, when known
	DDL     string
	Changes []ColumnChange
}

// NewEvent creates an event for tableID
func NewEvent(tableID string, changes ...ColumnChange) *Event {
	return &Event{TableID: tableID, Changes: changes}
}

func (e *Event) String() string {
	parts := make([]string, len(e.Changes))
	for i, c := range e.Changes {
		parts[i] = c.String()
	}
	return fmt.Sprintf("ALTER TABLE %s %s", e.TableID, strings.Join(parts, ", "))
}
