package schemachange

import "cdc-rowstream/internal/types"

// Diff computes the changes that turn old into updated for tableID. Columns are
// matched by name, so a rename shows up as a drop followed by an add. Drops
// come first, then type modifications, then additions in the order of updated.
// Diff returns nil when the two row types are equal.
func Diff(tableID string, old, updated *types.RowType) *Event {
	var changes []ColumnChange
	for _, f := range old.Fields() {
		if updated.IndexOf(f.Name) < 0 {
			changes = append(changes, DropColumn{Name: f.Name})
		}
	}
	for _, f := range updated.Fields() {
		i := old.IndexOf(f.Name)
		if i >= 0 && old.Field(i).Type != f.Type {
			changes = append(changes, ModifyColumn{Name: f.Name, Type: f.Type})
		}
	}
	for _, f := range updated.Fields() {
		if old.IndexOf(f.Name) < 0 {
			changes = append(changes, AddColumn{Column: f})
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return NewEvent(tableID, changes...)
}
