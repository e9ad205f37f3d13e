package schemachange

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cdc-rowstream/internal/types"
)

func field(name string, t types.SqlType) types.Field {
	return types.Field{Name: name, Type: types.Of(t)}
}

func TestApplyAddColumnAppends(t *testing.T) {
	current := types.MustRowType(field("id", types.SqlTypeBigInt), field("name", types.SqlTypeString))
	event := NewEvent("db.users", AddColumn{Column: field("age", types.SqlTypeInt)})

	next, err := Apply(current, event)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "age"}, next.FieldNames())
	require.Equal(t, current.Field(0), next.Field(0))
	require.Equal(t, current.Field(1), next.Field(1))
	// the input is untouched
	require.Equal(t, []string{"id", "name"}, current.FieldNames())
}

func TestApplyDropRenameModify(t *testing.T) {
	current := types.MustRowType(
		field("id", types.SqlTypeInt),
		field("legacy", types.SqlTypeString),
		field("amount", types.SqlTypeInt),
	)
	event := NewEvent("db.orders",
		DropColumn{Name: "legacy"},
		RenameColumn{From: "amount", To: "total"},
		ModifyColumn{Name: "id", Type: types.Of(types.SqlTypeBigInt)},
	)

	next, err := Apply(current, event)
	require.NoError(t, err)
	require.Equal(t, []types.Field{
		field("id", types.SqlTypeBigInt),
		field("total", types.SqlTypeInt),
	}, next.Fields())
}

func TestApplyFailsLoudly(t *testing.T) {
	current := types.MustRowType(field("id", types.SqlTypeInt))
	cases := map[string]*Event{
		"empty":          NewEvent("db.t"),
		"duplicate add":  NewEvent("db.t", AddColumn{Column: field("id", types.SqlTypeInt)}),
		"unnamed add":    NewEvent("db.t", AddColumn{Column: field("", types.SqlTypeInt)}),
		"unknown drop":   NewEvent("db.t", DropColumn{Name: "missing"}),
		"unknown rename": NewEvent("db.t", RenameColumn{From: "missing", To: "x"}),
		"unknown modify": NewEvent("db.t", ModifyColumn{Name: "missing", Type: types.Of(types.SqlTypeInt)}),
		"bad type":       NewEvent("db.t", ModifyColumn{Name: "id", Type: types.Of("GEOMETRY")}),
		"nil change":     NewEvent("db.t", nil),
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			next, err := Apply(current, event)
			require.ErrorIs(t, err, ErrInvalidEvent)
			require.Nil(t, next)
		})
	}

	_, err := Apply(current, nil)
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestApplyProducedMultipleRowType(t *testing.T) {
	a := types.MustRowType(field("x", types.SqlTypeInt))
	b := types.MustRowType(field("y", types.SqlTypeString))
	c := types.MustRowType(field("z", types.SqlTypeDouble))
	live := types.MustMultipleRowType(
		types.TableRowType{TableID: "db.c", RowType: c},
		types.TableRowType{TableID: "db.a", RowType: a},
		types.TableRowType{TableID: "db.b", RowType: b},
	)

	next, applied, err := ApplyProduced(live, NewEvent("db.a", AddColumn{Column: field("w", types.SqlTypeBoolean)}))
	require.NoError(t, err)
	require.True(t, applied)

	multi := next.(*types.MultipleRowType)
	require.Equal(t, []string{"db.c", "db.a", "db.b"}, multi.TableIDs())
	require.Same(t, c, multi.RowType("db.c"))
	require.Same(t, b, multi.RowType("db.b"))
	require.Equal(t, []string{"x", "w"}, multi.RowType("db.a").FieldNames())
	require.Equal(t, []string{"x"}, live.RowType("db.a").FieldNames())
}

func TestApplyProducedUnknownTable(t *testing.T) {
	live := types.MustMultipleRowType(types.TableRowType{
		TableID: "db.a", RowType: types.MustRowType(field("x", types.SqlTypeInt)),
	})
	next, applied, err := ApplyProduced(live, NewEvent("db.missing", DropColumn{Name: "x"}))
	require.NoError(t, err)
	require.False(t, applied)
	require.Same(t, live, next)
}

func TestApplyProducedSingleTable(t *testing.T) {
	live := types.MustRowType(field("x", types.SqlTypeInt))
	next, applied, err := ApplyProduced(live, NewEvent("any.table", AddColumn{Column: field("y", types.SqlTypeInt)}))
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, []string{"x", "y"}, next.(*types.RowType).FieldNames())

	_, _, err = ApplyProduced(live, NewEvent("any.table", DropColumn{Name: "nope"}))
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestDiff(t *testing.T) {
	old := types.MustRowType(
		field("id", types.SqlTypeInt),
		field("gone", types.SqlTypeString),
		field("price", types.SqlTypeFloat),
	)
	updated := types.MustRowType(
		field("id", types.SqlTypeInt),
		field("price", types.SqlTypeDouble),
		field("added", types.SqlTypeDate),
	)

	event := Diff("db.t", old, updated)
	require.NotNil(t, event)
	require.Equal(t, []ColumnChange{
		DropColumn{Name: "gone"},
		ModifyColumn{Name: "price", Type: types.Of(types.SqlTypeDouble)},
		AddColumn{Column: field("added", types.SqlTypeDate)},
	}, event.Changes)

	next, err := Apply(old, event)
	require.NoError(t, err)
	require.True(t, next.Equal(updated))

	require.Nil(t, Diff("db.t", old, old))
}
