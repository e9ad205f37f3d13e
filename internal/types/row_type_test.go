package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRowTypeRejectsDuplicates(t *testing.T) {
	_, err := NewRowType(
		Field{Name: "id", Type: Of(SqlTypeBigInt)},
		Field{Name: "id", Type: Of(SqlTypeString)},
	)
	require.Error(t, err)

	_, err = NewRowType(Field{Name: "x", Type: Of("VARCHAR2")})
	require.Error(t, err)
}

func TestRowTypeIsImmutable(t *testing.T) {
	rt := MustRowType(Field{Name: "id", Type: Of(SqlTypeBigInt)})
	fields := rt.Fields()
	fields[0].Name = "changed"
	require.Equal(t, []string{"id"}, rt.FieldNames())
	require.Equal(t, 0, rt.IndexOf("id"))
	require.Equal(t, -1, rt.IndexOf("changed"))
}

func TestMultipleRowTypeKeepsInsertionOrder(t *testing.T) {
	a := MustRowType(Field{Name: "x", Type: Of(SqlTypeInt)})
	m := MustMultipleRowType(
		TableRowType{TableID: "db.zeta", RowType: a},
		TableRowType{TableID: "db.alpha", RowType: a},
		TableRowType{TableID: "db.mid", RowType: a},
	)
	require.Equal(t, []string{"db.zeta", "db.alpha", "db.mid"}, m.TableIDs())
	require.Same(t, a, m.RowType("db.alpha"))
	require.Nil(t, m.RowType("db.other"))

	_, err := NewMultipleRowType(
		TableRowType{TableID: "db.t", RowType: a},
		TableRowType{TableID: "db.t", RowType: a},
	)
	require.Error(t, err)
}

func TestProducedTypeRoundTrip(t *testing.T) {
	single := MustRowType(
		Field{Name: "id", Type: Of(SqlTypeBigInt)},
		Field{Name: "price", Type: Decimal(10, 2)},
	)
	data, err := MarshalProducedType(single)
	require.NoError(t, err)
	got, err := UnmarshalProducedType(data)
	require.NoError(t, err)
	require.True(t, EqualProduced(single, got))

	multi := MustMultipleRowType(
		TableRowType{TableID: "db.b", RowType: single},
		TableRowType{TableID: "db.a", RowType: MustRowType(Field{Name: "x", Type: Of(SqlTypeString)})},
	)
	data, err = MarshalProducedType(multi)
	require.NoError(t, err)
	got, err = UnmarshalProducedType(data)
	require.NoError(t, err)
	require.True(t, EqualProduced(multi, got))
	require.Equal(t, []string{"db.b", "db.a"}, got.(*MultipleRowType).TableIDs())

	_, err = UnmarshalProducedType([]byte(`{"kind":"MAP"}`))
	require.Error(t, err)
}

func TestEqualProducedAcrossShapes(t *testing.T) {
	rt := MustRowType(Field{Name: "x", Type: Of(SqlTypeInt)})
	multi := MustMultipleRowType(TableRowType{TableID: "db.t", RowType: rt})
	require.False(t, EqualProduced(rt, multi))
	require.False(t, EqualProduced(multi, rt))
	require.True(t, EqualProduced(rt, MustRowType(Field{Name: "x", Type: Of(SqlTypeInt)})))
}
