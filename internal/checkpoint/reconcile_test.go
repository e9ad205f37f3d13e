package checkpoint

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cdc-rowstream/internal/types"
)

func rowType(names ...string) *types.RowType {
	fields := make([]types.Field, len(names))
	for i, n := range names {
		fields[i] = types.Field{Name: n, Type: types.Of(types.SqlTypeString)}
	}
	return types.MustRowType(fields...)
}

func TestReconcileMultipleRowType(t *testing.T) {
	live := types.MustMultipleRowType(
		types.TableRowType{TableID: "A", RowType: rowType("x", "y")},
		types.TableRowType{TableID: "B", RowType: rowType("x")},
	)
	checkpointed := types.MustMultipleRowType(
		types.TableRowType{TableID: "A", RowType: rowType("x")},
		types.TableRowType{TableID: "C", RowType: rowType("x")},
	)

	got, err := Reconcile(live, checkpointed, logrus.New())
	require.NoError(t, err)

	multi := got.(*types.MultipleRowType)
	require.Equal(t, []string{"A", "B"}, multi.TableIDs())
	require.Same(t, checkpointed.RowType("A"), multi.RowType("A"))
	require.Same(t, live.RowType("B"), multi.RowType("B"))
	require.Nil(t, multi.RowType("C"))
}

func TestReconcileSingleRowTypeReplaces(t *testing.T) {
	live := rowType("x", "y")
	checkpointed := rowType("x")
	got, err := Reconcile(live, checkpointed, nil)
	require.NoError(t, err)
	require.Same(t, checkpointed, got)
}

func TestReconcileRejectsShapeChange(t *testing.T) {
	single := rowType("x")
	multi := types.MustMultipleRowType(types.TableRowType{TableID: "A", RowType: single})

	_, err := Reconcile(multi, single, nil)
	require.ErrorIs(t, err, ErrIncompatibleShape)
	_, err = Reconcile(single, multi, nil)
	require.ErrorIs(t, err, ErrIncompatibleShape)
}

func TestReconcileRoundTripIsNoop(t *testing.T) {
	live := types.MustMultipleRowType(
		types.TableRowType{TableID: "A", RowType: rowType("x", "y")},
		types.TableRowType{TableID: "B", RowType: rowType("z")},
	)
	data, err := types.MarshalProducedType(live)
	require.NoError(t, err)
	checkpointed, err := types.UnmarshalProducedType(data)
	require.NoError(t, err)

	got, err := Reconcile(live, checkpointed, nil)
	require.NoError(t, err)
	require.True(t, types.EqualProduced(live, got))
}
