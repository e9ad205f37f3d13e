package checkpoint

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/types"
)

// ErrIncompatibleShape is returned when a checkpointed type and the live type
// differ in shape (single table against multiple tables). The checkpointed
// type must then be discarded.
var ErrIncompatibleShape = errors.New("checkpointed type shape does not match live type")

// Reconcile merges the type saved in a checkpoint with the live type.
//
// A single-table checkpoint replaces the live row type. For multiple tables
// the live entries are the base and keep their order; a table present in both
// takes the checkpointed layout, and a table only the checkpoint knows is
// skipped. logger may be nil.
func Reconcile(live, checkpointed types.ProducedType, logger *logrus.Logger) (types.ProducedType, error) {
	if live == nil || checkpointed == nil {
		return nil, fmt.Errorf("cannot reconcile nil types")
	}
	if live.SqlType() != checkpointed.SqlType() {
		return nil, fmt.Errorf("%w: live %s, checkpoint %s", ErrIncompatibleShape, live.SqlType(), checkpointed.SqlType())
	}

	switch cp := checkpointed.(type) {
	case *types.RowType:
		if logger != nil {
			logger.Infof("Table datatype restore before: %s", live)
			logger.Infof("Table datatype restore after: %s", cp)
		}
		return cp, nil

	case *types.MultipleRowType:
		latest, ok := live.(*types.MultipleRowType)
		if !ok {
			return nil, fmt.Errorf("%w: live type is %T", ErrIncompatibleShape, live)
		}
		entries := latest.Tables()
		for i, e := range entries {
			restored := cp.RowType(e.TableID)
			if restored == nil {
				continue
			}
			if logger != nil {
				logger.Infof("Table[%s] datatype restore before: %s", e.TableID, e.RowType)
				logger.Infof("Table[%s] datatype restore after: %s", e.TableID, restored)
			}
			entries[i].RowType = restored
		}
		if logger != nil {
			for _, id := range cp.TableIDs() {
				if latest.RowType(id) == nil {
					logger.Infof("Ignore restore table[%s] datatype, table has been removed", id)
				}
			}
		}
		m, err := types.NewMultipleRowType(entries...)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported checkpointed type %T", checkpointed)
}
