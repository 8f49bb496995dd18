package strata

import (
	"fmt"
	"math"
)

// ZeroBlob binds a zero-filled blob of the given size without materializing
// it in Go memory.
type ZeroBlob struct {
	Size int64
}

// bindValue dispatches one Go value onto the engine's typed bind calls.
// Recognized types are nil, the Go integer kinds, float32/float64, string,
// []byte and ZeroBlob; anything else is a bindings error. Richer coercions
// (bool, time.Time) belong to the database/sql driver boundary, not here.
func bindValue(stmt engineStmt, position int, v any) error {
	switch x := v.(type) {
	case nil:
		return stmt.BindNull(position)
	case int:
		return stmt.BindInt64(position, int64(x))
	case int8:
		return stmt.BindInt64(position, int64(x))
	case int16:
		return stmt.BindInt64(position, int64(x))
	case int32:
		return stmt.BindInt64(position, int64(x))
	case int64:
		return stmt.BindInt64(position, x)
	case uint:
		return stmt.BindInt64(position, int64(x))
	case uint8:
		return stmt.BindInt64(position, int64(x))
	case uint16:
		return stmt.BindInt64(position, int64(x))
	case uint32:
		return stmt.BindInt64(position, int64(x))
	case uint64:
		if x > uint64(math.MaxInt64) {
			return fmt.Errorf("%w: uint64 value %d overflows INTEGER", ErrBindings, x)
		}
		return stmt.BindInt64(position, int64(x))
	case float32:
		return stmt.BindDouble(position, float64(x))
	case float64:
		return stmt.BindDouble(position, x)
	case string:
		return stmt.BindText(position, x)
	case []byte:
		return stmt.BindBlob(position, x)
	case ZeroBlob:
		return stmt.BindZeroBlob(position, x.Size)
	default:
		return fmt.Errorf("%w: cannot bind value of type %T", ErrBindings, v)
	}
}

// materializeRow decodes every column of the statement's current row.
func materializeRow(stmt engineStmt) ([]any, error) {
	n := stmt.ColumnCount()
	row := make([]any, n)
	for i := 0; i < n; i++ {
		v, err := stmt.ColumnValue(i)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}
