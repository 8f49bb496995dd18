package strata

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

// ScalarFunc implements a scalar SQL function. args holds the decoded engine
// values (nil, int64, float64, string or []byte); the returned value must be
// one of the bindable types. A returned error fails the invoking statement.
type ScalarFunc func(args []any) (any, error)

// scalarFunc is one registration. The connection keeps these in a map keyed
// by function name, so removal is a delete instead of a pointer chase.
type scalarFunc struct {
	name     string
	nargs    int
	fn       ScalarFunc
	callback uintptr // purego.NewCallback handle, live until process exit
}

// RegisterScalarFunction makes fn available to SQL under name. nargs is the
// exact argument count, or -1 for variadic. Registering an existing name
// replaces it.
func (c *Connection) RegisterScalarFunction(name string, nargs int, fn ScalarFunc) error {
	if !c.inUse.CompareAndSwap(false, true) {
		return ErrThreadingViolation
	}
	defer c.inUse.Store(false)
	if err := c.checkOpen(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("strata: scalar function %q: fn must not be nil", name)
	}

	reg := &scalarFunc{name: name, nargs: nargs, fn: fn}
	reg.callback = purego.NewCallback(func(ctx uintptr, argc int32, argv uintptr) uintptr {
		dispatchScalar(reg, StrataContext(unsafe.Pointer(ctx)), int(argc), argv)
		return 0
	})

	if err := strata_connection_register_scalar(c.conn, name, nargs, reg.callback); err != nil {
		return err
	}
	c.mu.Lock()
	c.scalarFuncs[name] = reg
	c.mu.Unlock()
	return nil
}

// UnregisterScalarFunction removes a previously registered scalar function.
func (c *Connection) UnregisterScalarFunction(name string) error {
	if !c.inUse.CompareAndSwap(false, true) {
		return ErrThreadingViolation
	}
	defer c.inUse.Store(false)
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.mu.Lock()
	_, ok := c.scalarFuncs[name]
	delete(c.scalarFuncs, name)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("strata: scalar function %q is not registered", name)
	}
	return strata_connection_unregister_scalar(c.conn, name)
}

// dispatchScalar decodes the engine values, runs the Go function and writes
// its result or error back through the context.
func dispatchScalar(reg *scalarFunc, ctx StrataContext, argc int, argv uintptr) {
	args := make([]any, argc)
	for i := 0; i < argc; i++ {
		vp := *(*uintptr)(unsafe.Pointer(argv + uintptr(i)*unsafe.Sizeof(uintptr(0))))
		args[i] = decodeValue(StrataValue(unsafe.Pointer(vp)))
	}

	result, err := reg.fn(args)
	if err != nil {
		strata_context_result_error(ctx, err.Error())
		return
	}
	switch v := result.(type) {
	case nil:
		strata_context_result_null(ctx)
	case int:
		strata_context_result_int(ctx, int64(v))
	case int32:
		strata_context_result_int(ctx, int64(v))
	case int64:
		strata_context_result_int(ctx, v)
	case float32:
		strata_context_result_double(ctx, float64(v))
	case float64:
		strata_context_result_double(ctx, v)
	case string:
		strata_context_result_text(ctx, v)
	case []byte:
		strata_context_result_blob(ctx, v)
	case bool:
		if v {
			strata_context_result_int(ctx, 1)
		} else {
			strata_context_result_int(ctx, 0)
		}
	default:
		strata_context_result_error(ctx, fmt.Sprintf("scalar function %s returned unsupported type %T", reg.name, result))
	}
}

// decodeValue converts one engine value into its Go representation.
func decodeValue(v StrataValue) any {
	switch strata_value_kind(v) {
	case STRATA_TYPE_INTEGER:
		return strata_value_int(v)
	case STRATA_TYPE_REAL:
		return strata_value_double(v)
	case STRATA_TYPE_TEXT:
		return strata_value_text(v)
	case STRATA_TYPE_BLOB:
		return strata_value_bytes(v)
	default:
		return nil
	}
}
