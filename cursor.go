package strata

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"
)

type cursorStatus int

const (
	// statusBefore: a statement is checked out but its current row has not
	// been fetched yet.
	statusBefore cursorStatus = iota
	// statusRow: a result row is available.
	statusRow
	// statusDone: execution exhausted or never started; nothing checked out.
	statusDone
)

// ExecTracer is called with the source slice of every statement about to run
// and its matched bindings (the map as supplied, or the positional sub-slice
// actually consumed). Returning false aborts execution with ErrTraceAbort.
type ExecTracer func(query string, bindings any) bool

// RowTracer is called with every materialized row. It may return a
// replacement row, or nil to skip the row and continue to the next one.
type RowTracer func(row []any) []any

// ColumnDescription is one column of an active statement.
type ColumnDescription struct {
	Name     string
	DeclType string
}

// Cursor executes SQL scripts against its connection, borrowing compiled
// statements from the connection's statement cache for the duration of one
// execution chain and always returning them before borrowing again.
//
// A cursor must be driven from one goroutine at a time; concurrent use is
// detected and rejected with ErrThreadingViolation rather than corrupting
// native state.
type Cursor struct {
	conn *Connection

	stmt           *CompiledStatement
	status         cursorStatus
	bindings       any // nil, map[string]any or []any
	bindingsOffset int

	emNext          func() (any, bool)
	emStop          func()
	emOriginalQuery string

	execTrace ExecTracer
	rowTrace  RowTracer

	inUse atomic.Bool
}

// enter guards a public operation: it detects concurrent use and rejects work
// on a closed connection. Internal helpers assume the guard is already held.
func (c *Cursor) enter() error {
	if !c.inUse.CompareAndSwap(false, true) {
		return ErrThreadingViolation
	}
	if err := c.conn.checkOpen(); err != nil {
		c.inUse.Store(false)
		return err
	}
	return nil
}

func (c *Cursor) leave() {
	c.inUse.Store(false)
}

// Execute compiles and starts executing a script of one or more statements.
// bindings may be nil, a map[string]any of named parameters, or a []any of
// positional parameters spanning the whole script. The cursor itself is
// returned for chaining and iteration.
//
// If a prior execution on this cursor was left unfinished, Execute reports
// ErrIncompleteExecution instead of silently discarding it.
func (c *Cursor) Execute(sql string, bindings any) (*Cursor, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()

	if err := c.reset(false); err != nil {
		return nil, err
	}
	b, err := normalizeBindings(bindings)
	if err != nil {
		return nil, err
	}
	c.bindings = b

	stmt, err := c.conn.cache.prepare(sql)
	if err != nil {
		c.bindings = nil
		return nil, err
	}
	c.stmt = stmt
	c.bindingsOffset = 0

	if err := c.bindAndTrace(); err != nil {
		c.abort()
		return nil, err
	}
	c.status = statusBefore
	if err := c.step(); err != nil {
		return nil, err
	}
	return c, nil
}

// ExecuteMany executes the first statement of the script once per binding set
// drawn lazily from sets. Each element must be a map[string]any or a []any.
// An empty sequence completes immediately with nothing checked out.
func (c *Cursor) ExecuteMany(sql string, sets iter.Seq[any]) (*Cursor, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()

	if err := c.reset(false); err != nil {
		return nil, err
	}

	next, stop := iter.Pull(sets)
	c.emNext, c.emStop = next, stop

	set, ok := next()
	if !ok {
		stop()
		c.emNext, c.emStop = nil, nil
		c.status = statusDone
		return c, nil
	}
	b, err := normalizeBindingSet(set)
	if err != nil {
		c.abort()
		return nil, err
	}
	c.bindings = b

	stmt, err := c.conn.cache.prepare(sql)
	if err != nil {
		c.abort()
		return nil, err
	}
	c.stmt = stmt
	// Completions restart the first statement of the script, not the whole
	// script, for each successive binding set.
	c.emOriginalQuery = stmt.query
	c.bindingsOffset = 0

	if err := c.bindAndTrace(); err != nil {
		c.abort()
		return nil, err
	}
	c.status = statusBefore
	if err := c.step(); err != nil {
		return nil, err
	}
	return c, nil
}

// Next fetches the next result row, stepping the execution machine as needed,
// and returns io.EOF once the whole script is exhausted.
func (c *Cursor) Next() ([]any, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()

	for {
		if c.status == statusBefore {
			if err := c.step(); err != nil {
				return nil, err
			}
		}
		if c.status == statusDone {
			return nil, io.EOF
		}

		c.status = statusBefore
		row, err := materializeRow(c.stmt.h)
		if err != nil {
			c.abort()
			return nil, err
		}
		if c.rowTrace != nil {
			if row = c.rowTrace(row); row == nil {
				continue
			}
		}
		return row, nil
	}
}

// Rows iterates the remaining result rows. Iteration stops after yielding the
// first error, if any.
func (c *Cursor) Rows() iter.Seq2[[]any, error] {
	return func(yield func([]any, error) bool) {
		for {
			row, err := c.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// Close tears down any checked-out statement. Closing a cursor whose script
// or ExecuteMany sequence was not driven to completion is
// ErrIncompleteExecution unless force is true, which discards the remaining
// work silently.
func (c *Cursor) Close(force bool) error {
	if !c.inUse.CompareAndSwap(false, true) {
		return ErrThreadingViolation
	}
	defer c.leave()

	// Closing after the connection closed is a no-op; the forced cascade has
	// already torn the statement down.
	err := c.reset(force)
	c.conn.removeCursor(c)
	return err
}

// Description reports the column names and declared types of the statement
// currently checked out. It is only valid while a statement is active.
func (c *Cursor) Description() ([]ColumnDescription, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()

	if c.stmt == nil {
		return nil, fmt.Errorf("%w: can't get description for statements that have completed execution", ErrExecutionComplete)
	}
	n := c.stmt.h.ColumnCount()
	desc := make([]ColumnDescription, n)
	for i := 0; i < n; i++ {
		desc[i] = ColumnDescription{
			Name:     c.stmt.h.ColumnName(i),
			DeclType: c.stmt.h.ColumnDeclType(i),
		}
	}
	return desc, nil
}

// SetExecTrace installs fn to be called before each statement executes; nil
// removes the tracer.
func (c *Cursor) SetExecTrace(fn ExecTracer) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	c.execTrace = fn
	return nil
}

// SetRowTrace installs fn to be called with each fetched row; nil removes the
// tracer.
func (c *Cursor) SetRowTrace(fn RowTracer) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	c.rowTrace = fn
	return nil
}

// Connection returns the connection this cursor belongs to.
func (c *Cursor) Connection() *Connection {
	return c.conn
}

// step is the execution driver loop. On a result row it parks in statusRow;
// on statement completion it advances to the next script statement or the
// next ExecuteMany binding set; on an engine error it discards the statement
// and propagates. Every exit path leaves no leaked checked-out statement on
// error.
func (c *Cursor) step() error {
	for {
		hasRow, err := c.stmt.h.Step()
		if err != nil {
			c.abort()
			return err
		}
		if hasRow {
			c.status = statusRow
			return nil
		}

		// This statement ran to completion.
		c.status = statusDone
		if c.stmt.next == "" {
			if c.emNext == nil {
				// Whole script done: cache the statement and finish.
				return c.reset(false)
			}
			set, ok := c.emNext()
			if !ok {
				return c.reset(false)
			}
			// Restart the first statement against the next binding set.
			if err := c.swapStatement(c.emOriginalQuery); err != nil {
				return err
			}
			b, err := normalizeBindingSet(set)
			if err != nil {
				c.abort()
				return err
			}
			c.bindings = b
			c.bindingsOffset = 0
		} else {
			// Advance to the following statement of the script.
			if err := c.swapStatement(c.stmt.next); err != nil {
				return err
			}
		}

		if err := c.bindAndTrace(); err != nil {
			c.abort()
			return err
		}
		c.status = statusBefore
	}
}

// swapStatement releases the current statement back to the cache and checks
// out a statement for sql in its place.
func (c *Cursor) swapStatement(sql string) error {
	err := c.conn.cache.release(c.stmt, false)
	c.stmt = nil
	if err != nil {
		c.abort()
		return err
	}
	stmt, err := c.conn.cache.prepare(sql)
	if err != nil {
		c.abort()
		return err
	}
	c.stmt = stmt
	return nil
}

// bindAndTrace binds the current parameter chunk and runs the exec tracer
// over the statement source and the bindings it consumed.
func (c *Cursor) bindAndTrace() error {
	saved := c.bindingsOffset
	if err := c.bind(); err != nil {
		return err
	}
	if c.execTrace == nil {
		return nil
	}
	var traced any
	switch b := c.bindings.(type) {
	case map[string]any:
		traced = b
	case []any:
		traced = b[saved:c.bindingsOffset]
	}
	if !c.execTrace(c.stmt.query, traced) {
		return ErrTraceAbort
	}
	return nil
}

// bind applies the current bindings to the checked-out statement per the
// rules of 1-based engine slots: maps bind by declared parameter name with
// missing keys left unbound (engine defaults them to NULL; deliberate,
// matches the engine's own semantics), sequences bind positionally and
// advance the offset so the next script statement consumes the next chunk.
func (c *Cursor) bind() error {
	nargs := c.stmt.h.BindParameterCount()
	if nargs == 0 && c.bindings == nil {
		return nil
	}

	switch b := c.bindings.(type) {
	case map[string]any:
		for i := 1; i <= nargs; i++ {
			name := c.stmt.h.BindParameterName(i)
			if name == "" {
				return fmt.Errorf("%w: binding %d has no name, but you supplied a map (which only has names)", ErrBindings, i-1)
			}
			if name[0] == ':' || name[0] == '$' || name[0] == '@' {
				name = name[1:]
			}
			v, ok := b[name]
			if !ok {
				continue
			}
			if err := bindValue(c.stmt.h, i, v); err != nil {
				return err
			}
		}
	case []any:
		have := len(b) - c.bindingsOffset
		if c.stmt.next != "" && have < nargs {
			return fmt.Errorf("%w: incorrect number of bindings: current statement uses %d, only %d left at offset %d",
				ErrBindings, nargs, have, c.bindingsOffset)
		}
		if c.stmt.next == "" && have != nargs {
			return fmt.Errorf("%w: incorrect number of bindings: current statement uses %d, %d supplied at offset %d",
				ErrBindings, nargs, have, c.bindingsOffset)
		}
		for i := 1; i <= nargs; i++ {
			if err := bindValue(c.stmt.h, i, b[c.bindingsOffset+i-1]); err != nil {
				return err
			}
		}
		c.bindingsOffset += nargs
	default:
		return fmt.Errorf("%w: statement has %d bindings but none were supplied", ErrBindings, nargs)
	}
	return nil
}

// abort force-resets the cursor on an error path. The forced reset suppresses
// secondary release errors so the original error is the one reported.
func (c *Cursor) abort() {
	_ = c.reset(true)
}

// reset finalizes or caches any checked-out statement and returns the cursor
// to statusDone. Without force, an unfinished script or an ExecuteMany
// sequence with remaining binding sets is reported as ErrIncompleteExecution,
// and release errors surface; with force, all of those are suppressed so an
// original error is never replaced.
func (c *Cursor) reset(force bool) error {
	var firstErr error

	nextQuery := ""
	if c.stmt != nil {
		nextQuery = c.stmt.next
	}

	c.bindings = nil
	c.bindingsOffset = 0

	if c.stmt != nil {
		err := c.conn.cache.release(c.stmt, force)
		c.stmt = nil
		if err != nil && !force {
			firstErr = err
		}
	}

	if !force && c.status != statusDone && nextQuery != "" && firstErr == nil {
		firstErr = fmt.Errorf("%w: there are still remaining sql statements to execute", ErrIncompleteExecution)
	}
	if !force && c.status != statusDone && c.emNext != nil && firstErr == nil {
		if _, ok := c.emNext(); ok {
			firstErr = fmt.Errorf("%w: there are still remaining binding sets to execute", ErrIncompleteExecution)
		}
	}

	if c.emStop != nil {
		c.emStop()
	}
	c.emNext, c.emStop = nil, nil
	c.emOriginalQuery = ""
	c.status = statusDone
	return firstErr
}

func normalizeBindings(bindings any) (any, error) {
	if bindings == nil {
		return nil, nil
	}
	return normalizeBindingSet(bindings)
}

func normalizeBindingSet(set any) (any, error) {
	switch set.(type) {
	case map[string]any, []any:
		return set, nil
	default:
		return nil, fmt.Errorf("%w: you must supply a map[string]any or a []any, not %T", ErrBindings, set)
	}
}
