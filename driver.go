package strata

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// define all driver level errors here
var (
	ErrStmtClosed = errors.New("strata: statement closed")
	ErrRowsClosed = errors.New("strata: rows closed")
	ErrTxDone     = errors.New("strata: transaction done")
)

// define all driver level structs here

type strataDriver struct{}

type strataDriverConn struct {
	conn *Connection
}

type strataDriverStmt struct {
	conn      *strataDriverConn
	sql       string
	numInputs int
	closed    bool
}

type strataDriverRows struct {
	cur       *Cursor
	columns   []string
	decltypes []string

	closed bool
	err    error
}

type strataDriverResult struct {
	lastInsertId int64
	rowsAffected int64
}

type strataDriverTx struct {
	conn *strataDriverConn
	done bool
}

// register driver
func init() {
	sql.Register("strata", &strataDriver{})
}

// Implement sql.Driver methods
func (d *strataDriver) Open(dsn string) (driver.Conn, error) {
	path, opts, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return &strataDriverConn{conn: conn}, nil
}

// --- Connector Pattern ---

// StrataConnector implements driver.Connector for programmatic configuration.
// Options are applied on top of whatever the DSN query string sets.
type StrataConnector struct {
	dsn  string
	opts []Option
}

// NewConnector creates a connector for the given DSN and extra options.
func NewConnector(dsn string, opts ...Option) (*StrataConnector, error) {
	return &StrataConnector{dsn: dsn, opts: opts}, nil
}

// Connect implements driver.Connector.
func (c *StrataConnector) Connect(ctx context.Context) (driver.Conn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	path, opts, err := parseDSN(c.dsn)
	if err != nil {
		return nil, err
	}
	conn, err := Open(path, append(opts, c.opts...)...)
	if err != nil {
		return nil, err
	}
	return &strataDriverConn{conn: conn}, nil
}

// Driver implements driver.Connector.
func (c *StrataConnector) Driver() driver.Driver {
	return &strataDriver{}
}

var _ driver.Connector = (*StrataConnector)(nil)

// --- driver.Conn and friends ---

// Ensure strataDriverConn implements required interfaces.
var (
	_ driver.Conn               = (*strataDriverConn)(nil)
	_ driver.ConnPrepareContext = (*strataDriverConn)(nil)
	_ driver.ExecerContext      = (*strataDriverConn)(nil)
	_ driver.QueryerContext     = (*strataDriverConn)(nil)
	_ driver.Pinger             = (*strataDriverConn)(nil)
	_ driver.ConnBeginTx        = (*strataDriverConn)(nil)
)

func (c *strataDriverConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *strataDriverConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := c.conn.checkOpen(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// Compile now to surface errors early and learn the input count. The
	// statement goes straight back to the cache, so the later execution
	// checks it out without recompiling.
	stmt, err := c.conn.cache.prepare(query)
	if err != nil {
		return nil, err
	}
	num := stmt.h.BindParameterCount()
	if err := c.conn.cache.release(stmt, false); err != nil {
		return nil, err
	}
	return &strataDriverStmt{
		conn:      c,
		sql:       query,
		numInputs: num,
	}, nil
}

func (c *strataDriverConn) Close() error {
	return c.conn.Close(true)
}

func (c *strataDriverConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *strataDriverConn) BeginTx(ctx context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if _, err := c.ExecContext(ctx, "BEGIN", nil); err != nil {
		return nil, err
	}
	return &strataDriverTx{conn: c}, nil
}

func (c *strataDriverConn) Ping(ctx context.Context) error {
	rows, err := c.QueryContext(ctx, "SELECT 1", nil)
	if err != nil {
		return err
	}
	return rows.Close()
}

// interruptOnCancel arranges for the connection to be interrupted when ctx is
// canceled; the returned stop function must be called when the native work is
// over.
func (c *strataDriverConn) interruptOnCancel(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Interrupt()
		case <-finished:
		}
	}()
	return func() { close(finished) }
}

func (c *strataDriverConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.conn.checkOpen(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	bindings, err := driverBindings(args)
	if err != nil {
		return nil, err
	}

	before, err := c.conn.TotalChanges()
	if err != nil {
		return nil, err
	}

	cur, err := c.conn.Cursor()
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(true) }()

	stop := c.interruptOnCancel(ctx)
	_, err = cur.Execute(query, bindings)
	if err == nil {
		// Drain any result rows so the whole script runs to completion.
		for {
			if _, nerr := cur.Next(); nerr != nil {
				if !errors.Is(nerr, io.EOF) {
					err = nerr
				}
				break
			}
		}
	}
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	after, err := c.conn.TotalChanges()
	if err != nil {
		return nil, err
	}
	lastInsert, err := c.conn.LastInsertRowID()
	if err != nil {
		return nil, err
	}
	return &strataDriverResult{
		lastInsertId: lastInsert,
		rowsAffected: after - before,
	}, nil
}

func (c *strataDriverConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.conn.checkOpen(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	bindings, err := driverBindings(args)
	if err != nil {
		return nil, err
	}

	cur, err := c.conn.Cursor()
	if err != nil {
		return nil, err
	}

	stop := c.interruptOnCancel(ctx)
	_, err = cur.Execute(query, bindings)
	stop()
	if err != nil {
		_ = cur.Close(true)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	rows := &strataDriverRows{cur: cur}
	// Capture the description while the first statement is still checked
	// out; an empty result set completes immediately and loses it.
	if desc, derr := cur.Description(); derr == nil {
		rows.columns = make([]string, len(desc))
		rows.decltypes = make([]string, len(desc))
		for i, d := range desc {
			rows.columns[i] = d.Name
			rows.decltypes[i] = d.DeclType
		}
	}
	return rows, nil
}

// --- driver.Stmt and friends ---

// Ensure strataDriverStmt implements required interfaces.
var (
	_ driver.Stmt             = (*strataDriverStmt)(nil)
	_ driver.StmtExecContext  = (*strataDriverStmt)(nil)
	_ driver.StmtQueryContext = (*strataDriverStmt)(nil)
)

func (s *strataDriverStmt) Close() error {
	s.closed = true
	return nil
}

func (s *strataDriverStmt) NumInput() int {
	return s.numInputs
}

func (s *strataDriverStmt) Exec(args []driver.Value) (driver.Result, error) {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return s.ExecContext(context.Background(), named)
}

func (s *strataDriverStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if s.closed {
		return nil, ErrStmtClosed
	}
	return s.conn.ExecContext(ctx, s.sql, args)
}

func (s *strataDriverStmt) Query(args []driver.Value) (driver.Rows, error) {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return s.QueryContext(context.Background(), named)
}

func (s *strataDriverStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if s.closed {
		return nil, ErrStmtClosed
	}
	return s.conn.QueryContext(ctx, s.sql, args)
}

// --- driver.Rows ---

var _ driver.Rows = (*strataDriverRows)(nil)

func (r *strataDriverRows) Columns() []string {
	return r.columns
}

func (r *strataDriverRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.cur.Close(true)
}

func (r *strataDriverRows) Next(dest []driver.Value) error {
	if r.closed {
		return io.EOF
	}
	row, err := r.cur.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			r.err = err
		}
		return err
	}
	if len(dest) != len(row) {
		return fmt.Errorf("strata: expected %d dests, got %d", len(row), len(dest))
	}
	for i, v := range row {
		if s, ok := v.(string); ok && i < len(r.decltypes) && isTimeColumn(r.decltypes[i]) {
			if t, terr := parseTimeString(s); terr == nil {
				dest[i] = t
				continue
			}
		}
		dest[i] = v
	}
	return nil
}

// --- driver.Result ---

var _ driver.Result = (*strataDriverResult)(nil)

func (r *strataDriverResult) LastInsertId() (int64, error) {
	return r.lastInsertId, nil
}

func (r *strataDriverResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- driver.Tx ---

var _ driver.Tx = (*strataDriverTx)(nil)

func (tx *strataDriverTx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	_, err := tx.conn.ExecContext(context.Background(), "COMMIT", nil)
	tx.done = true
	return err
}

func (tx *strataDriverTx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	_, err := tx.conn.ExecContext(context.Background(), "ROLLBACK", nil)
	tx.done = true
	return err
}

// Helpers

// parseDSN supports format: <path>[?cache=<int>&_busy_timeout=<int>&vfs=<string>]
func parseDSN(dsn string) (string, []Option, error) {
	path := dsn
	var opts []Option
	qMark := strings.IndexByte(dsn, '?')
	if qMark < 0 {
		return path, opts, nil
	}
	path = dsn[:qMark]
	vals, err := url.ParseQuery(dsn[qMark+1:])
	if err != nil {
		return "", nil, err
	}
	if v := vals.Get("cache"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", nil, fmt.Errorf("strata: invalid cache size %q", v)
		}
		opts = append(opts, WithStatementCacheSize(n))
	}
	if v := vals.Get("_busy_timeout"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return "", nil, fmt.Errorf("strata: invalid busy timeout %q", v)
		}
		opts = append(opts, WithBusyTimeout(ms))
	}
	if v := vals.Get("vfs"); v != "" {
		opts = append(opts, WithVfs(v))
	}
	return path, opts, nil
}

// driverBindings converts database/sql named values into the cursor's
// bindings shape: a name map when any value is named, an ordered slice
// otherwise. Coercions the engine has no type for (bool, time.Time) happen
// here, at the driver boundary.
func driverBindings(args []driver.NamedValue) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	hasNamed := false
	for _, nv := range args {
		if nv.Name != "" {
			hasNamed = true
			break
		}
	}
	if hasNamed {
		m := make(map[string]any, len(args))
		for _, nv := range args {
			if nv.Name == "" {
				return nil, fmt.Errorf("%w: cannot mix named and ordinal parameters", ErrBindings)
			}
			m[nv.Name] = coerceDriverValue(nv.Value)
		}
		return m, nil
	}
	out := make([]any, len(args))
	for i, nv := range args {
		pos := nv.Ordinal
		if pos <= 0 {
			pos = i + 1
		}
		if pos > len(out) {
			return nil, fmt.Errorf("%w: ordinal %d out of range", ErrBindings, pos)
		}
		out[pos-1] = coerceDriverValue(nv.Value)
	}
	return out, nil
}

func coerceDriverValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return v
	}
}

// isTimeColumn checks if the column declared type indicates a time/date
// column. Matches the behavior of github.com/mattn/go-sqlite3.
func isTimeColumn(decltype string) bool {
	if decltype == "" {
		return false
	}
	upper := strings.ToUpper(decltype)
	return upper == "TIMESTAMP" || upper == "DATETIME" || upper == "DATE"
}

// StrataTimestampFormats are the timestamp layouts recognized when decoding
// TEXT values of time columns, most specific first.
var StrataTimestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTimeString attempts to parse a string as a time.Time value.
func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	for _, format := range StrataTimestampFormats {
		if t, err := time.ParseInLocation(format, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}
