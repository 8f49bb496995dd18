package strata

import (
	"sync"
	"sync/atomic"
)

// DefaultBusyTimeout is the busy timeout in milliseconds applied to new
// connections unless configured otherwise.
const DefaultBusyTimeout = 5000

// DefaultStatementCacheSize bounds the per-connection statement cache unless
// configured otherwise. Zero disables caching.
const DefaultStatementCacheSize = 100

type openConfig struct {
	cacheSize   int
	flags       int
	vfs         string
	busyTimeout int
}

// Option configures Open.
type Option func(*openConfig)

// WithStatementCacheSize bounds the connection's compiled-statement cache;
// zero disables caching entirely.
func WithStatementCacheSize(n int) Option {
	return func(c *openConfig) {
		if n < 0 {
			n = 0
		}
		c.cacheSize = n
	}
}

// WithFlags sets the STRATA_OPEN_* flags used to open the database.
func WithFlags(flags int) Option {
	return func(c *openConfig) { c.flags = flags }
}

// WithVfs selects a registered VFS by name.
func WithVfs(name string) Option {
	return func(c *openConfig) { c.vfs = name }
}

// WithBusyTimeout sets the busy timeout in milliseconds. Use 0 to disable the
// busy handler, -1 for the default (DefaultBusyTimeout).
func WithBusyTimeout(ms int) Option {
	return func(c *openConfig) { c.busyTimeout = ms }
}

// Connection is one connection to a database. It owns the statement cache
// shared by its cursors and tracks every live cursor so a close cascades to
// all of them before native resources are released.
type Connection struct {
	db   StrataDatabase
	conn StrataConnection
	eng  engine

	cache *StatementCache

	mu          sync.Mutex
	cursors     map[*Cursor]struct{}
	scalarFuncs map[string]*scalarFunc
	closed      bool
	busyTimeout int

	inUse atomic.Bool
}

// Open opens (creating if necessary) the database at path, which may also be
// ":memory:".
func Open(path string, opts ...Option) (*Connection, error) {
	if err := InitLibrary(); err != nil {
		return nil, err
	}
	cfg := openConfig{
		cacheSize:   DefaultStatementCacheSize,
		busyTimeout: -1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := strata_database_new(StrataDatabaseConfig{
		Path:  path,
		Vfs:   cfg.vfs,
		Flags: cfg.flags,
	})
	if err != nil {
		return nil, err
	}
	if err := strata_database_open(db); err != nil {
		strata_database_deinit(db)
		return nil, err
	}
	nconn, err := strata_database_connect(db)
	if err != nil {
		strata_database_deinit(db)
		return nil, err
	}

	timeout := cfg.busyTimeout
	if timeout < 0 {
		timeout = DefaultBusyTimeout
	}
	if timeout > 0 {
		strata_connection_set_busy_timeout_ms(nconn, int64(timeout))
	}

	c := newConnection(&nativeEngine{conn: nconn}, cfg.cacheSize)
	c.db = db
	c.conn = nconn
	c.busyTimeout = timeout
	return c, nil
}

// newConnection wires a connection over any engine implementation. Open uses
// the native engine; tests substitute a scripted one.
func newConnection(eng engine, cacheSize int) *Connection {
	return &Connection{
		eng:         eng,
		cache:       newStatementCache(eng, cacheSize),
		cursors:     make(map[*Cursor]struct{}),
		scalarFuncs: make(map[string]*scalarFunc),
	}
}

// Cursor creates a new cursor on this connection.
func (c *Connection) Cursor() (*Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	cur := &Cursor{conn: c, status: statusDone}
	c.cursors[cur] = struct{}{}
	return cur, nil
}

// Close closes the connection: every live cursor is closed first, then the
// statement cache finalizes its resident statements, then the native handles
// are released. Without force, an unfinished cursor aborts the close with its
// error; with force, cursor state is discarded unconditionally.
func (c *Connection) Close(force bool) error {
	if !c.inUse.CompareAndSwap(false, true) {
		return ErrThreadingViolation
	}
	defer c.inUse.Store(false)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	deps := make([]*Cursor, 0, len(c.cursors))
	for cur := range c.cursors {
		deps = append(deps, cur)
	}
	c.mu.Unlock()

	for _, cur := range deps {
		if err := cur.Close(force); err != nil && !force {
			return err
		}
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var firstErr error
	if err := c.cache.shutdown(); err != nil && !force {
		firstErr = err
	}
	if c.conn != nil {
		if err := strata_connection_close(c.conn); err != nil && !force && firstErr == nil {
			firstErr = err
		}
		strata_connection_deinit(c.conn)
		c.conn = nil
	}
	if c.db != nil {
		strata_database_deinit(c.db)
		c.db = nil
	}
	return firstErr
}

func (c *Connection) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return nil
}

func (c *Connection) removeCursor(cur *Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, cur)
}

// Interrupt causes the next engine step on this connection to fail with an
// interrupt error. It is the one operation that is safe to call from another
// goroutine while the connection is busy.
func (c *Connection) Interrupt() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		strata_connection_interrupt(conn)
	}
}

// LastInsertRowID reports the rowid of the most recent successful insert.
func (c *Connection) LastInsertRowID() (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return strata_connection_last_insert_rowid(c.conn), nil
}

// Changes reports the number of rows changed by the most recently completed
// statement.
func (c *Connection) Changes() (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return strata_connection_changes(c.conn), nil
}

// TotalChanges reports the number of rows changed since the connection was
// opened.
func (c *Connection) TotalChanges() (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return strata_connection_total_changes(c.conn), nil
}

// GetAutocommit reports whether the connection is in autocommit mode.
func (c *Connection) GetAutocommit() (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	return strata_connection_get_autocommit(c.conn), nil
}

// SetBusyTimeout sets the busy timeout for this connection in milliseconds.
// Pass 0 to disable the busy handler (immediate busy error on contention).
func (c *Connection) SetBusyTimeout(timeoutMs int) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if timeoutMs < 0 {
		timeoutMs = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	strata_connection_set_busy_timeout_ms(c.conn, int64(timeoutMs))
	c.busyTimeout = timeoutMs
	return nil
}

// GetBusyTimeout returns the current busy timeout in milliseconds.
func (c *Connection) GetBusyTimeout() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyTimeout
}
