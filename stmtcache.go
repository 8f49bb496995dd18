package strata

import (
	"container/list"
	"sync"
)

// stmtOrigin records how a compiled statement must be released: back into its
// cache slot, or finalized outright. Modeled as a variant so the release path
// branches exhaustively instead of consulting a scattered flag.
type stmtOrigin int

const (
	// originCached statements were checked out of (or compiled for) a cache
	// slot and are returned to it on release.
	originCached stmtOrigin = iota
	// originTransient statements are never cached: reentrant duplicates of a
	// checked-out key, statements compiled while caching is disabled, and
	// non-first statements handed out after the cache shut down.
	originTransient
)

// CompiledStatement wraps one native prepared-statement handle together with
// the exact script text it was compiled from and the remainder of that script.
// It is owned exclusively by whichever cache slot or cursor currently holds it
// and is destroyed only by explicit finalization.
type CompiledStatement struct {
	h      engineStmt
	key    string // full script text used as the cache key
	query  string // source slice of this statement
	next   string // remainder of the script after this statement; "" if last
	origin stmtOrigin
}

type slotState int

const (
	slotIdle slotState = iota
	slotCheckedOut
)

type cacheEntry struct {
	key   string
	state slotState
	stmt  *CompiledStatement // non-nil only while idle
	elem  *list.Element      // position in the LRU list while idle
}

// StatementCache hands out at most one live compiled statement per script
// text at a time and keeps up to capacity idle statements resident to skip
// recompilation. It is shared by all cursors of one connection; the mutex
// covers interleaved (reentrant) use from multiple cursors, not parallel
// goroutines, which the cursor-level guards already exclude.
type StatementCache struct {
	eng      engine
	capacity int

	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List // idle entries, most recently used at the front
	closed  bool
}

func newStatementCache(eng engine, capacity int) *StatementCache {
	if capacity < 0 {
		capacity = 0
	}
	return &StatementCache{
		eng:      eng,
		capacity: capacity,
		entries:  make(map[string]*cacheEntry),
		lru:      list.New(),
	}
}

// prepare returns a compiled statement for the exact script text. A resident
// idle statement is checked out without recompilation; a miss, a reentrant
// prepare of a checked-out key, or a disabled cache compiles fresh. The
// reentrant path marks the result transient so the same native handle is
// never live at two call sites.
func (c *StatementCache) prepare(sql string) (*CompiledStatement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[sql]
	if e != nil && e.state == slotIdle {
		e.state = slotCheckedOut
		c.lru.Remove(e.elem)
		e.elem = nil
		stmt := e.stmt
		e.stmt = nil
		return stmt, nil
	}

	h, tail, err := c.eng.PrepareFirst(sql)
	if err != nil {
		return nil, err
	}

	stmt := &CompiledStatement{h: h, key: sql}
	if tail > 0 && tail <= len(sql) {
		stmt.query = sql[:tail]
		if rem := sql[tail:]; hasMoreStatements(rem) {
			stmt.next = rem
		}
	} else {
		stmt.query = sql
	}

	switch {
	case c.closed || c.capacity == 0:
		stmt.origin = originTransient
	case e != nil:
		// Key already checked out; this duplicate must not be cached.
		stmt.origin = originTransient
	default:
		c.entries[sql] = &cacheEntry{key: sql, state: slotCheckedOut}
		stmt.origin = originCached
	}
	return stmt, nil
}

// release returns a checked-out statement. Transient statements and discarded
// ones are finalized; cached ones are reset and re-inserted, evicting the
// least recently used idle entry beyond capacity. A reset failure discards
// the statement and reports the reset error; the finalize error after it is
// secondary and dropped.
func (c *StatementCache) release(stmt *CompiledStatement, discard bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch stmt.origin {
	case originTransient:
		return stmt.h.Finalize()
	case originCached:
		e := c.entries[stmt.key]
		if c.closed || e == nil {
			// Cache shut down while this statement was checked out.
			return stmt.h.Finalize()
		}
		if discard {
			delete(c.entries, stmt.key)
			return stmt.h.Finalize()
		}
		if err := stmt.h.Reset(); err != nil {
			delete(c.entries, stmt.key)
			_ = stmt.h.Finalize()
			return err
		}
		e.state = slotIdle
		e.stmt = stmt
		e.elem = c.lru.PushFront(e)

		var evictErr error
		for c.lru.Len() > c.capacity {
			back := c.lru.Back()
			ev := back.Value.(*cacheEntry)
			c.lru.Remove(back)
			delete(c.entries, ev.key)
			if err := ev.stmt.h.Finalize(); err != nil && evictErr == nil {
				evictErr = err
			}
		}
		return evictErr
	}
	return nil
}

// shutdown finalizes every idle cached statement. Statements still checked
// out are disowned here and finalized by their eventual release. Called once
// when the owning connection closes.
func (c *StatementCache) shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*cacheEntry)
		if err := e.stmt.h.Finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.lru.Init()
	c.entries = make(map[string]*cacheEntry)
	return firstErr
}

// residentCount reports how many idle statements the cache holds.
func (c *StatementCache) residentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// hasMoreStatements reports whether the script remainder contains anything
// beyond whitespace, semicolons and SQL comments.
func hasMoreStatements(rem string) bool {
	i := 0
	for i < len(rem) {
		switch ch := rem[i]; {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\v' || ch == '\f' || ch == ';':
			i++
		case ch == '-' && i+1 < len(rem) && rem[i+1] == '-':
			for i < len(rem) && rem[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(rem) && rem[i+1] == '*':
			i += 2
			for i+1 < len(rem) && !(rem[i] == '*' && rem[i+1] == '/') {
				i++
			}
			if i+1 >= len(rem) {
				return false // unterminated comment, nothing executable
			}
			i += 2
		default:
			return true
		}
	}
	return false
}
