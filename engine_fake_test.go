package strata

import (
	"strconv"
	"strings"
)

// fakeEngine is a tiny in-memory interpreter behind the engine interface. It
// understands just enough SQL shapes for the cache and cursor tests:
//
//	CREATE TABLE name (col TYPE, ...)
//	INSERT INTO name VALUES (expr, ...)
//	SELECT expr, ...            -- one row echoing the exprs
//	SELECT * FROM name          -- all rows of name
//	FAILSTEP <code>             -- Step fails with that engine code
//	BEGIN / COMMIT / ROLLBACK   -- no-ops
//
// exprs are ?, :name, @name, $name placeholders, NULL, numbers and 'strings'.
// It also counts compiles, resets and finalizes, and can inject failures per
// statement text, which is what the cache tests lean on.
type fakeEngine struct {
	tables map[string]*fakeTable

	compiles  map[string]int // per full script text handed to PrepareFirst
	finalizes int
	live      int // compiled and not yet finalized

	failPrepare map[string]error // script text -> error
	failReset   map[string]error // statement text -> error
}

type fakeTable struct {
	cols []fakeCol
	rows [][]any
}

type fakeCol struct {
	name     string
	decltype string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		tables:      make(map[string]*fakeTable),
		compiles:    make(map[string]int),
		failPrepare: make(map[string]error),
		failReset:   make(map[string]error),
	}
}

func (e *fakeEngine) PrepareFirst(sql string) (engineStmt, int, error) {
	e.compiles[sql]++
	if err := e.failPrepare[sql]; err != nil {
		return nil, 0, err
	}
	text, tail := splitFirstStatement(sql)
	if strings.TrimSpace(text) == "" {
		return nil, 0, &EngineError{Code: STRATA_ERROR, Message: "empty statement"}
	}
	stmt := &fakeStmt{eng: e, text: strings.TrimSpace(text), params: scanPlaceholders(text)}
	stmt.bound = make([]any, len(stmt.params))
	if err := stmt.resolveColumns(); err != nil {
		return nil, 0, err
	}
	e.live++
	return stmt, tail, nil
}

// splitFirstStatement returns the first statement including its terminating
// semicolon and the byte offset where the remainder starts.
func splitFirstStatement(sql string) (string, int) {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				return sql[:i+1], i + 1
			}
		}
	}
	return sql, len(sql)
}

// scanPlaceholders collects parameter slots in textual order: "" for ?, the
// sigil-prefixed name otherwise.
func scanPlaceholders(text string) []string {
	var params []string
	inString := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch == '\'' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '?':
			params = append(params, "")
		case ':', '@', '$':
			j := i + 1
			for j < len(text) && (isWordByte(text[j])) {
				j++
			}
			if j > i+1 {
				params = append(params, text[i:j])
				i = j - 1
			}
		}
	}
	return params
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

type fakeStmt struct {
	eng    *fakeEngine
	text   string
	params []string
	bound  []any

	cols []fakeCol

	executed  bool
	rows      [][]any
	rowIdx    int
	finalized bool
}

// resolveColumns fills in the result shape that is known at compile time, so
// Description works before the first Step.
func (s *fakeStmt) resolveColumns() error {
	verb, rest := splitVerb(s.text)
	switch verb {
	case "SELECT":
		if table, ok := strings.CutPrefix(rest, "* FROM "); ok {
			t := s.eng.tables[tableName(table)]
			if t == nil {
				return &EngineError{Code: STRATA_ERROR, Message: "no such table: " + tableName(table)}
			}
			s.cols = t.cols
			return nil
		}
		for _, expr := range splitArgs(strings.TrimSuffix(rest, ";")) {
			s.cols = append(s.cols, fakeCol{name: expr})
		}
	}
	return nil
}

func (s *fakeStmt) Step() (bool, error) {
	if s.finalized {
		return false, &EngineError{Code: STRATA_MISUSE, Message: "step after finalize"}
	}
	if !s.executed {
		if err := s.execute(); err != nil {
			return false, err
		}
		s.executed = true
	}
	if s.rowIdx < len(s.rows) {
		s.rowIdx++
		return true, nil
	}
	return false, nil
}

func (s *fakeStmt) execute() error {
	verb, rest := splitVerb(s.text)
	switch verb {
	case "CREATE":
		name, defs, err := cutParens(rest[len("TABLE "):])
		if err != nil {
			return err
		}
		t := &fakeTable{}
		for _, def := range splitArgs(defs) {
			col := fakeCol{name: def}
			if sp := strings.IndexByte(def, ' '); sp >= 0 {
				col.name, col.decltype = def[:sp], strings.TrimSpace(def[sp+1:])
			}
			t.cols = append(t.cols, col)
		}
		s.eng.tables[tableName(name)] = t
		return nil
	case "INSERT":
		name, vals, err := cutParens(rest[len("INTO "):])
		if err != nil {
			return err
		}
		name = strings.TrimSuffix(strings.TrimSpace(name), "VALUES")
		t := s.eng.tables[tableName(name)]
		if t == nil {
			return &EngineError{Code: STRATA_ERROR, Message: "no such table: " + tableName(name)}
		}
		row, err := s.resolveArgs(splitArgs(vals))
		if err != nil {
			return err
		}
		t.rows = append(t.rows, row)
		return nil
	case "SELECT":
		if table, ok := strings.CutPrefix(rest, "* FROM "); ok {
			t := s.eng.tables[tableName(table)]
			if t == nil {
				return &EngineError{Code: STRATA_ERROR, Message: "no such table: " + tableName(table)}
			}
			s.rows = append([][]any(nil), t.rows...)
			return nil
		}
		row, err := s.resolveArgs(splitArgs(strings.TrimSuffix(rest, ";")))
		if err != nil {
			return err
		}
		s.rows = [][]any{row}
		return nil
	case "FAILSTEP":
		code, _ := strconv.Atoi(strings.TrimSuffix(rest, ";"))
		return &EngineError{Code: StrataStatusCode(code), Message: "injected step failure"}
	case "BEGIN", "COMMIT", "ROLLBACK":
		return nil
	default:
		return &EngineError{Code: STRATA_ERROR, Message: "unsupported statement: " + s.text}
	}
}

// resolveArgs evaluates the expr list; placeholders consume bound values in
// textual order.
func (s *fakeStmt) resolveArgs(args []string) ([]any, error) {
	param := 0
	out := make([]any, 0, len(args))
	for _, arg := range args {
		switch {
		case arg == "?" || strings.IndexAny(arg, ":@$") == 0:
			out = append(out, s.bound[param])
			param++
		case strings.EqualFold(arg, "NULL"):
			out = append(out, nil)
		case strings.HasPrefix(arg, "'"):
			out = append(out, strings.Trim(arg, "'"))
		case strings.ContainsAny(arg, ".eE"):
			f, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return nil, &EngineError{Code: STRATA_ERROR, Message: "bad literal: " + arg}
			}
			out = append(out, f)
		default:
			n, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return nil, &EngineError{Code: STRATA_ERROR, Message: "bad literal: " + arg}
			}
			out = append(out, n)
		}
	}
	return out, nil
}

// Reset matches the engine ABI: it rewinds the statement and clears bindings.
func (s *fakeStmt) Reset() error {
	if err := s.eng.failReset[s.text]; err != nil {
		return err
	}
	s.executed = false
	s.rows = nil
	s.rowIdx = 0
	for i := range s.bound {
		s.bound[i] = nil
	}
	return nil
}

func (s *fakeStmt) Finalize() error {
	if s.finalized {
		return &EngineError{Code: STRATA_MISUSE, Message: "double finalize"}
	}
	s.finalized = true
	s.eng.finalizes++
	s.eng.live--
	return nil
}

func (s *fakeStmt) BindParameterCount() int { return len(s.params) }

func (s *fakeStmt) BindParameterName(i int) string { return s.params[i-1] }

func (s *fakeStmt) setBound(i int, v any) error {
	if i < 1 || i > len(s.bound) {
		return &EngineError{Code: STRATA_RANGE, Message: "bind index out of range"}
	}
	s.bound[i-1] = v
	return nil
}

func (s *fakeStmt) BindNull(i int) error { return s.setBound(i, nil) }
func (s *fakeStmt) BindInt64(i int, v int64) error { return s.setBound(i, v) }
func (s *fakeStmt) BindDouble(i int, v float64) error { return s.setBound(i, v) }
func (s *fakeStmt) BindText(i int, v string) error { return s.setBound(i, v) }
func (s *fakeStmt) BindBlob(i int, v []byte) error { return s.setBound(i, append([]byte(nil), v...)) }
func (s *fakeStmt) BindZeroBlob(i int, n int64) error { return s.setBound(i, make([]byte, n)) }

func (s *fakeStmt) ColumnCount() int { return len(s.cols) }

func (s *fakeStmt) ColumnName(i int) string { return s.cols[i].name }

func (s *fakeStmt) ColumnDeclType(i int) string { return s.cols[i].decltype }

func (s *fakeStmt) ColumnValue(i int) (any, error) {
	if s.rowIdx == 0 || s.rowIdx > len(s.rows) {
		return nil, &EngineError{Code: STRATA_MISUSE, Message: "no current row"}
	}
	row := s.rows[s.rowIdx-1]
	if i < 0 || i >= len(row) {
		return nil, &EngineError{Code: STRATA_RANGE, Message: "column index out of range"}
	}
	return row[i], nil
}

// Helpers

func splitVerb(text string) (string, string) {
	text = strings.TrimSpace(text)
	sp := strings.IndexByte(text, ' ')
	if sp < 0 {
		return strings.ToUpper(strings.TrimSuffix(text, ";")), ""
	}
	return strings.ToUpper(text[:sp]), strings.TrimSpace(text[sp+1:])
}

func tableName(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";")), ")")
}

// cutParens splits "head (inner)" into head and inner.
func cutParens(s string) (string, string, error) {
	open := strings.IndexByte(s, '(')
	close := strings.LastIndexByte(s, ')')
	if open < 0 || close < open {
		return "", "", &EngineError{Code: STRATA_ERROR, Message: "malformed statement: " + s}
	}
	return strings.TrimSpace(s[:open]), s[open+1 : close], nil
}

func splitArgs(s string) []string {
	var args []string
	depth := 0
	inString := false
	start := 0
	flush := func(end int) {
		if a := strings.TrimSpace(s[start:end]); a != "" {
			args = append(args, a)
		}
		start = end + 1
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inString = !inString
		case '(':
			if !inString {
				depth++
			}
		case ')':
			if !inString {
				depth--
			}
		case ',':
			if !inString && depth == 0 {
				flush(i)
			}
		}
	}
	flush(len(s))
	return args
}

// newTestConnection builds a connection over a fake engine with the given
// cache capacity, bypassing the native library entirely.
func newTestConnection(eng *fakeEngine, cacheSize int) *Connection {
	return newConnection(eng, cacheSize)
}
