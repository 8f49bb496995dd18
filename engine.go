package strata

// engine abstracts the native calls the statement cache and cursor layer
// perform. The production implementation wraps the loaded engine library;
// tests substitute a scripted implementation, which is also the seam for
// fault injection.
type engine interface {
	// PrepareFirst compiles the first statement of sql and reports the byte
	// offset of the remainder of the script.
	PrepareFirst(sql string) (stmt engineStmt, tail int, err error)
}

// engineStmt is one compiled native statement. Bind and column indexes are
// 1-based and 0-based respectively, matching the engine ABI.
type engineStmt interface {
	// Step returns true when a result row is available, false on completion.
	Step() (hasRow bool, err error)
	Reset() error
	Finalize() error

	BindParameterCount() int
	// BindParameterName returns the declared name of a slot including its
	// sigil, or the empty string for nameless parameters.
	BindParameterName(i int) string
	BindNull(i int) error
	BindInt64(i int, v int64) error
	BindDouble(i int, v float64) error
	BindText(i int, v string) error
	BindBlob(i int, v []byte) error
	BindZeroBlob(i int, n int64) error

	ColumnCount() int
	ColumnName(i int) string
	ColumnDeclType(i int) string
	// ColumnValue decodes the current row's column into nil, int64, float64,
	// string or []byte.
	ColumnValue(i int) (any, error)
}

// nativeEngine implements engine over a live connection handle.
type nativeEngine struct {
	conn StrataConnection
}

func (e *nativeEngine) PrepareFirst(sql string) (engineStmt, int, error) {
	stmt, tail, err := strata_connection_prepare_first(e.conn, sql)
	if err != nil {
		return nil, 0, e.enrich(err)
	}
	return &nativeStmt{h: stmt, conn: e.conn}, tail, nil
}

// enrich fills in the connection's extended error code and message when the
// wrapper-level error carries only a status code.
func (e *nativeEngine) enrich(err error) error {
	ee, ok := err.(*EngineError)
	if !ok {
		return err
	}
	if ext := strata_connection_extended_error_code(e.conn); ext != 0 {
		ee.ExtendedCode = ext
	}
	if msg := strata_connection_error_message(e.conn); msg != "" {
		ee.Message = msg
	}
	return ee
}

type nativeStmt struct {
	h    StrataStatement
	conn StrataConnection
}

func (s *nativeStmt) Step() (bool, error) {
	code, err := strata_statement_step(s.h)
	if err != nil {
		return false, (&nativeEngine{conn: s.conn}).enrich(err)
	}
	return code == STRATA_ROW, nil
}

func (s *nativeStmt) Reset() error {
	return strata_statement_reset(s.h)
}

func (s *nativeStmt) Finalize() error {
	err := strata_statement_finalize(s.h)
	strata_statement_deinit(s.h)
	return err
}

func (s *nativeStmt) BindParameterCount() int {
	return int(strata_statement_bind_parameter_count(s.h))
}

func (s *nativeStmt) BindParameterName(i int) string {
	return strata_statement_bind_parameter_name(s.h, i)
}

func (s *nativeStmt) BindNull(i int) error {
	return strata_statement_bind_positional_null(s.h, i)
}

func (s *nativeStmt) BindInt64(i int, v int64) error {
	return strata_statement_bind_positional_int(s.h, i, v)
}

func (s *nativeStmt) BindDouble(i int, v float64) error {
	return strata_statement_bind_positional_double(s.h, i, v)
}

func (s *nativeStmt) BindText(i int, v string) error {
	return strata_statement_bind_positional_text(s.h, i, v)
}

func (s *nativeStmt) BindBlob(i int, v []byte) error {
	return strata_statement_bind_positional_blob(s.h, i, v)
}

func (s *nativeStmt) BindZeroBlob(i int, n int64) error {
	return strata_statement_bind_positional_zeroblob(s.h, i, n)
}

func (s *nativeStmt) ColumnCount() int {
	return int(strata_statement_column_count(s.h))
}

func (s *nativeStmt) ColumnName(i int) string {
	return strata_statement_column_name(s.h, i)
}

func (s *nativeStmt) ColumnDeclType(i int) string {
	return strata_statement_column_decltype(s.h, i)
}

func (s *nativeStmt) ColumnValue(i int) (any, error) {
	switch kind := strata_statement_row_value_kind(s.h, i); kind {
	case STRATA_TYPE_NULL:
		return nil, nil
	case STRATA_TYPE_INTEGER:
		return strata_statement_row_value_int(s.h, i), nil
	case STRATA_TYPE_REAL:
		return strata_statement_row_value_double(s.h, i), nil
	case STRATA_TYPE_TEXT:
		return strata_statement_row_value_text(s.h, i), nil
	case STRATA_TYPE_BLOB:
		return strata_statement_row_value_bytes(s.h, i), nil
	default:
		return nil, &EngineError{Code: STRATA_MISMATCH, Message: "unknown value kind"}
	}
}
