package strata

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// define all necessary constants first

// StrataStatusCode is the engine status/result code. STRATA_OK, STRATA_ROW and
// STRATA_DONE are statuses; everything else is an error code. The low byte is
// the primary code, higher bits carry the extended code.
type StrataStatusCode int32

const (
	STRATA_OK         StrataStatusCode = 0
	STRATA_ERROR      StrataStatusCode = 1
	STRATA_INTERNAL   StrataStatusCode = 2
	STRATA_PERM       StrataStatusCode = 3
	STRATA_ABORT      StrataStatusCode = 4
	STRATA_BUSY       StrataStatusCode = 5
	STRATA_LOCKED     StrataStatusCode = 6
	STRATA_NOMEM      StrataStatusCode = 7
	STRATA_READONLY   StrataStatusCode = 8
	STRATA_INTERRUPT  StrataStatusCode = 9
	STRATA_IOERR      StrataStatusCode = 10
	STRATA_CORRUPT    StrataStatusCode = 11
	STRATA_NOTFOUND   StrataStatusCode = 12
	STRATA_FULL       StrataStatusCode = 13
	STRATA_CANTOPEN   StrataStatusCode = 14
	STRATA_SCHEMA     StrataStatusCode = 17
	STRATA_TOOBIG     StrataStatusCode = 18
	STRATA_CONSTRAINT StrataStatusCode = 19
	STRATA_MISMATCH   StrataStatusCode = 20
	STRATA_MISUSE     StrataStatusCode = 21
	STRATA_RANGE      StrataStatusCode = 25
	STRATA_NOTADB     StrataStatusCode = 26
	STRATA_ROW        StrataStatusCode = 100
	STRATA_DONE       StrataStatusCode = 101
)

// Primary returns the primary code with extended bits masked off.
func (c StrataStatusCode) Primary() StrataStatusCode { return c & 0xff }

type StrataType int32

const (
	STRATA_TYPE_UNKNOWN StrataType = 0
	STRATA_TYPE_INTEGER StrataType = 1
	STRATA_TYPE_REAL    StrataType = 2
	STRATA_TYPE_TEXT    StrataType = 3
	STRATA_TYPE_BLOB    StrataType = 4
	STRATA_TYPE_NULL    StrataType = 5
)

type StrataTracingLevel int32

const (
	STRATA_TRACING_LEVEL_ERROR StrataTracingLevel = 1
	STRATA_TRACING_LEVEL_WARN  StrataTracingLevel = 2
	STRATA_TRACING_LEVEL_INFO  StrataTracingLevel = 3
	STRATA_TRACING_LEVEL_DEBUG StrataTracingLevel = 4
	STRATA_TRACING_LEVEL_TRACE StrataTracingLevel = 5
)

// define opaque pointers as-is and accept them as exact arguments
type strata_database_t struct{}
type strata_connection_t struct{}
type strata_statement_t struct{}
type strata_context_t struct{}
type strata_value_t struct{}

type StrataDatabase *strata_database_t
type StrataConnection *strata_connection_t
type StrataStatement *strata_statement_t
type StrataContext *strata_context_t
type StrataValue *strata_value_t

// define all public binding types
// the public binding types MUST have fields with native safe go types

// StrataLog is one log event emitted by the engine.
type StrataLog struct {
	Message   string
	Target    string
	File      string
	Timestamp uint64
	Line      uint
	Level     StrataTracingLevel
}

// StrataLogger receives engine log events. All string fields in StrataLog are
// copied and safe to use beyond the callback return.
type StrataLogger func(log StrataLog)

// StrataConfig is the process-wide engine configuration passed to Setup.
type StrataConfig struct {
	Logger   StrataLogger
	LogLevel string
}

// StrataDatabaseConfig describes one database to open.
type StrataDatabaseConfig struct {
	// Path to the database file or ":memory:"
	Path string
	// Optional VFS name; empty selects the engine default
	Vfs string
	// Open flags (STRATA_OPEN_* values or'd together); 0 selects read-write|create
	Flags int
	// Busy timeout in milliseconds applied right after connect; 0 keeps the
	// engine default, negative disables the busy handler
	BusyTimeout int
}

// Open flags accepted by StrataDatabaseConfig.Flags.
const (
	STRATA_OPEN_READONLY  = 0x0001
	STRATA_OPEN_READWRITE = 0x0002
	STRATA_OPEN_CREATE    = 0x0004
	STRATA_OPEN_URI       = 0x0040
	STRATA_OPEN_MEMORY    = 0x0080
)

// define all necessary private C structs
// private C structs MUST have fields with low level types (e.g. uintptr, numbers)
type strata_status_code_t int32
type strata_type_t int32

// Used only for reading callback payloads.
type c_strata_log_t struct {
	Message   uintptr // const char*
	Target    uintptr // const char*
	File      uintptr // const char*
	Timestamp uint64
	Line      uintptr // size_t
	Level     int32   // strata_tracing_level_t
	_         [4]byte // padding to match C alignment (ensure 8-byte struct alignment)
}

type c_strata_config_t struct {
	Logger   uintptr // void (*)(const strata_log_t*)
	LogLevel uintptr // const char*
}

type c_strata_database_config_t struct {
	Path  uintptr // const char*
	Vfs   uintptr // const char* | NULL
	Flags int32   // int
	_     [4]byte // padding to 8-byte alignment
}

// then, define C extern methods
var (
	// always use c_ structs here - never mix them with exported public types
	c_strata_setup func(
		config unsafe.Pointer,
		errorOptOut unsafe.Pointer,
	) strata_status_code_t

	c_strata_database_new func(
		config unsafe.Pointer, // const strata_database_config_t*
		database unsafe.Pointer, // strata_database_t**
		errorOptOut unsafe.Pointer, // const char**
	) strata_status_code_t

	c_strata_database_open func(
		database unsafe.Pointer, // const strata_database_t*
		errorOptOut unsafe.Pointer, // const char**
	) strata_status_code_t

	c_strata_database_connect func(
		self unsafe.Pointer, // const strata_database_t*
		connection unsafe.Pointer, // strata_connection_t**
		errorOptOut unsafe.Pointer, // const char**
	) strata_status_code_t

	c_strata_connection_close func(
		self unsafe.Pointer, // const strata_connection_t*
		errorOptOut unsafe.Pointer, // const char**
	) strata_status_code_t

	c_strata_connection_get_autocommit func(
		self unsafe.Pointer, // const strata_connection_t*
	) bool

	c_strata_connection_last_insert_rowid func(
		self unsafe.Pointer,
	) int64

	c_strata_connection_changes func(
		self unsafe.Pointer,
	) int64

	c_strata_connection_total_changes func(
		self unsafe.Pointer,
	) int64

	c_strata_connection_set_busy_timeout_ms func(
		self unsafe.Pointer,
		timeoutMs int64,
	)

	c_strata_connection_interrupt func(
		self unsafe.Pointer,
	)

	c_strata_connection_error_code func(
		self unsafe.Pointer,
	) strata_status_code_t

	c_strata_connection_extended_error_code func(
		self unsafe.Pointer,
	) int32

	c_strata_connection_error_message func(
		self unsafe.Pointer,
	) unsafe.Pointer // const char*

	c_strata_connection_prepare_first func(
		self unsafe.Pointer, // const strata_connection_t*
		sql string, // const char*
		statement unsafe.Pointer, // strata_statement_t**
		tailIdx unsafe.Pointer, // size_t*
		errorOptOut unsafe.Pointer, // const char**
	) strata_status_code_t

	c_strata_connection_register_scalar func(
		self unsafe.Pointer, // const strata_connection_t*
		name string, // const char*
		nargs int32,
		callback uintptr, // void (*)(strata_context_t*, int, strata_value_t**)
		errorOptOut unsafe.Pointer, // const char**
	) strata_status_code_t

	c_strata_connection_unregister_scalar func(
		self unsafe.Pointer,
		name string,
		errorOptOut unsafe.Pointer,
	) strata_status_code_t

	c_strata_statement_step func(
		self unsafe.Pointer, // const strata_statement_t*
		errorOptOut unsafe.Pointer, // const char**
	) strata_status_code_t

	c_strata_statement_reset func(
		self unsafe.Pointer,
		errorOptOut unsafe.Pointer,
	) strata_status_code_t

	c_strata_statement_finalize func(
		self unsafe.Pointer,
		errorOptOut unsafe.Pointer,
	) strata_status_code_t

	c_strata_statement_bind_parameter_count func(
		self unsafe.Pointer,
	) int64

	c_strata_statement_bind_parameter_name func(
		self unsafe.Pointer,
		index uintptr, // size_t, 1-based
	) unsafe.Pointer // const char* | NULL

	c_strata_statement_bind_positional_null func(
		self unsafe.Pointer,
		position uintptr, // size_t
	) strata_status_code_t

	c_strata_statement_bind_positional_int func(
		self unsafe.Pointer,
		position uintptr,
		value int64,
	) strata_status_code_t

	c_strata_statement_bind_positional_double func(
		self unsafe.Pointer,
		position uintptr,
		value float64,
	) strata_status_code_t

	c_strata_statement_bind_positional_text func(
		self unsafe.Pointer,
		position uintptr,
		ptr string, // const char*
		len uintptr, // size_t
	) strata_status_code_t

	c_strata_statement_bind_positional_blob func(
		self unsafe.Pointer,
		position uintptr,
		ptr unsafe.Pointer, // const uint8_t*
		len uintptr, // size_t
	) strata_status_code_t

	c_strata_statement_bind_positional_zeroblob func(
		self unsafe.Pointer,
		position uintptr,
		len int64,
	) strata_status_code_t

	c_strata_statement_column_count func(
		self unsafe.Pointer,
	) int64

	c_strata_statement_column_name func(
		self unsafe.Pointer,
		index uintptr, // size_t
	) unsafe.Pointer // const char*

	c_strata_statement_column_decltype func(
		self unsafe.Pointer,
		index uintptr,
	) unsafe.Pointer // const char* | NULL

	c_strata_statement_row_value_kind func(
		self unsafe.Pointer,
		index uintptr,
	) strata_type_t

	c_strata_statement_row_value_int func(
		self unsafe.Pointer,
		index uintptr,
	) int64

	c_strata_statement_row_value_double func(
		self unsafe.Pointer,
		index uintptr,
	) float64

	c_strata_statement_row_value_bytes_count func(
		self unsafe.Pointer,
		index uintptr,
	) int64

	c_strata_statement_row_value_bytes_ptr func(
		self unsafe.Pointer,
		index uintptr,
	) unsafe.Pointer // const char*

	c_strata_context_result_null func(
		self unsafe.Pointer, // strata_context_t*
	)

	c_strata_context_result_int func(
		self unsafe.Pointer,
		value int64,
	)

	c_strata_context_result_double func(
		self unsafe.Pointer,
		value float64,
	)

	c_strata_context_result_text func(
		self unsafe.Pointer,
		ptr string, // const char*
		len uintptr, // size_t
	)

	c_strata_context_result_blob func(
		self unsafe.Pointer,
		ptr unsafe.Pointer, // const uint8_t*
		len uintptr, // size_t
	)

	c_strata_context_result_error func(
		self unsafe.Pointer,
		msg string, // const char*
	)

	c_strata_value_kind func(
		self unsafe.Pointer, // const strata_value_t*
	) strata_type_t

	c_strata_value_int func(
		self unsafe.Pointer,
	) int64

	c_strata_value_double func(
		self unsafe.Pointer,
	) float64

	c_strata_value_bytes_count func(
		self unsafe.Pointer,
	) int64

	c_strata_value_bytes_ptr func(
		self unsafe.Pointer,
	) unsafe.Pointer

	c_strata_version func() unsafe.Pointer // const char*, static storage

	c_strata_memory_used func() int64

	c_strata_randomness func(
		ptr unsafe.Pointer, // uint8_t*
		len uintptr, // size_t
	)

	c_strata_str_deinit func(
		self unsafe.Pointer, // const char*
	)

	c_strata_database_deinit func(
		self unsafe.Pointer, // const strata_database_t*
	)

	c_strata_connection_deinit func(
		self unsafe.Pointer, // const strata_connection_t*
	)

	c_strata_statement_deinit func(
		self unsafe.Pointer, // const strata_statement_t*
	)
)

// implement a function to register extern methods from loaded lib
// DO NOT load lib - as it will be done externally
func register_strata_db(handle uintptr) error {
	purego.RegisterLibFunc(&c_strata_setup, handle, "strata_setup")
	purego.RegisterLibFunc(&c_strata_database_new, handle, "strata_database_new")
	purego.RegisterLibFunc(&c_strata_database_open, handle, "strata_database_open")
	purego.RegisterLibFunc(&c_strata_database_connect, handle, "strata_database_connect")
	purego.RegisterLibFunc(&c_strata_connection_close, handle, "strata_connection_close")
	purego.RegisterLibFunc(&c_strata_connection_get_autocommit, handle, "strata_connection_get_autocommit")
	purego.RegisterLibFunc(&c_strata_connection_last_insert_rowid, handle, "strata_connection_last_insert_rowid")
	purego.RegisterLibFunc(&c_strata_connection_changes, handle, "strata_connection_changes")
	purego.RegisterLibFunc(&c_strata_connection_total_changes, handle, "strata_connection_total_changes")
	purego.RegisterLibFunc(&c_strata_connection_set_busy_timeout_ms, handle, "strata_connection_set_busy_timeout_ms")
	purego.RegisterLibFunc(&c_strata_connection_interrupt, handle, "strata_connection_interrupt")
	purego.RegisterLibFunc(&c_strata_connection_error_code, handle, "strata_connection_error_code")
	purego.RegisterLibFunc(&c_strata_connection_extended_error_code, handle, "strata_connection_extended_error_code")
	purego.RegisterLibFunc(&c_strata_connection_error_message, handle, "strata_connection_error_message")
	purego.RegisterLibFunc(&c_strata_connection_prepare_first, handle, "strata_connection_prepare_first")
	purego.RegisterLibFunc(&c_strata_connection_register_scalar, handle, "strata_connection_register_scalar")
	purego.RegisterLibFunc(&c_strata_connection_unregister_scalar, handle, "strata_connection_unregister_scalar")
	purego.RegisterLibFunc(&c_strata_statement_step, handle, "strata_statement_step")
	purego.RegisterLibFunc(&c_strata_statement_reset, handle, "strata_statement_reset")
	purego.RegisterLibFunc(&c_strata_statement_finalize, handle, "strata_statement_finalize")
	purego.RegisterLibFunc(&c_strata_statement_bind_parameter_count, handle, "strata_statement_bind_parameter_count")
	purego.RegisterLibFunc(&c_strata_statement_bind_parameter_name, handle, "strata_statement_bind_parameter_name")
	purego.RegisterLibFunc(&c_strata_statement_bind_positional_null, handle, "strata_statement_bind_positional_null")
	purego.RegisterLibFunc(&c_strata_statement_bind_positional_int, handle, "strata_statement_bind_positional_int")
	purego.RegisterLibFunc(&c_strata_statement_bind_positional_double, handle, "strata_statement_bind_positional_double")
	purego.RegisterLibFunc(&c_strata_statement_bind_positional_text, handle, "strata_statement_bind_positional_text")
	purego.RegisterLibFunc(&c_strata_statement_bind_positional_blob, handle, "strata_statement_bind_positional_blob")
	purego.RegisterLibFunc(&c_strata_statement_bind_positional_zeroblob, handle, "strata_statement_bind_positional_zeroblob")
	purego.RegisterLibFunc(&c_strata_statement_column_count, handle, "strata_statement_column_count")
	purego.RegisterLibFunc(&c_strata_statement_column_name, handle, "strata_statement_column_name")
	purego.RegisterLibFunc(&c_strata_statement_column_decltype, handle, "strata_statement_column_decltype")
	purego.RegisterLibFunc(&c_strata_statement_row_value_kind, handle, "strata_statement_row_value_kind")
	purego.RegisterLibFunc(&c_strata_statement_row_value_int, handle, "strata_statement_row_value_int")
	purego.RegisterLibFunc(&c_strata_statement_row_value_double, handle, "strata_statement_row_value_double")
	purego.RegisterLibFunc(&c_strata_statement_row_value_bytes_count, handle, "strata_statement_row_value_bytes_count")
	purego.RegisterLibFunc(&c_strata_statement_row_value_bytes_ptr, handle, "strata_statement_row_value_bytes_ptr")
	purego.RegisterLibFunc(&c_strata_context_result_null, handle, "strata_context_result_null")
	purego.RegisterLibFunc(&c_strata_context_result_int, handle, "strata_context_result_int")
	purego.RegisterLibFunc(&c_strata_context_result_double, handle, "strata_context_result_double")
	purego.RegisterLibFunc(&c_strata_context_result_text, handle, "strata_context_result_text")
	purego.RegisterLibFunc(&c_strata_context_result_blob, handle, "strata_context_result_blob")
	purego.RegisterLibFunc(&c_strata_context_result_error, handle, "strata_context_result_error")
	purego.RegisterLibFunc(&c_strata_value_kind, handle, "strata_value_kind")
	purego.RegisterLibFunc(&c_strata_value_int, handle, "strata_value_int")
	purego.RegisterLibFunc(&c_strata_value_double, handle, "strata_value_double")
	purego.RegisterLibFunc(&c_strata_value_bytes_count, handle, "strata_value_bytes_count")
	purego.RegisterLibFunc(&c_strata_value_bytes_ptr, handle, "strata_value_bytes_ptr")
	purego.RegisterLibFunc(&c_strata_version, handle, "strata_version")
	purego.RegisterLibFunc(&c_strata_memory_used, handle, "strata_memory_used")
	purego.RegisterLibFunc(&c_strata_randomness, handle, "strata_randomness")
	purego.RegisterLibFunc(&c_strata_str_deinit, handle, "strata_str_deinit")
	purego.RegisterLibFunc(&c_strata_database_deinit, handle, "strata_database_deinit")
	purego.RegisterLibFunc(&c_strata_connection_deinit, handle, "strata_connection_deinit")
	purego.RegisterLibFunc(&c_strata_statement_deinit, handle, "strata_statement_deinit")
	return nil
}

// Helpers

func readErrorAndFree(errPtr uintptr) string {
	if errPtr == 0 {
		return ""
	}
	defer c_strata_str_deinit(unsafe.Pointer(errPtr))
	return copyCString(unsafe.Pointer(errPtr))
}

func copyCString(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	// Determine length
	base := uintptr(p)
	n := 0
	for {
		b := *(*byte)(unsafe.Pointer(base + uintptr(n)))
		if b == 0 {
			break
		}
		n++
	}
	if n == 0 {
		return ""
	}
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = *(*byte)(unsafe.Pointer(base + uintptr(i)))
	}
	return string(buf)
}

func copyCBytes(p unsafe.Pointer, n int64) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	out := make([]byte, n)
	base := uintptr(p)
	for i := int64(0); i < n; i++ {
		out[i] = *(*byte)(unsafe.Pointer(base + uintptr(i)))
	}
	return out
}

func cStringPtr(s string) (ptr unsafe.Pointer, keepAlive func()) {
	// Allocate Go memory with null terminator; valid during the call
	if len(s) == 0 {
		return nil, func() {}
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return unsafe.Pointer(&b[0]), func() { runtime.KeepAlive(b) }
}

// Go wrappers over imported C bindings

// strata_setup initializes global engine state.
// If config.Logger is provided, it is registered as a callback.
func strata_setup(config StrataConfig) error {
	var cCfg c_strata_config_t
	if config.Logger != nil {
		cb := purego.NewCallback(func(logPtr uintptr) uintptr {
			if logPtr == 0 {
				return 0
			}
			cl := (*c_strata_log_t)(unsafe.Pointer(logPtr))
			log := StrataLog{
				Message:   copyCString(unsafe.Pointer(cl.Message)),
				Target:    copyCString(unsafe.Pointer(cl.Target)),
				File:      copyCString(unsafe.Pointer(cl.File)),
				Timestamp: cl.Timestamp,
				Line:      uint(cl.Line),
				Level:     StrataTracingLevel(cl.Level),
			}
			config.Logger(log)
			return 0
		})
		cCfg.Logger = cb
	}

	var keep func()
	if config.LogLevel != "" {
		ptr, k := cStringPtr(config.LogLevel)
		cCfg.LogLevel = uintptr(ptr)
		keep = k
	} else {
		keep = func() {}
	}

	var cerr uintptr
	code := c_strata_setup(unsafe.Pointer(&cCfg), unsafe.Pointer(&cerr))
	keep()
	errMsg := readErrorAndFree(cerr)
	return statusToError(StrataStatusCode(code), errMsg)
}

/** Create database holder but do not open it */
func strata_database_new(config StrataDatabaseConfig) (StrataDatabase, error) {
	var cCfg c_strata_database_config_t
	pathPtr, keepPath := cStringPtr(config.Path)
	cCfg.Path = uintptr(pathPtr)
	var keepVfs func()
	if config.Vfs != "" {
		vfsPtr, k := cStringPtr(config.Vfs)
		cCfg.Vfs = uintptr(vfsPtr)
		keepVfs = k
	} else {
		keepVfs = func() {}
	}
	flags := config.Flags
	if flags == 0 {
		flags = STRATA_OPEN_READWRITE | STRATA_OPEN_CREATE
	}
	cCfg.Flags = int32(flags)
	var db StrataDatabase
	var cerr uintptr
	code := c_strata_database_new(
		unsafe.Pointer(&cCfg),
		unsafe.Pointer(&db),
		unsafe.Pointer(&cerr),
	)
	keepPath()
	keepVfs()
	errMsg := readErrorAndFree(cerr)
	if err := statusToError(StrataStatusCode(code), errMsg); err != nil {
		return nil, err
	}
	return db, nil
}

/** Open database */
func strata_database_open(database StrataDatabase) error {
	var cerr uintptr
	code := c_strata_database_open(unsafe.Pointer(database), unsafe.Pointer(&cerr))
	errMsg := readErrorAndFree(cerr)
	return statusToError(StrataStatusCode(code), errMsg)
}

/** Connect to the database */
func strata_database_connect(self StrataDatabase) (StrataConnection, error) {
	var conn StrataConnection
	var cerr uintptr
	code := c_strata_database_connect(unsafe.Pointer(self), unsafe.Pointer(&conn), unsafe.Pointer(&cerr))
	errMsg := readErrorAndFree(cerr)
	if err := statusToError(StrataStatusCode(code), errMsg); err != nil {
		return nil, err
	}
	return conn, nil
}

/** Close the connection preventing any further operations executed over it */
func strata_connection_close(self StrataConnection) error {
	var cerr uintptr
	code := c_strata_connection_close(unsafe.Pointer(self), unsafe.Pointer(&cerr))
	errMsg := readErrorAndFree(cerr)
	return statusToError(StrataStatusCode(code), errMsg)
}

/** Get autocommit state of the connection */
func strata_connection_get_autocommit(self StrataConnection) bool {
	return c_strata_connection_get_autocommit(unsafe.Pointer(self))
}

/** Rowid of the most recent successful insert on the connection */
func strata_connection_last_insert_rowid(self StrataConnection) int64 {
	return c_strata_connection_last_insert_rowid(unsafe.Pointer(self))
}

/** Rows changed by the most recently completed statement */
func strata_connection_changes(self StrataConnection) int64 {
	return c_strata_connection_changes(unsafe.Pointer(self))
}

/** Total rows changed since the connection was opened */
func strata_connection_total_changes(self StrataConnection) int64 {
	return c_strata_connection_total_changes(unsafe.Pointer(self))
}

/** Set busy timeout in milliseconds; zero disables the busy handler */
func strata_connection_set_busy_timeout_ms(self StrataConnection, timeoutMs int64) {
	c_strata_connection_set_busy_timeout_ms(unsafe.Pointer(self), timeoutMs)
}

/** Cause the next engine step on this connection to return STRATA_INTERRUPT
 * Safe to call from another goroutine
 */
func strata_connection_interrupt(self StrataConnection) {
	c_strata_connection_interrupt(unsafe.Pointer(self))
}

/** Primary error code of the most recent failed call on the connection */
func strata_connection_error_code(self StrataConnection) StrataStatusCode {
	return StrataStatusCode(c_strata_connection_error_code(unsafe.Pointer(self)))
}

/** Extended error code of the most recent failed call on the connection */
func strata_connection_extended_error_code(self StrataConnection) int32 {
	return c_strata_connection_extended_error_code(unsafe.Pointer(self))
}

/** Error message of the most recent failed call on the connection
 * The returned C string is engine-owned static storage and is copied here
 */
func strata_connection_error_message(self StrataConnection) string {
	return copyCString(c_strata_connection_error_message(unsafe.Pointer(self)))
}

/** Prepare the first statement in a string containing one or more statements
 * The returned tail index is the byte offset of the remainder of the script
 */
func strata_connection_prepare_first(self StrataConnection, sql string) (StrataStatement, int, error) {
	var stmt StrataStatement
	var tailIdx uintptr
	var cerr uintptr
	code := c_strata_connection_prepare_first(
		unsafe.Pointer(self),
		sql,
		unsafe.Pointer(&stmt),
		unsafe.Pointer(&tailIdx),
		unsafe.Pointer(&cerr),
	)
	errMsg := readErrorAndFree(cerr)
	if err := statusToError(StrataStatusCode(code), errMsg); err != nil {
		return nil, 0, err
	}
	return stmt, int(tailIdx), nil
}

/** Register a scalar SQL function on the connection
 * callback must be a purego.NewCallback handle with the signature
 * void (*)(strata_context_t*, int argc, strata_value_t** argv)
 */
func strata_connection_register_scalar(self StrataConnection, name string, nargs int, callback uintptr) error {
	var cerr uintptr
	code := c_strata_connection_register_scalar(unsafe.Pointer(self), name, int32(nargs), callback, unsafe.Pointer(&cerr))
	errMsg := readErrorAndFree(cerr)
	return statusToError(StrataStatusCode(code), errMsg)
}

/** Remove a scalar SQL function previously registered on the connection */
func strata_connection_unregister_scalar(self StrataConnection, name string) error {
	var cerr uintptr
	code := c_strata_connection_unregister_scalar(unsafe.Pointer(self), name, unsafe.Pointer(&cerr))
	errMsg := readErrorAndFree(cerr)
	return statusToError(StrataStatusCode(code), errMsg)
}

/** Step statement execution once
 * Returns STRATA_ROW if a result row is available
 * Returns STRATA_DONE if execution finished
 * Any other code is an error and is also returned as a Go error
 */
func strata_statement_step(self StrataStatement) (StrataStatusCode, error) {
	var cerr uintptr
	code := c_strata_statement_step(unsafe.Pointer(self), unsafe.Pointer(&cerr))
	errMsg := readErrorAndFree(cerr)
	if err := statusToError(StrataStatusCode(code), errMsg); err != nil {
		return StrataStatusCode(code), err
	}
	return StrataStatusCode(code), nil
}

/** Reset a statement back to its ready state, clearing bindings and position */
func strata_statement_reset(self StrataStatement) error {
	var cerr uintptr
	code := c_strata_statement_reset(unsafe.Pointer(self), unsafe.Pointer(&cerr))
	errMsg := readErrorAndFree(cerr)
	return statusToError(StrataStatusCode(code), errMsg)
}

/** Finalize a statement
 * This method must be called at the end of statement execution (successful or not)
 */
func strata_statement_finalize(self StrataStatement) error {
	var cerr uintptr
	code := c_strata_statement_finalize(unsafe.Pointer(self), unsafe.Pointer(&cerr))
	errMsg := readErrorAndFree(cerr)
	return statusToError(StrataStatusCode(code), errMsg)
}

/** Number of bind parameter slots declared by the statement */
func strata_statement_bind_parameter_count(self StrataStatement) int64 {
	return c_strata_statement_bind_parameter_count(unsafe.Pointer(self))
}

/** Declared name of the 1-based bind parameter slot including its sigil
 * Returns the empty string for nameless (?) parameters
 * C string allocated by the engine is freed with strata_str_deinit
 */
func strata_statement_bind_parameter_name(self StrataStatement, index int) string {
	ptr := c_strata_statement_bind_parameter_name(unsafe.Pointer(self), uintptr(index))
	if ptr == nil {
		return ""
	}
	defer c_strata_str_deinit(ptr)
	return copyCString(ptr)
}

/** Bind a positional argument to a statement: NULL */
func strata_statement_bind_positional_null(self StrataStatement, position int) error {
	code := c_strata_statement_bind_positional_null(unsafe.Pointer(self), uintptr(position))
	return statusToError(StrataStatusCode(code), "")
}

/** Bind a positional argument to a statement: INTEGER */
func strata_statement_bind_positional_int(self StrataStatement, position int, value int64) error {
	code := c_strata_statement_bind_positional_int(unsafe.Pointer(self), uintptr(position), value)
	return statusToError(StrataStatusCode(code), "")
}

/** Bind a positional argument to a statement: DOUBLE */
func strata_statement_bind_positional_double(self StrataStatement, position int, value float64) error {
	code := c_strata_statement_bind_positional_double(unsafe.Pointer(self), uintptr(position), value)
	return statusToError(StrataStatusCode(code), "")
}

/** Bind a positional argument to a statement: TEXT */
func strata_statement_bind_positional_text(self StrataStatement, position int, value string) error {
	code := c_strata_statement_bind_positional_text(unsafe.Pointer(self), uintptr(position), value, uintptr(len(value)))
	return statusToError(StrataStatusCode(code), "")
}

/** Bind a positional argument to a statement: BLOB */
func strata_statement_bind_positional_blob(self StrataStatement, position int, value []byte) error {
	var ptr unsafe.Pointer
	var ln uintptr
	if len(value) > 0 {
		ptr = unsafe.Pointer(&value[0])
		ln = uintptr(len(value))
	}
	code := c_strata_statement_bind_positional_blob(unsafe.Pointer(self), uintptr(position), ptr, ln)
	return statusToError(StrataStatusCode(code), "")
}

/** Bind a positional argument to a statement: zero-filled BLOB of the given size */
func strata_statement_bind_positional_zeroblob(self StrataStatement, position int, size int64) error {
	code := c_strata_statement_bind_positional_zeroblob(unsafe.Pointer(self), uintptr(position), size)
	return statusToError(StrataStatusCode(code), "")
}

/** Get column count */
func strata_statement_column_count(self StrataStatement) int64 {
	return c_strata_statement_column_count(unsafe.Pointer(self))
}

/** Get the column name at the index
 * C string allocated by the engine must be freed after usage with strata_str_deinit(...)
 */
func strata_statement_column_name(self StrataStatement, index int) string {
	ptr := c_strata_statement_column_name(unsafe.Pointer(self), uintptr(index))
	if ptr == nil {
		return ""
	}
	defer c_strata_str_deinit(ptr)
	return copyCString(ptr)
}

/** Get the declared column type at the index; empty for expression columns */
func strata_statement_column_decltype(self StrataStatement, index int) string {
	ptr := c_strata_statement_column_decltype(unsafe.Pointer(self), uintptr(index))
	if ptr == nil {
		return ""
	}
	defer c_strata_str_deinit(ptr)
	return copyCString(ptr)
}

/** Get the row value kind at the index for a current statement state */
func strata_statement_row_value_kind(self StrataStatement, index int) StrataType {
	return StrataType(c_strata_statement_row_value_kind(unsafe.Pointer(self), uintptr(index)))
}

/** Return value of INTEGER kind
 * Return 0 for other kinds
 */
func strata_statement_row_value_int(self StrataStatement, index int) int64 {
	return c_strata_statement_row_value_int(unsafe.Pointer(self), uintptr(index))
}

/** Return value of REAL kind
 * Return 0 for other kinds
 */
func strata_statement_row_value_double(self StrataStatement, index int) float64 {
	return c_strata_statement_row_value_double(unsafe.Pointer(self), uintptr(index))
}

/** Return BLOB value as a Go byte slice (copied)
 * If the value at index is not BLOB or TEXT, returns nil
 */
func strata_statement_row_value_bytes(self StrataStatement, index int) []byte {
	n := c_strata_statement_row_value_bytes_count(unsafe.Pointer(self), uintptr(index))
	if n <= 0 {
		return nil
	}
	ptr := c_strata_statement_row_value_bytes_ptr(unsafe.Pointer(self), uintptr(index))
	return copyCBytes(ptr, n)
}

/** Return TEXT value as a Go string (copied)
 * If the value at index is not TEXT or BLOB, returns the empty string
 */
func strata_statement_row_value_text(self StrataStatement, index int) string {
	return string(strata_statement_row_value_bytes(self, index))
}

/** Set the result of a scalar function invocation: NULL */
func strata_context_result_null(self StrataContext) {
	c_strata_context_result_null(unsafe.Pointer(self))
}

/** Set the result of a scalar function invocation: INTEGER */
func strata_context_result_int(self StrataContext, value int64) {
	c_strata_context_result_int(unsafe.Pointer(self), value)
}

/** Set the result of a scalar function invocation: DOUBLE */
func strata_context_result_double(self StrataContext, value float64) {
	c_strata_context_result_double(unsafe.Pointer(self), value)
}

/** Set the result of a scalar function invocation: TEXT */
func strata_context_result_text(self StrataContext, value string) {
	c_strata_context_result_text(unsafe.Pointer(self), value, uintptr(len(value)))
}

/** Set the result of a scalar function invocation: BLOB */
func strata_context_result_blob(self StrataContext, value []byte) {
	var ptr unsafe.Pointer
	var ln uintptr
	if len(value) > 0 {
		ptr = unsafe.Pointer(&value[0])
		ln = uintptr(len(value))
	}
	c_strata_context_result_blob(unsafe.Pointer(self), ptr, ln)
}

/** Fail a scalar function invocation with an error message */
func strata_context_result_error(self StrataContext, msg string) {
	c_strata_context_result_error(unsafe.Pointer(self), msg)
}

/** Kind of an engine value passed to a scalar function */
func strata_value_kind(self StrataValue) StrataType {
	return StrataType(c_strata_value_kind(unsafe.Pointer(self)))
}

/** INTEGER content of an engine value; 0 for other kinds */
func strata_value_int(self StrataValue) int64 {
	return c_strata_value_int(unsafe.Pointer(self))
}

/** REAL content of an engine value; 0 for other kinds */
func strata_value_double(self StrataValue) float64 {
	return c_strata_value_double(unsafe.Pointer(self))
}

/** BLOB or TEXT content of an engine value as a copied Go byte slice */
func strata_value_bytes(self StrataValue) []byte {
	n := c_strata_value_bytes_count(unsafe.Pointer(self))
	if n <= 0 {
		return nil
	}
	return copyCBytes(c_strata_value_bytes_ptr(unsafe.Pointer(self)), n)
}

/** TEXT content of an engine value as a copied Go string */
func strata_value_text(self StrataValue) string {
	return string(strata_value_bytes(self))
}

/** Engine version string (static storage, not freed) */
func strata_version() string {
	return copyCString(c_strata_version())
}

/** Bytes of memory currently in use by the engine */
func strata_memory_used() int64 {
	return c_strata_memory_used()
}

/** Fill a buffer with engine-grade randomness */
func strata_randomness(n int) []byte {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	c_strata_randomness(unsafe.Pointer(&buf[0]), uintptr(n))
	runtime.KeepAlive(buf)
	return buf
}

/** Deallocate C string allocated by the engine */
func strata_str_deinit(self unsafe.Pointer) {
	if self == nil {
		return
	}
	c_strata_str_deinit(self)
}

/** Deallocate and close a database
 * SAFETY: caller must ensure that no other code can concurrently or later call methods over deinited database
 */
func strata_database_deinit(self StrataDatabase) {
	if self == nil {
		return
	}
	c_strata_database_deinit(unsafe.Pointer(self))
}

/** Deallocate and close a connection
 * SAFETY: caller must ensure that no other code can concurrently or later call methods over deinited connection
 */
func strata_connection_deinit(self StrataConnection) {
	if self == nil {
		return
	}
	c_strata_connection_deinit(unsafe.Pointer(self))
}

/** Deallocate and close a statement
 * SAFETY: caller must ensure that no other code can concurrently or later call methods over deinited statement
 */
func strata_statement_deinit(self StrataStatement) {
	if self == nil {
		return
	}
	c_strata_statement_deinit(unsafe.Pointer(self))
}

// statusToError translates an engine status code into a package error.
// OK, ROW and DONE are statuses, not errors.
func statusToError(code StrataStatusCode, msg string) error {
	switch code.Primary() {
	case STRATA_OK, STRATA_ROW, STRATA_DONE:
		return nil
	default:
		if msg == "" {
			msg = codeMessage(code.Primary())
		}
		return &EngineError{
			Code:         code.Primary(),
			ExtendedCode: int32(code),
			Message:      msg,
		}
	}
}

func codeMessage(code StrataStatusCode) string {
	switch code {
	case STRATA_ERROR:
		return "generic error"
	case STRATA_INTERNAL:
		return "internal engine malfunction"
	case STRATA_PERM:
		return "access permission denied"
	case STRATA_ABORT:
		return "operation aborted"
	case STRATA_BUSY:
		return "database is busy"
	case STRATA_LOCKED:
		return "database table is locked"
	case STRATA_NOMEM:
		return "out of memory"
	case STRATA_READONLY:
		return "database is read-only"
	case STRATA_INTERRUPT:
		return "operation interrupted"
	case STRATA_IOERR:
		return "disk I/O error"
	case STRATA_CORRUPT:
		return "database is corrupt"
	case STRATA_NOTFOUND:
		return "object not found"
	case STRATA_FULL:
		return "database or disk is full"
	case STRATA_CANTOPEN:
		return "unable to open database file"
	case STRATA_SCHEMA:
		return "schema changed"
	case STRATA_TOOBIG:
		return "value exceeds size limit"
	case STRATA_CONSTRAINT:
		return "constraint failed"
	case STRATA_MISMATCH:
		return "datatype mismatch"
	case STRATA_MISUSE:
		return "API misuse"
	case STRATA_RANGE:
		return "bind index out of range"
	case STRATA_NOTADB:
		return "not a database"
	default:
		return fmt.Sprintf("unknown status code %d", int32(code))
	}
}
