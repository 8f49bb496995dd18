package strata

import (
	"database/sql"
	"database/sql/driver"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// requireNativeLibrary skips tests that need the real engine when it is not
// installed; the cache and cursor semantics are covered against the fake
// engine regardless.
func requireNativeLibrary(t *testing.T) {
	t.Helper()
	if err := InitLibrary(); err != nil {
		t.Skipf("native engine library unavailable: %v", err)
	}
}

func openMem(t *testing.T) *sql.DB {
	t.Helper()
	requireNativeLibrary(t)
	db, err := sql.Open("strata", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestParseDSN(t *testing.T) {
	t.Run("bare path", func(t *testing.T) {
		p, opts, err := parseDSN("/tmp/db.strata")
		require.NoError(t, err)
		require.Equal(t, "/tmp/db.strata", p)
		require.Empty(t, opts)
	})
	t.Run("with options", func(t *testing.T) {
		p, opts, err := parseDSN("local.db?cache=7&_busy_timeout=250&vfs=unix")
		require.NoError(t, err)
		require.Equal(t, "local.db", p)
		require.Len(t, opts, 3)

		var cfg openConfig
		for _, opt := range opts {
			opt(&cfg)
		}
		require.Equal(t, 7, cfg.cacheSize)
		require.Equal(t, 250, cfg.busyTimeout)
		require.Equal(t, "unix", cfg.vfs)
	})
	t.Run("bad values", func(t *testing.T) {
		_, _, err := parseDSN("local.db?cache=lots")
		require.Error(t, err)
		_, _, err = parseDSN("local.db?_busy_timeout=soon")
		require.Error(t, err)
	})
}

func TestDriverBindings(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		b, err := driverBindings(nil)
		require.NoError(t, err)
		require.Nil(t, b)
	})
	t.Run("ordinal", func(t *testing.T) {
		b, err := driverBindings([]driver.NamedValue{
			{Ordinal: 1, Value: int64(1)},
			{Ordinal: 2, Value: true},
			{Ordinal: 3, Value: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		})
		require.NoError(t, err)
		require.Equal(t, []any{int64(1), int64(1), "2024-05-01T12:00:00Z"}, b)
	})
	t.Run("named", func(t *testing.T) {
		b, err := driverBindings([]driver.NamedValue{
			{Name: "id", Value: int64(3)},
			{Name: "ok", Value: false},
		})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"id": int64(3), "ok": int64(0)}, b)
	})
	t.Run("mixed rejected", func(t *testing.T) {
		_, err := driverBindings([]driver.NamedValue{
			{Name: "id", Value: int64(3)},
			{Ordinal: 2, Value: int64(4)},
		})
		require.ErrorIs(t, err, ErrBindings)
	})
}

func TestTimeColumnDecoding(t *testing.T) {
	require.True(t, isTimeColumn("TIMESTAMP"))
	require.True(t, isTimeColumn("datetime"))
	require.True(t, isTimeColumn("DATE"))
	require.False(t, isTimeColumn("TEXT"))
	require.False(t, isTimeColumn(""))

	for _, s := range []string{
		"2024-05-01 12:30:45",
		"2024-05-01T12:30:45",
		"2024-05-01 12:30:45.123456789",
		"2024-05-01T12:30:45Z",
		"2024-05-01",
	} {
		tm, err := parseTimeString(s)
		require.NoError(t, err, s)
		require.Equal(t, 2024, tm.Year(), s)
	}
	_, err := parseTimeString("yesterday")
	require.Error(t, err)
}

func TestDriverQuery(t *testing.T) {
	db := openMem(t)
	_, err := db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, born TIMESTAMP)")
	require.NoError(t, err)

	born := time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC)
	res, err := db.Exec("INSERT INTO t (name, born) VALUES (?, ?)", "ada", born)
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	rows, err := db.Query("SELECT id, name, born FROM t WHERE name = ?", "ada")
	require.NoError(t, err)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "born"}, cols)

	require.True(t, rows.Next())
	var id int64
	var name string
	var bornOut time.Time
	require.NoError(t, rows.Scan(&id, &name, &bornOut))
	require.Equal(t, "ada", name)
	require.True(t, born.Equal(bornOut))
	require.False(t, rows.Next())
	require.NoError(t, rows.Err())
}

func TestDriverNamedParameters(t *testing.T) {
	db := openMem(t)
	_, err := db.Exec("CREATE TABLE t (a INTEGER, b TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t VALUES (:a, :b)", sql.Named("a", 1), sql.Named("b", "one"))
	require.NoError(t, err)

	var b string
	require.NoError(t, db.QueryRow("SELECT b FROM t WHERE a = :a", sql.Named("a", 1)).Scan(&b))
	require.Equal(t, "one", b)
}

func TestDriverMultiStatementExec(t *testing.T) {
	db := openMem(t)
	_, err := db.Exec("CREATE TABLE t (x INTEGER); INSERT INTO t VALUES (1); INSERT INTO t VALUES (2)")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM t").Scan(&n))
	require.Equal(t, 2, n)
}

func TestDriverTransaction(t *testing.T) {
	db := openMem(t)
	_, err := db.Exec("CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = tx.Exec("INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM t").Scan(&n))
	require.Equal(t, 0, n)

	tx, err = db.Begin()
	require.NoError(t, err)
	_, err = tx.Exec("INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, db.QueryRow("SELECT count(*) FROM t").Scan(&n))
	require.Equal(t, 1, n)
}

func TestDriverPreparedStatement(t *testing.T) {
	db := openMem(t)
	_, err := db.Exec("CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)

	stmt, err := db.Prepare("INSERT INTO t VALUES (?)")
	require.NoError(t, err)
	defer stmt.Close()
	for i := 0; i < 5; i++ {
		_, err = stmt.Exec(i)
		require.NoError(t, err)
	}
	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM t").Scan(&n))
	require.Equal(t, 5, n)
}

func TestDriverDSNOptions(t *testing.T) {
	requireNativeLibrary(t)
	tmp := t.TempDir()
	db, err := sql.Open("strata", path.Join(tmp, "local.db")+"?cache=2&_busy_timeout=100")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())
}

func TestDriverConnector(t *testing.T) {
	requireNativeLibrary(t)
	connector, err := NewConnector(":memory:", WithStatementCacheSize(4))
	require.NoError(t, err)
	db := sql.OpenDB(connector)
	defer db.Close()
	require.NoError(t, db.Ping())
}

func TestGormIntegration(t *testing.T) {
	requireNativeLibrary(t)
	conn := openMem(t)

	gdb, err := gorm.Open(sqlite.Dialector{Conn: conn}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	type Product struct {
		ID    uint
		Code  string
		Price uint
	}
	require.NoError(t, gdb.AutoMigrate(&Product{}))
	require.NoError(t, gdb.Create(&Product{Code: "D42", Price: 100}).Error)

	var product Product
	require.NoError(t, gdb.First(&product, "code = ?", "D42").Error)
	require.EqualValues(t, 100, product.Price)
}
