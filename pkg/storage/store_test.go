package storage

import (
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// --- Memory Store Tests ---

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore("test_")
	err := s.SaveCursor("scan1", 100)
	assert.NoError(t, err)

	h, err := s.LoadCursor("scan1")
	assert.NoError(t, err)
	assert.Equal(t, uint64(100), h)

	h, err = s.LoadCursor("unknown")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), h)

	assert.NoError(t, s.ClearCursor("scan1"))
	h, _ = s.LoadCursor("scan1")
	assert.Equal(t, uint64(0), h)

	// Memory store Close is no-op
	assert.NoError(t, s.Close())
}

// --- Postgres Store Tests ---

func TestPostgresStore_InitTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{
		db:        db,
		tableName: "custom_scan_cursors",
	}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS custom_scan_cursors")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.initTable()
	assert.NoError(t, err)
}

func TestPostgresStore_SaveLoadClear(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{
		db:        db,
		tableName: "oracle_scope_scan_cursors",
	}

	// 1. Save Success
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO oracle_scope_scan_cursors")).
		WithArgs("poly", 100).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.SaveCursor("poly", 100)
	assert.NoError(t, err)

	// 2. Save Error
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO oracle_scope_scan_cursors")).
		WillReturnError(assert.AnError)
	err = store.SaveCursor("poly", 100)
	assert.Error(t, err)

	// 3. Load Success
	rows := sqlmock.NewRows([]string{"lower_bound"}).AddRow(200)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT lower_bound FROM oracle_scope_scan_cursors")).
		WithArgs("poly").
		WillReturnRows(rows)

	h, err := store.LoadCursor("poly")
	assert.NoError(t, err)
	assert.Equal(t, uint64(200), h)

	// 4. Load Not Found (should return 0, no error)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT lower_bound")).
		WithArgs("eth").
		WillReturnError(sql.ErrNoRows)
	h, err = store.LoadCursor("eth")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), h)

	// 5. Load Error
	mock.ExpectQuery(regexp.QuoteMeta("SELECT lower_bound")).
		WillReturnError(assert.AnError)
	_, err = store.LoadCursor("arb")
	assert.Error(t, err)

	// 6. Clear
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oracle_scope_scan_cursors")).
		WithArgs("poly").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.ClearCursor("poly"))

	// 7. Close
	mock.ExpectClose()
	assert.NoError(t, store.Close())
}

// Note: NewPostgresStore involves real sql.Open, making it difficult to fully
// mock the driver layer. The Save/Load tests above use a manually constructed
// PostgresStore instead; here we only cover the malformed-URL path.
func TestNewPostgresStore_InvalidURL(t *testing.T) {
	_, err := NewPostgresStore("postgres://invalid-url?param=^^", "prefix")
	assert.Error(t, err)
}

// --- Redis Store Tests ---

func TestRedisStore_SaveLoadClear(t *testing.T) {
	db, mock := redismock.NewClientMock()

	store := &RedisStore{
		client: db,
		prefix: "scan:",
	}

	// 1. Save Success
	mock.ExpectSet("scan:poly", uint64(100), time.Duration(0)).SetVal("OK")
	err := store.SaveCursor("poly", 100)
	assert.NoError(t, err)

	// 2. Save Error
	mock.ExpectSet("scan:poly", uint64(100), time.Duration(0)).SetErr(assert.AnError)
	err = store.SaveCursor("poly", 100)
	assert.Error(t, err)

	// 3. Load Success
	mock.ExpectGet("scan:poly").SetVal("500")
	h, err := store.LoadCursor("poly")
	assert.NoError(t, err)
	assert.Equal(t, uint64(500), h)

	// 4. Load Not Found (Redis Nil)
	mock.ExpectGet("scan:eth").SetErr(redis.Nil)
	h, err = store.LoadCursor("eth")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), h)

	// 5. Load Error
	mock.ExpectGet("scan:arb").SetErr(assert.AnError)
	_, err = store.LoadCursor("arb")
	assert.Error(t, err)

	// 6. Clear
	mock.ExpectDel("scan:poly").SetVal(1)
	assert.NoError(t, store.ClearCursor("poly"))

	assert.NoError(t, store.Close())
}

// NewRedisStore performs an actual Ping, so connection failure needs an
// unreachable address.
func TestNewRedisStore_PingFail(t *testing.T) {
	_, err := NewRedisStore("localhost:65432", "", 0, "p_")
	assert.Error(t, err)
}
