package catalog

import (
	"io"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := database.New("sqlite://file:"+uuid.NewString()+"?mode=memory&cache=shared", "silent")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return store.New(db.DB)
}

// interleave runs fn once, on the connection of the next create or update
// of table, just before gorm writes the row. It simulates a concurrent
// writer landing between a read and the write that depends on it.
func interleave(t *testing.T, s *store.Store, op, table string, fn func(tx *gorm.DB)) {
	t.Helper()

	var fired atomic.Bool
	hook := func(db *gorm.DB) {
		if db.Statement.Schema == nil || db.Statement.Schema.Table != table {
			return
		}
		if fired.CompareAndSwap(false, true) {
			fn(db.Session(&gorm.Session{NewDB: true}))
		}
	}

	name := "test:interleave_" + op + "_" + table
	var err error
	switch op {
	case "create":
		err = s.DB().Callback().Create().Before("gorm:create").Register(name, hook)
	case "update":
		err = s.DB().Callback().Update().Before("gorm:update").Register(name, hook)
	default:
		t.Fatalf("unsupported operation %q", op)
	}
	require.NoError(t, err)
}

func testLogger() *logger.Logger {
	return logger.NewWithWriter("error", io.Discard)
}

func sampleProduct(companyID, pid string, images ...string) NormalizedProduct {
	if images == nil {
		images = []string{}
	}
	return NormalizedProduct{
		CompanyID:    companyID,
		PID:          pid,
		Name:         DefaultProductName,
		Price:        1000,
		PriceSpecial: 900,
		URL:          "https://shop.example.com/p/" + pid,
		Data:         map[string]interface{}{"brand": "BMW"},
		DataOptions:  map[string]interface{}{},
		Images:       images,
	}
}
