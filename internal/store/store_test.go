package store

import (
	"context"
	"log"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"interleavedb/internal/config"
	"interleavedb/internal/keycodec"
	"interleavedb/internal/schema"
)

var (
	once   sync.Once
	logger *zap.Logger
)

func getTestLogger() *zap.Logger {
	once.Do(func() {
		var err error
		logger, err = zap.NewProduction() // or NewProduction, or NewDevelopment,
		if err != nil {
			log.Fatal(err)
		}
	})

	return logger
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StoreFile: filepath.Join(t.TempDir(), "test_interleave.data"),
		Restore:   false,
	}
}

type testTables struct {
	customers schema.TableID
	orders    schema.TableID
	packages  schema.TableID
}

func newTestStore(t *testing.T) (*Store, *schema.Registry, testTables) {
	t.Helper()
	r := schema.NewRegistry(getTestLogger())

	customers, err := r.RegisterRoot("customers", []schema.Column{
		{Name: "id", Type: keycodec.TypeInt},
	})
	require.NoError(t, err)
	orders, err := r.RegisterChild("orders", []schema.Column{
		{Name: "customer", Type: keycodec.TypeInt},
		{Name: "id", Type: keycodec.TypeInt},
	}, customers, 1)
	require.NoError(t, err)
	packages, err := r.RegisterChild("packages", []schema.Column{
		{Name: "customer", Type: keycodec.TypeInt},
		{Name: "order", Type: keycodec.TypeInt},
		{Name: "id", Type: keycodec.TypeInt},
	}, orders, 2)
	require.NoError(t, err)

	s, err := New(r, testConfig(t), getTestLogger())
	require.NoError(t, err)
	require.NotNil(t, s)

	return s, r, testTables{customers: customers, orders: orders, packages: packages}
}

func ints(vs ...int64) []keycodec.Value {
	out := make([]keycodec.Value, 0, len(vs))
	for _, v := range vs {
		out = append(out, keycodec.IntValue(v))
	}
	return out
}

func Test_store_PutGetDelete(t *testing.T) {
	s, _, tt := newTestStore(t)

	to := map[string]any{
		"name":    "first customer",
		"int_val": int64(100),
	}

	require.NoError(t, s.Put(tt.customers, ints(1), to))

	from, err := s.Get(tt.customers, ints(1))
	require.NoError(t, err)
	require.EqualValues(t, to, from)

	_, err = s.Get(tt.customers, ints(2))
	require.ErrorIs(t, err, ErrRowNotFound)

	require.NoError(t, s.Delete(tt.customers, ints(1)))
	_, err = s.Get(tt.customers, ints(1))
	require.ErrorIs(t, err, ErrRowNotFound)

	require.ErrorIs(t, s.Delete(tt.customers, ints(1)), ErrRowNotFound)
}

func Test_store_ScanDescendants(t *testing.T) {
	s, _, tt := newTestStore(t)
	ctx := context.Background()

	rows := []struct {
		table schema.TableID
		pk    []keycodec.Value
	}{
		{tt.customers, ints(1)},
		{tt.customers, ints(2)},
		{tt.orders, ints(1, 1)},
		{tt.orders, ints(1, 2)},
		{tt.orders, ints(2, 1)},
		{tt.packages, ints(1, 1, 7)},
		{tt.packages, ints(1, 2, 9)},
		{tt.packages, ints(2, 1, 1)},
	}
	for i, row := range rows {
		require.NoError(t, s.Put(row.table, row.pk, map[string]any{"n": int64(i)}))
	}

	// everything under customer 1, and nothing of customer 2
	got, err := s.ScanDescendants(ctx, tt.customers, ints(1))
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, tt.customers, got[0].Table)
	for _, row := range got {
		require.EqualValues(t, 1, row.PK[0].AsInt(), "row of table %d leaked into customer 1 scan", row.Table)
	}

	// the scan is ordered: ancestor first, then its orders each followed
	// by their packages
	wantTables := []schema.TableID{tt.customers, tt.orders, tt.packages, tt.orders, tt.packages}
	for i, row := range got {
		require.Equal(t, wantTables[i], row.Table, "position %d", i)
	}

	// one order and its package only
	got, err = s.ScanDescendants(ctx, tt.orders, ints(1, 2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, tt.orders, got[0].Table)
	require.Equal(t, tt.packages, got[1].Table)
	require.EqualValues(t, 9, got[1].PK[2].AsInt())

	// an absent ancestor row still has a range: its descendants
	require.NoError(t, s.Delete(tt.customers, ints(2)))
	got, err = s.ScanDescendants(ctx, tt.customers, ints(2))
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func Test_store_ScanTable(t *testing.T) {
	s, _, tt := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(tt.customers, ints(1), map[string]any{}))
	require.NoError(t, s.Put(tt.orders, ints(1, 5), map[string]any{}))
	require.NoError(t, s.Put(tt.orders, ints(1, 6), map[string]any{}))
	require.NoError(t, s.Put(tt.packages, ints(1, 5, 1), map[string]any{}))

	got, err := s.ScanTable(ctx, tt.orders)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.EqualValues(t, 5, got[0].PK[1].AsInt())
	require.EqualValues(t, 6, got[1].PK[1].AsInt())

	_, err = s.ScanTable(ctx, schema.TableID(404))
	require.ErrorIs(t, err, schema.ErrUnknownTable)
}

func Test_store_ParentExistsMiddleware(t *testing.T) {
	s, _, tt := newTestStore(t)
	s.Use(ParentExists())

	// orphan order: no customer 5 yet
	err := s.Put(tt.orders, ints(5, 1), map[string]any{})
	require.ErrorIs(t, err, ErrNoParentRow)

	require.NoError(t, s.Put(tt.customers, ints(5), map[string]any{}))
	require.NoError(t, s.Put(tt.orders, ints(5, 1), map[string]any{}))

	// the package needs its order, the direct parent
	err = s.Put(tt.packages, ints(5, 2, 1), map[string]any{})
	require.ErrorIs(t, err, ErrNoParentRow)
	require.NoError(t, s.Put(tt.packages, ints(5, 1, 1), map[string]any{}))
}

func Test_store_OrphansAllowedWithoutValidator(t *testing.T) {
	s, _, tt := newTestStore(t)

	// structural co-location without referential integrity
	require.NoError(t, s.Put(tt.orders, ints(9, 1), map[string]any{}))

	got, err := s.ScanDescendants(context.Background(), tt.customers, ints(9))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, tt.orders, got[0].Table)
}

func Test_store_SaveToDisk_LoadFromDisk(t *testing.T) {
	s, _, tt := newTestStore(t)
	conf := s.conf
	ctx := context.Background()

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, s.Put(tt.customers, ints(i), map[string]any{"n": i}))
		require.NoError(t, s.Put(tt.orders, ints(i, i*10), map[string]any{"total": "i" + strconv.FormatInt(i, 10)}))
	}
	require.NoError(t, s.SaveToDisk(ctx))

	// fresh registry, fresh store: schema and rows both come back
	r2 := schema.NewRegistry(getTestLogger())
	conf.Restore = true
	s2, err := New(r2, conf, getTestLogger())
	require.NoError(t, err)
	require.Equal(t, s.Size(), s2.Size())

	orders2, ok := r2.Current().TableByName("orders")
	require.True(t, ok)
	require.Equal(t, tt.orders, orders2.ID)

	from, err := s2.Get(tt.orders, ints(3, 30))
	require.NoError(t, err)
	require.EqualValues(t, "i3", from["total"])

	got, err := s2.ScanDescendants(ctx, tt.customers, ints(3))
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func Test_store_inGoroutines(t *testing.T) {
	s, _, tt := newTestStore(t)
	ctx := context.Background()

	goroutinesCount := 50
	var wg sync.WaitGroup
	wg.Add(goroutinesCount * 2)

	funcPutGet := func(i int64) {
		defer wg.Done()
		to := map[string]any{"n": i}

		require.NoError(t, s.Put(tt.customers, ints(i), to))
		require.NoError(t, s.Put(tt.orders, ints(i, 1), to))

		from, err := s.Get(tt.customers, ints(i))
		require.NoError(t, err)
		require.EqualValues(t, to, from)
	}

	funcPutScanDelete := func(i int64) {
		defer wg.Done()

		require.NoError(t, s.Put(tt.customers, ints(i), map[string]any{}))
		require.NoError(t, s.Put(tt.orders, ints(i, 2), map[string]any{}))

		rows, err := s.ScanDescendants(ctx, tt.customers, ints(i))
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(rows), 2)

		require.NoError(t, s.Delete(tt.orders, ints(i, 2)))
	}

	for i := 0; i < goroutinesCount; i++ {
		index := int64(i)
		go funcPutGet(index)
		go funcPutScanDelete(index + 1000)
	}

	wg.Wait()
}

func Test_store_PutDetachesRow(t *testing.T) {
	s, _, tt := newTestStore(t)

	to := map[string]any{"name": "first customer"}
	require.NoError(t, s.Put(tt.customers, ints(1), to))

	// mutating the caller's map must not reach the stored row
	to["name"] = "impostor"
	to["extra"] = int64(1)

	from, err := s.Get(tt.customers, ints(1))
	require.NoError(t, err)
	require.EqualValues(t, map[string]any{"name": "first customer"}, from)
}
