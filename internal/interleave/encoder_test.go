package interleave

import (
	"log"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

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

// customers(id) <- orders(customer, id) <- packages(customer, order, id)
func shipmentSchema(t *testing.T) (*schema.Registry, schema.TableID, schema.TableID, schema.TableID) {
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

	return r, customers, orders, packages
}

func ints(vs ...int64) []keycodec.Value {
	out := make([]keycodec.Value, 0, len(vs))
	for _, v := range vs {
		out = append(out, keycodec.IntValue(v))
	}
	return out
}

func TestEncoder_ChildExtendsParent(t *testing.T) {
	r, customers, orders, _ := shipmentSchema(t)
	enc := NewEncoder(r.Current())

	custKey, err := enc.Encode(customers, ints(1))
	require.NoError(t, err)

	orderKey, err := enc.Encode(orders, ints(1, 1000))
	require.NoError(t, err)

	require.True(t, orderKey.HasPrefix(custKey),
		"order key %s must extend customer key %s", orderKey, custKey)
	require.True(t, len(orderKey) > len(custKey), "extension must be strict")

	// customer 2 and everything under it sorts after all of customer 1
	cust2Key, err := enc.Encode(customers, ints(2))
	require.NoError(t, err)
	order2Key, err := enc.Encode(orders, ints(2, 1001))
	require.NoError(t, err)

	require.Equal(t, KeyLessThan, custKey.Compare(orderKey))
	require.Equal(t, KeyLessThan, orderKey.Compare(cust2Key))
	require.Equal(t, KeyLessThan, cust2Key.Compare(order2Key))
}

func TestEncoder_ThreeLevels(t *testing.T) {
	r, customers, orders, packages := shipmentSchema(t)
	enc := NewEncoder(r.Current())

	custKey, err := enc.Encode(customers, ints(7))
	require.NoError(t, err)
	orderKey, err := enc.Encode(orders, ints(7, 31))
	require.NoError(t, err)
	pkgKey, err := enc.Encode(packages, ints(7, 31, 5))
	require.NoError(t, err)

	// the package extends its exact orders ancestor, not merely the root
	require.True(t, pkgKey.HasPrefix(orderKey))
	require.True(t, pkgKey.HasPrefix(custKey))

	// a package under a different order of the same customer shares only
	// the customer segment
	otherPkg, err := enc.Encode(packages, ints(7, 32, 5))
	require.NoError(t, err)
	require.True(t, otherPkg.HasPrefix(custKey))
	require.False(t, otherPkg.HasPrefix(orderKey))
}

func TestEncoder_RoundTrip(t *testing.T) {
	r := schema.NewRegistry(getTestLogger())

	accounts, err := r.RegisterRoot("accounts", []schema.Column{
		{Name: "region", Type: keycodec.TypeString},
		{Name: "id", Type: keycodec.TypeInt},
	})
	require.NoError(t, err)

	balances, err := r.RegisterChild("balances", []schema.Column{
		{Name: "region", Type: keycodec.TypeString},
		{Name: "account", Type: keycodec.TypeInt},
		{Name: "currency", Type: keycodec.TypeString},
		{Name: "amount", Type: keycodec.TypeDecimal},
	}, accounts, 2)
	require.NoError(t, err)

	enc := NewEncoder(r.Current())

	amount, err := decimal.NewFromString("-12.0450")
	require.NoError(t, err)
	rows := []struct {
		table  schema.TableID
		values []keycodec.Value
	}{
		{accounts, []keycodec.Value{keycodec.StringValue("eu\x00west"), keycodec.IntValue(-3)}},
		{accounts, []keycodec.Value{keycodec.StringValue(""), keycodec.IntValue(0)}},
		{balances, []keycodec.Value{
			keycodec.StringValue("eu\x00west"),
			keycodec.IntValue(-3),
			keycodec.StringValue("EUR"),
			keycodec.DecimalValue(amount),
		}},
	}

	for _, row := range rows {
		key, err := enc.Encode(row.table, row.values)
		require.NoError(t, err)

		table, values, err := enc.Decode(key)
		require.NoError(t, err, "key %s", key)
		require.Equal(t, row.table, table)
		require.Equal(t, len(row.values), len(values))
		for i := range values {
			require.True(t, row.values[i].Equal(values[i]),
				"column %d: want %s got %s", i, row.values[i], values[i])
		}
	}
}

func TestEncoder_TypeMismatch(t *testing.T) {
	r, customers, orders, _ := shipmentSchema(t)
	enc := NewEncoder(r.Current())

	_, err := enc.Encode(customers, []keycodec.Value{keycodec.StringValue("1")})
	require.ErrorIs(t, err, keycodec.ErrTypeMismatch)

	// wrong arity
	_, err = enc.Encode(orders, ints(1))
	require.ErrorIs(t, err, keycodec.ErrTypeMismatch)
	_, err = enc.Encode(customers, ints(1, 2))
	require.ErrorIs(t, err, keycodec.ErrTypeMismatch)
}

func TestEncoder_DecodeMalformed(t *testing.T) {
	r, customers, orders, _ := shipmentSchema(t)
	enc := NewEncoder(r.Current())

	orderKey, err := enc.Encode(orders, ints(1, 2))
	require.NoError(t, err)
	custKey, err := enc.Encode(customers, ints(1))
	require.NoError(t, err)

	// truncated anywhere inside a key is malformed, except at the parent
	// segment boundary, where the truncation IS the valid ancestor key
	for cut := 1; cut < len(orderKey); cut++ {
		if cut == len(custKey) {
			table, _, err := enc.Decode(orderKey[:cut])
			require.NoError(t, err)
			require.Equal(t, customers, table)
			continue
		}
		_, _, err := enc.Decode(orderKey[:cut])
		require.ErrorIs(t, err, keycodec.ErrMalformedKey, "cut at %d", cut)
	}

	// unknown table tag
	_, _, err = enc.Decode(appendTag(nil, schema.TableID(999)))
	require.ErrorIs(t, err, keycodec.ErrMalformedKey)

	// a key may not start at a non-root table
	bad := appendTag(nil, orders)
	_, _, err = enc.Decode(bad)
	require.ErrorIs(t, err, keycodec.ErrMalformedKey)

	// trailing garbage after a complete row
	_, _, err = enc.Decode(append(append(Key(nil), orderKey...), 0xAB))
	require.ErrorIs(t, err, keycodec.ErrMalformedKey)
}

func TestEncoder_MissingParentRowStillEncodes(t *testing.T) {
	// structural co-location is deliberately independent of referential
	// integrity: the orders row encodes into the slot its prefix dictates
	// whether or not customer 99 was ever written
	r, customers, orders, _ := shipmentSchema(t)
	enc := NewEncoder(r.Current())

	orderKey, err := enc.Encode(orders, ints(99, 1))
	require.NoError(t, err)

	phantom, err := enc.Encode(customers, ints(99))
	require.NoError(t, err)
	require.True(t, orderKey.HasPrefix(phantom))
}

func TestEncoder_RangeForAncestor(t *testing.T) {
	r, customers, orders, packages := shipmentSchema(t)
	enc := NewEncoder(r.Current())

	lo, hi, err := enc.RangeForAncestor(customers, ints(1))
	require.NoError(t, err)

	inside := [][]keycodec.Value{ints(1)}
	insideTables := []schema.TableID{customers}
	for _, row := range []struct {
		table  schema.TableID
		values []keycodec.Value
	}{
		{orders, ints(1, 1)},
		{orders, ints(1, 1000)},
		{packages, ints(1, 1, 1)},
		{packages, ints(1, 1000, 3)},
	} {
		inside = append(inside, row.values)
		insideTables = append(insideTables, row.table)
	}

	for i := range inside {
		key, err := enc.Encode(insideTables[i], inside[i])
		require.NoError(t, err)
		require.NotEqual(t, KeyMoreThan, lo.Compare(key), "key %s below range", key)
		require.Equal(t, KeyLessThan, key.Compare(hi), "key %s above range", key)
	}

	outside := []struct {
		table  schema.TableID
		values []keycodec.Value
	}{
		{customers, ints(0)},
		{customers, ints(2)},
		{orders, ints(0, 999)},
		{orders, ints(2, 1)},
		{packages, ints(2, 1, 1)},
	}
	for _, row := range outside {
		key, err := enc.Encode(row.table, row.values)
		require.NoError(t, err)
		in := lo.Compare(key) != KeyMoreThan && key.Compare(hi) == KeyLessThan
		require.False(t, in, "key %s of table %d must be outside [%s, %s)", key, row.table, lo, hi)
	}

	// half-open: the upper bound itself is excluded
	require.Equal(t, KeyLessThan, lo.Compare(hi))
}

func TestEncoder_StaleSnapshotKeepsWorking(t *testing.T) {
	r, customers, _, _ := shipmentSchema(t)
	enc := NewEncoder(r.Current())

	_, err := r.RegisterChild("notes", []schema.Column{
		{Name: "customer", Type: keycodec.TypeInt},
		{Name: "id", Type: keycodec.TypeInt},
	}, customers, 1)
	require.NoError(t, err)

	// the encoder still sees its own snapshot
	_, ok := enc.snap.TableByName("notes")
	require.False(t, ok)

	key, err := enc.Encode(customers, ints(5))
	require.NoError(t, err)
	table, _, err := enc.Decode(key)
	require.NoError(t, err)
	require.Equal(t, customers, table)
}
