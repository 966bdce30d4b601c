package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	displayCounter = 100
	insertInterval = time.Millisecond * 100
)

type columnPayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type createTableRequest struct {
	Name      string          `json:"name"`
	Columns   []columnPayload `json:"columns"`
	Parent    string          `json:"parent,omitempty"`
	PrefixLen int             `json:"prefix_len,omitempty"`
}

type rowRequest struct {
	PK   []any          `json:"pk"`
	Data map[string]any `json:"data,omitempty"`
}

type rowPayload struct {
	Table string         `json:"table"`
	PK    []any          `json:"pk"`
	Data  map[string]any `json:"data"`
}

type scanResponse struct {
	Rows []rowPayload `json:"rows"`
}

// oneFamily is a customer with its orders and packages, inserted as a
// unit and later scanned to check that every descendant lands inside
// the customer's key range.
type oneFamily struct {
	customer int64
	orders   []int64
	packages map[int64][]int64
}

// customer ids are unique per family (slot partitions the inserters,
// seq the iterations), so a scan never sees another family's rows and
// flags the overlap as a layout error
func newOneFamily(slot, seq int64) oneFamily {
	fam := oneFamily{
		customer: slot*1_000_000_000 + seq,
		packages: make(map[int64][]int64),
	}
	for i := 0; i < 1+rand.Intn(3); i++ {
		order := int64(10 + i)
		fam.orders = append(fam.orders, order)
		for j := 0; j < rand.Intn(3); j++ {
			fam.packages[order] = append(fam.packages[order], int64(100+j))
		}
	}
	return fam
}

func (f oneFamily) size() int {
	n := 1 + len(f.orders)
	for _, pkgs := range f.packages {
		n += len(pkgs)
	}
	return n
}

type Checker struct {
	base string
	hc   *http.Client

	toDisplay chan string
	toScan    chan oneFamily

	wg    sync.WaitGroup
	sugar *zap.SugaredLogger
}

func NewChecker(base string, logger *zap.Logger) *Checker {
	return &Checker{
		base:      base,
		hc:        &http.Client{Timeout: 5 * time.Second},
		toDisplay: make(chan string),
		toScan:    make(chan oneFamily, 100),
		sugar:     logger.Sugar(),
	}
}

// Setup registers the shipment hierarchy. Re-registration conflicts
// are fine, they just mean the server already has the tables.
func (c *Checker) Setup(ctx context.Context) error {
	tables := []createTableRequest{
		{
			Name:    "customers",
			Columns: []columnPayload{{Name: "id", Type: "int"}},
		},
		{
			Name: "orders",
			Columns: []columnPayload{
				{Name: "customer", Type: "int"},
				{Name: "id", Type: "int"},
			},
			Parent:    "customers",
			PrefixLen: 1,
		},
		{
			Name: "packages",
			Columns: []columnPayload{
				{Name: "customer", Type: "int"},
				{Name: "order", Type: "int"},
				{Name: "id", Type: "int"},
			},
			Parent:    "orders",
			PrefixLen: 2,
		},
	}

	for _, req := range tables {
		code, err := c.call(ctx, http.MethodPost, "/api/v1/tables", req, nil)
		if err != nil {
			return err
		}
		if code != http.StatusCreated && code != http.StatusConflict {
			return fmt.Errorf("create table %s: status %d", req.Name, code)
		}
	}
	return nil
}

func (c *Checker) Go(ctx context.Context) {
	c.wg.Add(6)

	go c.display(ctx)

	go c.insert(ctx, 0)
	go c.insert(ctx, 1)

	go c.scan(ctx)
	go c.scan(ctx)
	go c.scan(ctx)
}

func (c *Checker) Wait() {
	c.wg.Wait()
}

func (c *Checker) display(ctx context.Context) {
	defer c.wg.Done()
	c.sugar.Infow("display start")

	for {
		select {
		case <-ctx.Done():
			c.sugar.Infow("display done")
			return
		case s := <-c.toDisplay:
			n, err := fmt.Fprint(os.Stdout, s)
			if err != nil {
				c.sugar.Fatalw("fprintf stdout", "err", err, "n", n)
			}
		}
	}
}

func (c *Checker) insert(ctx context.Context, slot int64) {
	defer c.wg.Done()

	count := 0
	seq := int64(0)
	c.sugar.Infow("insert start", "slot", slot)

	for {
		select {
		case <-ctx.Done():
			c.sugar.Infow("insert done")
			return
		default:
			seq++
			fam := newOneFamily(slot, seq)
			if err := c.putFamily(ctx, fam); err != nil {
				c.sugar.Errorw("insert", "err", err)
				time.Sleep(insertInterval)
				continue
			}
			count++
			if count == displayCounter {
				count = 0
				c.toDisplay <- "I"
			}
			c.toScan <- fam
			time.Sleep(insertInterval)
		}
	}
}

func (c *Checker) putFamily(ctx context.Context, fam oneFamily) error {
	puts := []struct {
		table string
		pk    []any
	}{
		{"customers", []any{fam.customer}},
	}
	for _, order := range fam.orders {
		puts = append(puts, struct {
			table string
			pk    []any
		}{"orders", []any{fam.customer, order}})
		for _, pkg := range fam.packages[order] {
			puts = append(puts, struct {
				table string
				pk    []any
			}{"packages", []any{fam.customer, order, pkg}})
		}
	}

	for _, put := range puts {
		code, err := c.call(ctx, http.MethodPut, "/api/v1/rows/"+put.table, rowRequest{
			PK:   put.pk,
			Data: map[string]any{"stamp": time.Now().UnixNano()},
		}, nil)
		if err != nil {
			return err
		}
		if code != http.StatusNoContent {
			return fmt.Errorf("put %s %v: status %d", put.table, put.pk, code)
		}
	}
	return nil
}

func (c *Checker) scan(ctx context.Context) {
	defer c.wg.Done()

	count := 0
	c.sugar.Infow("scan start")

	for {
		select {
		case <-ctx.Done():
			c.sugar.Infow("scan done")
			return
		case fam := <-c.toScan:
			var resp scanResponse
			code, err := c.call(ctx, http.MethodPost, "/api/v1/scan/customers", rowRequest{
				PK: []any{fam.customer},
			}, &resp)
			if err != nil {
				c.sugar.Errorw("scan", "err", err)
				continue
			}
			if code != http.StatusOK {
				c.sugar.Errorw("scan", "status", code)
				continue
			}

			c.check(fam, resp.Rows)

			count++
			if count == displayCounter {
				count = 0
				c.toDisplay <- "S"
			}
		}
	}
}

// check verifies the co-location contract: the scan returns exactly the
// family, every row carries the customer's id as its first key value,
// and rows arrive root first.
func (c *Checker) check(fam oneFamily, rows []rowPayload) {
	if len(rows) != fam.size() {
		c.sugar.Errorw("wrong family size",
			"customer", fam.customer, "want", fam.size(), "got", len(rows))
		return
	}
	if rows[0].Table != "customers" {
		c.sugar.Errorw("scan does not start at the root",
			"customer", fam.customer, "table", rows[0].Table)
	}
	for _, row := range rows {
		id, ok := row.PK[0].(float64)
		if !ok || int64(id) != fam.customer {
			c.sugar.Errorw("stranger in the range",
				"customer", fam.customer, "table", row.Table, "pk", row.PK)
		}
	}
}

func (c *Checker) call(ctx context.Context, method, path string, body any, out any) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
