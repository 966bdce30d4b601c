package store

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"interleavedb/internal/interleave"
	"interleavedb/internal/keycodec"
	"interleavedb/internal/schema"
)

// PutRequest is what a put middleware sees: the row about to be written
// and the store it is written into.
type PutRequest struct {
	Table schema.TableID
	PK    []keycodec.Value
	Key   interleave.Key
	Data  map[string]any

	store *Store
}

// Store gives middlewares read access to the store, e.g. for parent
// lookups. The chain runs before the write lock is taken.
func (r *PutRequest) Store() *Store {
	return r.store
}

// PutHandler put PutMiddleware handle.
type PutHandler interface {
	Put(*PutRequest) error
}

// The PutHandlerFunc type is an adapter to allow the use of
// ordinary functions as handlers. If f is a function
// with the appropriate signature, PutHandlerFunc(f) is a
// PutHandler that calls f.
type PutHandlerFunc func(*PutRequest) error

// Put calls f(req).
func (f PutHandlerFunc) Put(req *PutRequest) error {
	return f(req)
}

// MiddlewarePutFunc is a function which receives an PutHandler and returns another PutHandler
type MiddlewarePutFunc func(PutHandler) PutHandler

// putMiddlewarer interface is anything which implements a MiddlewarePutFunc named PutMiddleware
type putMiddlewarer interface {
	PutMiddleware(PutHandler) PutHandler
}

// PutMiddleware allows MiddlewarePutFunc to implement the putMiddlewarer interface
func (mw MiddlewarePutFunc) PutMiddleware(h PutHandler) PutHandler {
	return mw(h)
}

// PutChain use pattern chain of responsibility to vet a put before the
// row is written
type PutChain struct {
	putMiddlewares []putMiddlewarer
}

// Attach appends a MiddlewarePutFunc to the put chain
func (p *PutChain) Attach(mwf ...MiddlewarePutFunc) *PutChain {
	for _, fn := range mwf {
		p.putMiddlewares = append(p.putMiddlewares, fn)
	}
	return p
}

func (p *PutChain) put(req *PutRequest) error {
	if len(p.putMiddlewares) == 0 {
		return nil
	}

	var h PutHandler
	// Build PutMiddleware chain if no error was found
	for i := len(p.putMiddlewares) - 1; i >= 0; i-- {
		h = p.putMiddlewares[i].PutMiddleware(h)
	}

	return h.Put(req)
}

// ParentExists is the optional referential-integrity layer: it rejects a
// put whose parent row is absent. The encoder itself never checks this;
// a store without this middleware happily co-locates orphan rows.
//
// The check is advisory under concurrent deletes: it runs outside the
// write lock.
func ParentExists() MiddlewarePutFunc {
	return func(next PutHandler) PutHandler {
		return PutHandlerFunc(func(req *PutRequest) error {
			snap := req.store.reg.Current()
			t, ok := snap.TableByID(req.Table)
			if !ok {
				return fmt.Errorf("%w: id %d", schema.ErrUnknownTable, req.Table)
			}
			if !t.IsRoot() {
				_, err := req.store.Get(t.Parent, req.PK[:t.PrefixLen])
				if errors.Is(err, ErrRowNotFound) {
					return fmt.Errorf("%w: table %s row %s", ErrNoParentRow, t.Name, req.Key)
				}
				if err != nil {
					return err
				}
			}
			if next == nil {
				return nil
			}
			return next.Put(req)
		})
	}
}

// Audit logs every put before it lands.
func Audit(logger *zap.Logger) MiddlewarePutFunc {
	sugar := logger.Sugar()
	return func(next PutHandler) PutHandler {
		return PutHandlerFunc(func(req *PutRequest) error {
			sugar.Infow("put audit", "table", req.Table, "key", req.Key, "fields", len(req.Data))
			if next == nil {
				return nil
			}
			return next.Put(req)
		})
	}
}
