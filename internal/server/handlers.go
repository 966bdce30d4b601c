package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	perrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"interleavedb/internal/keycodec"
	"interleavedb/internal/schema"
	"interleavedb/internal/store"
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

type createTableResponse struct {
	ID      schema.TableID `json:"id"`
	Version string         `json:"version"`
}

type lineageResponse struct {
	Lineage []string `json:"lineage"`
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

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) createTable(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, perrors.Wrap(err, "decode request"))
		return
	}

	columns := make([]schema.Column, 0, len(req.Columns))
	for _, c := range req.Columns {
		typ, err := keycodec.ParseType(c.Type)
		if err != nil {
			s.writeError(w, 0, err)
			return
		}
		columns = append(columns, schema.Column{Name: c.Name, Type: typ})
	}

	var (
		id  schema.TableID
		err error
	)
	if req.Parent == "" {
		id, err = s.reg.RegisterRoot(req.Name, columns)
	} else {
		parent, ok := s.reg.Current().TableByName(req.Parent)
		if !ok {
			s.writeError(w, 0, perrors.Wrapf(schema.ErrUnknownParent, "%s", req.Parent))
			return
		}
		id, err = s.reg.RegisterChild(req.Name, columns, parent.ID, req.PrefixLen)
	}
	if err != nil {
		s.writeError(w, 0, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createTableResponse{
		ID:      id,
		Version: s.reg.Current().Version().String(),
	})
}

func (s *Server) lineage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	snap := s.reg.Current()
	t, ok := snap.TableByName(ps.ByName("name"))
	if !ok {
		s.writeError(w, 0, perrors.Wrapf(schema.ErrUnknownTable, "%s", ps.ByName("name")))
		return
	}

	chain, err := snap.LineageOf(t.ID)
	if err != nil {
		s.writeError(w, 0, err)
		return
	}

	resp := lineageResponse{Lineage: make([]string, 0, len(chain))}
	for _, id := range chain {
		lt, _ := snap.TableByID(id)
		resp.Lineage = append(resp.Lineage, lt.Name)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) putRow(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, pk, req, ok := s.rowArgs(w, r, ps)
	if !ok {
		return
	}
	if err := s.store.Put(t.ID, pk, req.Data); err != nil {
		s.writeError(w, 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getRow(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, pk, req, ok := s.rowArgs(w, r, ps)
	if !ok {
		return
	}
	data, err := s.store.Get(t.ID, pk)
	if err != nil {
		s.writeError(w, 0, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rowPayload{Table: t.Name, PK: req.PK, Data: data})
}

func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, pk, _, ok := s.rowArgs(w, r, ps)
	if !ok {
		return
	}
	if err := s.store.Delete(t.ID, pk); err != nil {
		s.writeError(w, 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) scanDescendants(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, pk, _, ok := s.rowArgs(w, r, ps)
	if !ok {
		return
	}

	rows, err := s.store.ScanDescendants(r.Context(), t.ID, pk)
	if err != nil {
		s.writeError(w, 0, err)
		return
	}

	snap := s.reg.Current()
	resp := scanResponse{Rows: make([]rowPayload, 0, len(rows))}
	for _, row := range rows {
		rt, _ := snap.TableByID(row.Table)
		name := "?"
		if rt != nil {
			name = rt.Name
		}
		resp.Rows = append(resp.Rows, rowPayload{
			Table: name,
			PK:    pkToJSON(row.PK),
			Data:  row.Data,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
}

// rowArgs resolves the :table parameter and decodes the primary key from
// the request body.
func (s *Server) rowArgs(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (*schema.Table, []keycodec.Value, rowRequest, bool) {
	var req rowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, perrors.Wrap(err, "decode request"))
		return nil, nil, req, false
	}

	t, ok := s.reg.Current().TableByName(ps.ByName("table"))
	if !ok {
		s.writeError(w, 0, perrors.Wrapf(schema.ErrUnknownTable, "%s", ps.ByName("table")))
		return nil, nil, req, false
	}

	pk, err := pkFromJSON(t, req.PK)
	if err != nil {
		s.writeError(w, 0, err)
		return nil, nil, req, false
	}
	return t, pk, req, true
}

// pkFromJSON converts the JSON primary-key array to typed values using
// the table's declared column types.
func pkFromJSON(t *schema.Table, raw []any) ([]keycodec.Value, error) {
	if len(raw) != len(t.Columns) {
		return nil, perrors.Wrapf(keycodec.ErrTypeMismatch,
			"table %s wants %d key values, got %d", t.Name, len(t.Columns), len(raw))
	}

	values := make([]keycodec.Value, 0, len(raw))
	for i, v := range raw {
		col := t.Columns[i]
		switch col.Type {
		case keycodec.TypeInt:
			f, ok := v.(float64)
			if !ok || f != float64(int64(f)) {
				return nil, perrors.Wrapf(keycodec.ErrTypeMismatch, "column %s wants an integer", col.Name)
			}
			values = append(values, keycodec.IntValue(int64(f)))
		case keycodec.TypeString:
			str, ok := v.(string)
			if !ok {
				return nil, perrors.Wrapf(keycodec.ErrTypeMismatch, "column %s wants a string", col.Name)
			}
			values = append(values, keycodec.StringValue(str))
		case keycodec.TypeBytes:
			str, ok := v.(string)
			if !ok {
				return nil, perrors.Wrapf(keycodec.ErrTypeMismatch, "column %s wants base64 bytes", col.Name)
			}
			raw, err := base64.StdEncoding.DecodeString(str)
			if err != nil {
				return nil, perrors.Wrapf(keycodec.ErrTypeMismatch, "column %s: %v", col.Name, err)
			}
			values = append(values, keycodec.BytesValue(raw))
		case keycodec.TypeDecimal:
			var d decimal.Decimal
			var err error
			switch tv := v.(type) {
			case string:
				d, err = decimal.NewFromString(tv)
			case float64:
				d = decimal.NewFromFloat(tv)
			default:
				err = perrors.Wrapf(keycodec.ErrTypeMismatch, "column %s wants a decimal", col.Name)
			}
			if err != nil {
				return nil, perrors.Wrapf(keycodec.ErrTypeMismatch, "column %s: %v", col.Name, err)
			}
			values = append(values, keycodec.DecimalValue(d))
		default:
			return nil, perrors.Wrapf(keycodec.ErrTypeMismatch, "column %s has unknown type", col.Name)
		}
	}
	return values, nil
}

func pkToJSON(pk []keycodec.Value) []any {
	out := make([]any, 0, len(pk))
	for _, v := range pk {
		switch v.Type() {
		case keycodec.TypeInt:
			out = append(out, v.AsInt())
		case keycodec.TypeString:
			out = append(out, v.AsString())
		case keycodec.TypeBytes:
			out = append(out, base64.StdEncoding.EncodeToString(v.AsBytes()))
		case keycodec.TypeDecimal:
			out = append(out, v.AsDecimal().String())
		}
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.sugar.Errorw("write response", "err", err)
	}
}

// writeError picks the status from the error when code is 0.
func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	if code == 0 {
		code = statusOf(err)
	}
	s.sugar.Debugw("request failed", "status", code, "err", err)
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, schema.ErrDuplicateTable),
		errors.Is(err, schema.ErrMultipleParents),
		errors.Is(err, store.ErrNoParentRow):
		return http.StatusConflict
	case errors.Is(err, schema.ErrUnknownParent),
		errors.Is(err, schema.ErrUnknownTable),
		errors.Is(err, store.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrPrefixMismatch),
		errors.Is(err, keycodec.ErrTypeMismatch),
		errors.Is(err, keycodec.ErrMalformedKey):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
