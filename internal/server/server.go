// Package server exposes schema registration, row writes and ancestor
// scans over a JSON HTTP API.
package server

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"interleavedb/internal/config"
	"interleavedb/internal/schema"
	"interleavedb/internal/store"
)

type Server struct {
	reg   *schema.Registry
	store *store.Store
	conf  *config.Config
	sugar *zap.SugaredLogger
	hserv *http.Server
}

func NewServer(reg *schema.Registry, st *store.Store, conf *config.Config, logger *zap.Logger) *Server {
	return &Server{
		reg:   reg,
		store: st,
		conf:  conf,
		sugar: logger.Sugar(),
	}
}

func (s *Server) routes() *httprouter.Router {
	router := httprouter.New()

	router.POST("/api/v1/tables", s.withLogging(s.createTable))
	router.GET("/api/v1/tables/:name/lineage", s.withLogging(s.lineage))
	router.PUT("/api/v1/rows/:table", s.withLogging(s.putRow))
	router.POST("/api/v1/rows/:table/get", s.withLogging(s.getRow))
	router.POST("/api/v1/rows/:table/delete", s.withLogging(s.deleteRow))
	router.POST("/api/v1/scan/:table", s.withLogging(s.scanDescendants))
	router.GET("/healthz", s.health)

	return router
}

func (s *Server) Start() error {
	s.hserv = &http.Server{
		Addr:    s.conf.Address,
		Handler: s.routes(),
	}
	s.sugar.Infow("http server start", "address", s.conf.Address)

	err := s.hserv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hserv == nil {
		return nil
	}
	s.sugar.Infow("http server shutdown")
	return s.hserv.Shutdown(ctx)
}
