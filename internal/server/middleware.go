package server

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// withLogging wraps a handler with request logging
func (s *Server) withLogging(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		next(w, r, ps)
		s.sugar.Infow("request",
			"method", r.Method,
			"uri", r.RequestURI,
			"duration", time.Since(start),
		)
	}
}
