// {{{ Copyright (c) Paul R. Tagliamonte <paul@k3xec.com>, 2021
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE. }}}

// Package server exposes attenuator sessions as a small JSON control
// panel over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"hz.tools/visa"
	"hz.tools/visa/internal/logs"
	"hz.tools/visa/session"
)

// RequestIDHeader carries the request id in and out of the panel.
const RequestIDHeader = "X-Request-Id"

// Server routes control panel requests to a session.Manager.
type Server struct {
	Sessions       *session.Manager
	Discover       *visa.DiscoverOptions
	AllowedOrigins []string
}

// New returns a Server over sessions.
func New(sessions *session.Manager, discover *visa.DiscoverOptions, allowedOrigins []string) *Server {
	return &Server{Sessions: sessions, Discover: discover, AllowedOrigins: allowedOrigins}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Methods(http.MethodGet).Path("/sessions").HandlerFunc(s.listSessions)
	router.Methods(http.MethodPost).Path("/sessions").HandlerFunc(s.newSession)
	router.Methods(http.MethodGet).Path("/sessions/{id}").HandlerFunc(s.getSession)
	router.Methods(http.MethodDelete).Path("/sessions/{id}").HandlerFunc(s.closeSession)
	router.Methods(http.MethodPost).Path("/sessions/{id}/connect").HandlerFunc(s.connect)
	router.Methods(http.MethodPost).Path("/sessions/{id}/refresh").HandlerFunc(s.refresh)
	router.Methods(http.MethodPut).Path("/sessions/{id}/channels/{channel}").HandlerFunc(s.setChannel)
	router.Methods(http.MethodPut).Path("/sessions/{id}/channels/{channel}/label").HandlerFunc(s.setLabel)
	router.Methods(http.MethodGet).Path("/sessions/{id}/profile").HandlerFunc(s.getProfile)
	router.Methods(http.MethodPut).Path("/sessions/{id}/profile").HandlerFunc(s.applyProfile)
	router.Methods(http.MethodGet).Path("/discover").HandlerFunc(s.discover)
	return router
}

// Handler wraps the router with CORS and request id middleware.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
	})
	return c.Handler(requestIDMiddleware(s.Router()))
}

// ListenAndServe serves the panel on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		logs.Logger.Info("control panel listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
			r.Header.Set(RequestIDHeader, requestID)
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx := logs.NewContext(r.Context(), zap.String("request_id", requestID))
		logs.WithContext(ctx).Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// vim: foldmethod=marker
