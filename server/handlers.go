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

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hz.tools/visa"
	"hz.tools/visa/device/j7204b"
	"hz.tools/visa/internal/logs"
	"hz.tools/visa/profile"
	"hz.tools/visa/session"
)

// maxBody caps request bodies; profiles are a few hundred bytes.
const maxBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type connectRequest struct {
	Address string `json:"address"`
}

type setRequest struct {
	Value *int `json:"value"`
}

type labelRequest struct {
	Label string `json:"label"`
}

type applyResponse struct {
	Results []session.Result `json:"results"`
	State   session.State    `json:"state"`
}

type discoverResponse struct {
	Instruments []discovered `json:"instruments"`
}

type discovered struct {
	Resource   string `json:"resource"`
	Identity   string `json:"identity"`
	DeviceType string `json:"device_type"`
}

func formatResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Logger.Error("encode response", zap.Error(err))
	}
}

// statusFor maps an error to the HTTP status reported to the panel.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrUnknownChannel),
		errors.Is(err, j7204b.ErrOutOfRange),
		errors.Is(err, profile.ErrInvalidValue),
		errors.Is(err, visa.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAlreadyConnected),
		errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrWrongDevice):
		return http.StatusConflict
	case errors.Is(err, session.ErrConnect),
		errors.Is(err, session.ErrUnsupportedDevice),
		errors.Is(err, visa.ErrTimeout),
		errors.Is(err, visa.ErrClosed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logs.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}
	formatResponse(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "server: bad request body")
	}
	return nil
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.Sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.Sessions.List()
	states := make([]session.State, 0, len(sessions))
	for _, sess := range sessions {
		states = append(states, sess.State())
	}
	formatResponse(w, http.StatusOK, states)
}

func (s *Server) newSession(w http.ResponseWriter, r *http.Request) {
	sess := s.Sessions.New()
	formatResponse(w, http.StatusCreated, sess.State())
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	formatResponse(w, http.StatusOK, sess.State())
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Close(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	formatResponse(w, http.StatusNoContent, nil)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		formatResponse(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := sess.Connect(r.Context(), req.Address); err != nil {
		writeError(w, r, err)
		return
	}
	formatResponse(w, http.StatusOK, sess.State())
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if _, err := sess.Refresh(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	formatResponse(w, http.StatusOK, sess.State())
}

func (s *Server) setChannel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req setRequest
	if err := decodeBody(r, &req); err != nil {
		formatResponse(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Value == nil {
		formatResponse(w, http.StatusBadRequest, errorResponse{Error: "missing value"})
		return
	}
	res, err := sess.Set(r.Context(), mux.Vars(r)["channel"], *req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	formatResponse(w, http.StatusOK, res)
}

func (s *Server) setLabel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req labelRequest
	if err := decodeBody(r, &req); err != nil {
		formatResponse(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := sess.Label(mux.Vars(r)["channel"], strings.TrimSpace(req.Label)); err != nil {
		writeError(w, r, err)
		return
	}
	formatResponse(w, http.StatusOK, sess.State())
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	p, err := sess.Profile()
	if err != nil {
		writeError(w, r, err)
		return
	}
	formatResponse(w, http.StatusOK, p)
}

func (s *Server) applyProfile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		formatResponse(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	p, err := profile.Decode(buf)
	if err != nil {
		formatResponse(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	results, err := sess.Apply(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	formatResponse(w, http.StatusOK, applyResponse{Results: results, State: sess.State()})
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	targets := r.URL.Query()["target"]
	if len(targets) == 0 {
		formatResponse(w, http.StatusBadRequest, errorResponse{Error: "at least one target is required"})
		return
	}
	found, err := visa.Discover(r.Context(), targets, s.Discover)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := discoverResponse{Instruments: make([]discovered, 0, len(found))}
	for _, f := range found {
		resp.Instruments = append(resp.Instruments, discovered{
			Resource:   f.Resource.String(),
			Identity:   f.Identity.String(),
			DeviceType: f.Identity.DeviceType(),
		})
	}
	formatResponse(w, http.StatusOK, resp)
}

// vim: foldmethod=marker
