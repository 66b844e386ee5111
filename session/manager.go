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

package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session: not found")

// Manager keeps the open sessions in creation order.
type Manager struct {
	opts Options

	mu       sync.Mutex
	created  int
	order    []string
	sessions map[string]*Session
}

// NewManager returns an empty Manager whose sessions use opts.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts, sessions: map[string]*Session{}}
}

// New opens a new, disconnected session titled "Device N".
func (m *Manager) New() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	s := New(uuid.New().String(), fmt.Sprintf("Device %d", m.created), m.opts)
	m.sessions[s.id] = s
	m.order = append(m.order, s.id)
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "session: %q", id)
	}
	return s, nil
}

// List returns the sessions in creation order.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// Close disconnects and forgets a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		for i, oid := range m.order {
			if oid == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrNotFound, "session: %q", id)
	}
	return s.Close()
}

// CloseAll disconnects every session.
func (m *Manager) CloseAll() error {
	var first error
	for _, s := range m.List() {
		if err := m.Close(s.ID()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// vim: foldmethod=marker
