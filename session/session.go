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

// Package session holds the state of one connected attenuator: its
// transport, the driver for its model and the per-channel labels and
// last verified values.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hz.tools/visa"
	"hz.tools/visa/device/j7204b"
	"hz.tools/visa/internal/logs"
	"hz.tools/visa/profile"
)

var (
	// ErrConnect is returned when the address is invalid or nothing
	// usable answered there.
	ErrConnect = errors.New("invalid IP address or device could not be found")

	// ErrAlreadyConnected is returned when connecting a connected session.
	ErrAlreadyConnected = errors.New("session: already connected")

	// ErrNotConnected is returned by operations that need an instrument.
	ErrNotConnected = errors.New("session: not connected")

	// ErrUnsupportedDevice is returned when the instrument has no driver.
	// It is also an ErrConnect.
	ErrUnsupportedDevice = errors.WithMessage(ErrConnect, "session: unsupported device")

	// ErrWrongDevice is returned when applying a profile saved for a
	// different device type.
	ErrWrongDevice = errors.New("the selected config is not for current device")

	// ErrUnknownChannel is returned for a channel the device does not have.
	ErrUnknownChannel = errors.New("session: unknown channel")
)

// Attenuator is a multi-channel step attenuator driver.
type Attenuator interface {
	Channels() []string
	Channel(ctx context.Context, name string) (int, error)
	Apply(ctx context.Context, name string, db int) (j7204b.Reading, error)
	Reset(ctx context.Context) error
}

// drivers maps device types to the constructor of their driver.
var drivers = map[string]func(j7204b.Conn) Attenuator{
	j7204b.DeviceType: func(c j7204b.Conn) Attenuator { return j7204b.New(c) },
}

// Options configure how sessions reach their instruments.
type Options struct {
	// BaseContext bounds the lifetime of every connection.
	BaseContext context.Context

	// Timeout applies to each instrument operation.
	Timeout time.Duration

	// ResetOnConnect sends *RST to the instrument once identified.
	ResetOnConnect bool
}

// Channel is the operator facing state of one attenuator channel.
type Channel struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Value     int    `json:"value"`
	Requested int    `json:"requested"`
	Verified  bool   `json:"verified"`
}

// Result is the outcome of setting a channel.
type Result struct {
	Channel   string   `json:"channel"`
	Requested int      `json:"requested"`
	Actual    int      `json:"actual"`
	Verified  bool     `json:"verified"`
	Errors    []string `json:"errors,omitempty"`
}

// State is a point in time copy of a session.
type State struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Connected  bool      `json:"connected"`
	Address    string    `json:"address,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	Identity   string    `json:"identity,omitempty"`
	Status     string    `json:"status"`
	Channels   []Channel `json:"channels"`
}

// Session is one instrument connection and its channels.
type Session struct {
	id    string
	title string
	opts  Options

	mu         sync.Mutex
	address    string
	dev        *visa.Device
	att        Attenuator
	identity   visa.Identity
	deviceType string
	order      []string
	channels   map[string]*Channel
}

// New returns a disconnected session.
func New(id, title string, opts Options) *Session {
	return &Session{
		id:       id,
		title:    title,
		opts:     opts,
		channels: map[string]*Channel{},
	}
}

// ID identifies the session.
func (s *Session) ID() string { return s.id }

// Title is the display name of the session.
func (s *Session) Title() string { return s.title }

// Connected reports whether an instrument is attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.att != nil
}

// Connect opens address, which may be an IPv4 address or a VISA resource
// string, identifies the instrument and reads every channel.
func (s *Session) Connect(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connect(ctx, address)
}

func (s *Session) connect(ctx context.Context, address string) error {
	if s.att != nil {
		return ErrAlreadyConnected
	}
	log := logs.WithContext(ctx).With(zap.String("session", s.id), zap.String("address", address))

	res, err := visa.ParseResource(address)
	if err != nil {
		log.Warn("bad address", zap.Error(err))
		return errors.WithMessage(ErrConnect, err.Error())
	}
	base := s.opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	dev, err := visa.OpenResource(res, &visa.Options{BaseContext: base, Timeout: s.opts.Timeout})
	if err != nil {
		log.Warn("open failed", zap.Error(err))
		return errors.WithMessage(ErrConnect, err.Error())
	}

	id, err := visa.Identify(ctx, dev)
	if err != nil {
		dev.Close()
		log.Warn("identify failed", zap.Error(err))
		return errors.WithMessage(ErrConnect, err.Error())
	}
	log.Info("connected", zap.Stringer("identity", id))

	deviceType := id.DeviceType()
	newDriver, ok := drivers[deviceType]
	if !ok {
		dev.Close()
		return errors.Wrapf(ErrUnsupportedDevice, "session: %s", id)
	}
	att := newDriver(dev)

	if s.opts.ResetOnConnect {
		if err := att.Reset(ctx); err != nil {
			dev.Close()
			return errors.Wrap(err, "session: reset")
		}
	}

	channels := map[string]*Channel{}
	order := att.Channels()
	for _, name := range order {
		v, err := att.Channel(ctx, name)
		if err != nil {
			dev.Close()
			return errors.Wrap(err, "session: initial read")
		}
		channels[name] = &Channel{Name: name, Label: name, Value: v, Requested: v, Verified: true}
	}

	s.address = address
	s.dev = dev
	s.att = att
	s.identity = id
	s.deviceType = deviceType
	s.order = order
	s.channels = channels
	return nil
}

// Close drops the instrument connection. Labels are forgotten.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnect()
}

func (s *Session) disconnect() error {
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev, s.att = nil, nil
	s.address, s.deviceType = "", ""
	s.identity = visa.Identity{}
	s.order = nil
	s.channels = map[string]*Channel{}
	return err
}

// Refresh reads every channel back from the instrument.
func (s *Session) Refresh(ctx context.Context) ([]Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.att == nil {
		return nil, ErrNotConnected
	}
	for _, name := range s.order {
		v, err := s.att.Channel(ctx, name)
		if err != nil {
			return nil, s.lost(ctx, err)
		}
		ch := s.channels[name]
		ch.Value = v
		ch.Verified = v == ch.Requested
	}
	return s.snapshot(), nil
}

// Set writes db to a channel, reads it back and reports whether the
// instrument applied it.
func (s *Session) Set(ctx context.Context, channel string, db int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(ctx, channel, db)
}

func (s *Session) set(ctx context.Context, channel string, db int) (Result, error) {
	if s.att == nil {
		return Result{}, ErrNotConnected
	}
	ch, ok := s.channels[channel]
	if !ok {
		return Result{}, errors.Wrapf(ErrUnknownChannel, "session: %q", channel)
	}
	r, err := s.att.Apply(ctx, channel, db)
	if err != nil {
		if !errors.Is(err, j7204b.ErrOutOfRange) {
			// The relays may already have moved.
			ch.Requested = db
			ch.Verified = false
		}
		return Result{}, s.lost(ctx, err)
	}
	ch.Requested = r.Requested
	ch.Value = r.Actual
	ch.Verified = r.Verified()
	var faults []string
	for _, e := range r.Errors {
		faults = append(faults, fmt.Sprintf("%d,%s", e.Code, e.Message))
	}

	log := logs.WithContext(ctx).With(
		zap.String("session", s.id),
		zap.String("channel", channel),
		zap.Int("requested", r.Requested),
		zap.Int("actual", r.Actual),
	)
	if ch.Verified {
		log.Info("channel set")
	} else {
		log.Warn("channel did not take requested value", zap.Strings("instrument_errors", faults))
	}
	return Result{
		Channel:   channel,
		Requested: r.Requested,
		Actual:    r.Actual,
		Verified:  ch.Verified,
		Errors:    faults,
	}, nil
}

// lost drops the connection when err shows the transport can no longer
// be trusted, and returns err.
func (s *Session) lost(ctx context.Context, err error) error {
	if errors.Is(err, visa.ErrTimeout) || errors.Is(err, visa.ErrClosed) {
		logs.WithContext(ctx).Warn("connection lost",
			zap.String("session", s.id),
			zap.String("address", s.address),
			zap.Error(err),
		)
		s.disconnect()
	}
	return err
}

// Label renames a channel for display. An empty label restores the
// channel name.
func (s *Session) Label(channel, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channel]
	if !ok {
		return errors.Wrapf(ErrUnknownChannel, "session: %q", channel)
	}
	if label == "" {
		label = ch.Name
	}
	ch.Label = label
	return nil
}

// Profile captures the device type, address, labels and values.
func (s *Session) Profile() (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.att == nil {
		return profile.Profile{}, ErrNotConnected
	}
	p := profile.Profile{
		DeviceType: s.deviceType,
		Address:    s.address,
		Channels:   map[string]profile.Channel{},
	}
	for _, name := range s.order {
		ch := s.channels[name]
		p.Channels[name] = profile.Channel{Label: ch.Label, Value: ch.Value}
	}
	return p, nil
}

// Apply restores a profile. A disconnected session first connects to the
// address saved in the profile.
func (s *Session) Apply(ctx context.Context, p profile.Profile) ([]Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.att == nil {
		if err := s.connect(ctx, p.Address); err != nil {
			return nil, err
		}
	}
	if s.deviceType != p.DeviceType {
		return nil, errors.Wrapf(ErrWrongDevice, "session: profile is for %s, connected to %s", p.DeviceType, s.deviceType)
	}
	names := p.ChannelNames()
	for _, name := range names {
		if _, ok := s.channels[name]; !ok {
			return nil, errors.Wrapf(ErrUnknownChannel, "session: profile channel %q", name)
		}
	}

	results := make([]Result, 0, len(names))
	for _, name := range names {
		saved := p.Channels[name]
		ch := s.channels[name]
		ch.Label = saved.Label
		if ch.Label == "" {
			ch.Label = name
		}
		r, err := s.set(ctx, name, saved.Value)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Status is the one line connection summary shown to the operator.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status()
}

func (s *Session) status() string {
	if s.att == nil {
		return "Not Connected!"
	}
	return fmt.Sprintf("Connected to: %s @%s", s.deviceType, s.address)
}

// State returns a copy of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		ID:        s.id,
		Title:     s.title,
		Connected: s.att != nil,
		Status:    s.status(),
		Channels:  s.snapshot(),
	}
	if s.att != nil {
		st.Address = s.address
		st.DeviceType = s.deviceType
		st.Identity = s.identity.String()
	}
	return st
}

func (s *Session) snapshot() []Channel {
	out := make([]Channel, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.channels[name])
	}
	return out
}

// vim: foldmethod=marker
