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

// Package j7204b drives a Keysight J7204B four channel step attenuator
// through the relay banks of an L4490A switch platform.
package j7204b

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"hz.tools/visa"
)

// DeviceType is the name used for this assembly in saved profiles.
const DeviceType = "Keysight_J7204B"

const (
	// MinAttenuation is the lowest settable attenuation, in dB.
	MinAttenuation = 0

	// MaxAttenuation is the highest settable attenuation, in dB.
	MaxAttenuation = 121
)

var (
	// ErrOutOfRange is returned for attenuation values outside 0..121 dB.
	ErrOutOfRange = errors.New("j7204b: attenuation out of range")

	// ErrUnknownChannel is returned for a channel name that is not one of
	// Channels.
	ErrUnknownChannel = errors.New("j7204b: unknown channel")
)

// Channels are the attenuator channels, in front panel order.
var Channels = []string{"Ch.1", "Ch.2", "Ch.3", "Ch.4"}

// weights is the attenuation inserted by each of a channel's eight relays
// when it is open. The first four form the ones ladder, the rest the tens.
var weights = [8]int{1, 2, 4, 4, 10, 20, 40, 40}

// Conn is the instrument connection the attenuator is driven over.
// *visa.Device satisfies it.
type Conn interface {
	Command(ctx context.Context, cmd string) error
	Query(ctx context.Context, query string) (string, error)
}

// errorQueue is implemented by connections that can drain the SCPI
// error queue.
type errorQueue interface {
	Errors(ctx context.Context) ([]*visa.Error, error)
}

// Device represents a J7204B attached to an L4490A.
type Device struct {
	conn Conn

	mu     sync.Mutex
	values map[string]int
}

// New will create a new j7204b.Device over an open connection.
func New(conn Conn) *Device {
	return &Device{conn: conn, values: map[string]int{}}
}

// Channels returns the channel names of the attenuator.
func (dev *Device) Channels() []string {
	return append([]string(nil), Channels...)
}

func channelNumber(name string) (int, error) {
	for i, ch := range Channels {
		if ch == name {
			return i + 1, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownChannel, "j7204b: %q", name)
}

// relayList builds the "(@1101,...,1108)" channel list for a channel.
func relayList(n int) string {
	relays := make([]string, len(weights))
	for k := range weights {
		relays[k] = strconv.Itoa(1100 + 20*(n-1) + k + 1)
	}
	return "(@" + strings.Join(relays, ",") + ")"
}

// Reset will do a soft-reset of the switch platform.
func (dev *Device) Reset(ctx context.Context) error {
	return dev.write(ctx, "*RST")
}

// write sends cmd and blocks until the instrument reports the operation
// complete.
func (dev *Device) write(ctx context.Context, cmd string) error {
	if err := dev.conn.Command(ctx, cmd); err != nil {
		return errors.Wrapf(err, "j7204b: %s", cmd)
	}
	resp, err := dev.conn.Query(ctx, "*OPC?")
	if err != nil {
		return errors.Wrapf(err, "j7204b: waiting for %s", cmd)
	}
	if strings.TrimSpace(resp) != "1" {
		return errors.Errorf("j7204b: unexpected *OPC? response %q after %s", resp, cmd)
	}
	return nil
}

// Channel reads the attenuation of a channel back from the relay states.
func (dev *Device) Channel(ctx context.Context, name string) (int, error) {
	n, err := channelNumber(name)
	if err != nil {
		return 0, err
	}
	resp, err := dev.conn.Query(ctx, "ROUT:CLOS? "+relayList(n))
	if err != nil {
		return 0, errors.Wrapf(err, "j7204b: reading %s", name)
	}
	states, err := ParseStates(resp)
	if err != nil {
		return 0, errors.Wrapf(err, "j7204b: reading %s", name)
	}
	value, err := Decode(states)
	if err != nil {
		return 0, errors.Wrapf(err, "j7204b: reading %s", name)
	}

	dev.mu.Lock()
	dev.values[name] = value
	dev.mu.Unlock()
	return value, nil
}

// LastValue returns the most recent attenuation read from a channel.
func (dev *Device) LastValue(name string) (int, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	v, ok := dev.values[name]
	return v, ok
}

// SetChannel will trigger the relay sequences that set a channel to db.
// The tens ladder is only switched when its part of the value changed
// since the channel was last read.
func (dev *Device) SetChannel(ctx context.Context, name string, db int) error {
	n, err := channelNumber(name)
	if err != nil {
		return err
	}
	ones, tens, err := Split(db)
	if err != nil {
		return err
	}

	prefix := fmt.Sprintf("ROUT:SEQ:TRIG ATTEN_%d_", n)
	if err := dev.write(ctx, fmt.Sprintf("%s1_%d", prefix, ones)); err != nil {
		return err
	}

	if last, known := dev.LastValue(name); known {
		if _, lastTens, err := Split(last); err == nil && lastTens == tens {
			return nil
		}
	}
	return dev.write(ctx, fmt.Sprintf("%s2_%d", prefix, tens))
}

// Reading is the outcome of setting a channel and reading it back.
type Reading struct {
	Channel   string
	Requested int
	Actual    int

	// Errors holds what the instrument queued while a channel failed to
	// take its value.
	Errors []*visa.Error
}

// Verified reports whether the instrument applied the requested value.
func (r Reading) Verified() bool {
	return r.Requested == r.Actual
}

// Apply sets a channel and reads it back. When the read back value
// differs, the instrument's error queue is drained into the Reading.
func (dev *Device) Apply(ctx context.Context, name string, db int) (Reading, error) {
	if err := dev.SetChannel(ctx, name, db); err != nil {
		return Reading{}, err
	}
	actual, err := dev.Channel(ctx, name)
	if err != nil {
		return Reading{}, err
	}
	r := Reading{Channel: name, Requested: db, Actual: actual}
	if r.Verified() {
		return r, nil
	}
	if q, ok := dev.conn.(errorQueue); ok {
		if r.Errors, err = q.Errors(ctx); err != nil {
			return r, errors.Wrapf(err, "j7204b: reading errors after setting %s", name)
		}
	}
	return r, nil
}

// vim: foldmethod=marker
