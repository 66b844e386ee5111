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

package j7204b

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Split breaks an attenuation into the ones and tens ladder settings.
// Values above 119 put 110 dB on the tens ladder and the remaining 10 or
// 11 dB on the ones ladder, which tops out at 11.
func Split(db int) (ones, tens int, err error) {
	if db < MinAttenuation || db > MaxAttenuation {
		return 0, 0, errors.Wrapf(ErrOutOfRange, "j7204b: %d dB", db)
	}
	if db > 119 {
		return db - 110, 110, nil
	}
	return db % 10, db / 10 * 10, nil
}

// ParseStates parses a "ROUT:CLOS?" response into relay closure states,
// one per relay, 1 when closed.
func ParseStates(resp string) ([]int, error) {
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return nil, errors.New("j7204b: empty relay state response")
	}
	fields := strings.Split(resp, ",")
	states := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || (v != 0 && v != 1) {
			return nil, errors.Errorf("j7204b: bad relay state %q in %q", f, resp)
		}
		states[i] = v
	}
	return states, nil
}

// Decode turns the closure states of a channel's eight relays into the
// attenuation they insert. Every open relay adds its pad.
func Decode(states []int) (int, error) {
	if len(states) != len(weights) {
		return 0, errors.Errorf("j7204b: expected %d relay states, got %d", len(weights), len(states))
	}
	total := 0
	for i, s := range states {
		total += weights[i] * (1 - s)
	}
	return total, nil
}

// vim: foldmethod=marker
