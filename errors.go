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

package visa

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned when using a Device after Close, or after its
	// BaseContext has been cancelled.
	ErrClosed = errors.New("visa: device is closed")

	// ErrNotFound is returned when nothing answers at the resource address.
	ErrNotFound = errors.New("visa: device could not be found")

	// ErrInvalidAddress is returned for a malformed resource string or
	// host address.
	ErrInvalidAddress = errors.New("visa: invalid address")

	// ErrTimeout is returned when the instrument did not answer in time.
	ErrTimeout = errors.New("visa: timeout")
)

// maxErrorQueue caps how many entries Errors will drain in one call.
const maxErrorQueue = 32

// Error is an entry from the instrument's SCPI error queue.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("visa: instrument error %d: %s", e.Code, e.Message)
}

// Class describes the SCPI error class the code belongs to.
func (e *Error) Class() string {
	switch {
	case e.Code == 0:
		return "no error"
	case e.Code <= -100 && e.Code > -200:
		return "command error"
	case e.Code <= -200 && e.Code > -300:
		return "execution error"
	case e.Code <= -300 && e.Code > -400:
		return "device-specific error"
	case e.Code <= -400 && e.Code > -500:
		return "query error"
	case e.Code <= -500 && e.Code > -600:
		return "power on"
	case e.Code <= -600 && e.Code > -700:
		return "user request"
	case e.Code <= -700 && e.Code > -800:
		return "request control"
	case e.Code <= -800 && e.Code > -900:
		return "operation complete"
	case e.Code > 0:
		return "instrument specific error"
	default:
		return "unknown error"
	}
}

// ParseError parses a SYST:ERR? response such as `-113,"Undefined header"`.
func ParseError(resp string) (*Error, error) {
	resp = strings.TrimSpace(resp)
	i := strings.IndexByte(resp, ',')
	if i < 0 {
		return nil, errors.Errorf("visa: malformed error response %q", resp)
	}
	code, err := strconv.Atoi(strings.TrimPrefix(resp[:i], "+"))
	if err != nil {
		return nil, errors.Wrapf(err, "visa: malformed error code in %q", resp)
	}
	msg := strings.Trim(strings.TrimSpace(resp[i+1:]), `"`)
	return &Error{Code: code, Message: msg}, nil
}

func wrapNetErr(err error, op string) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return errors.Wrapf(ErrTimeout, "visa: %s", op)
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return errors.Wrapf(err, "visa: %s", op)
}

// vim: foldmethod=marker
