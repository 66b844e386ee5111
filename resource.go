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

// SocketPort is the raw SCPI socket port used for INSTR resources.
const SocketPort = 5025

// Kind is the resource class at the end of a VISA resource string.
type Kind string

var (
	// Instr is an INSTR resource, reached through the instrument's raw
	// SCPI socket on SocketPort.
	Instr Kind = "INSTR"

	// Socket is a SOCKET resource with an explicit port.
	Socket Kind = "SOCKET"
)

// Resource is a parsed TCPIP VISA resource.
type Resource struct {
	Board int
	Host  string
	Port  int
	Kind  Kind
}

// Addr is the host:port to dial.
func (r Resource) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Resource) String() string {
	if r.Kind == Socket {
		return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", r.Board, r.Host, r.Port)
	}
	return fmt.Sprintf("TCPIP%d::%s::INSTR", r.Board, r.Host)
}

// ParseResource parses a TCPIP VISA resource string. A bare host or IPv4
// address is taken to mean TCPIP0::<host>::INSTR.
func ParseResource(s string) (Resource, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Resource{}, errors.Wrap(ErrInvalidAddress, "visa: empty resource")
	}

	if !strings.Contains(s, "::") {
		host, err := NormalizeHost(s)
		if err != nil {
			return Resource{}, err
		}
		return Resource{Host: host, Port: SocketPort, Kind: Instr}, nil
	}

	parts := strings.Split(s, "::")
	iface := strings.ToUpper(parts[0])
	if !strings.HasPrefix(iface, "TCPIP") {
		return Resource{}, errors.Wrapf(ErrInvalidAddress, "visa: unsupported interface in %q", s)
	}
	board := 0
	if n := strings.TrimPrefix(iface, "TCPIP"); n != "" {
		var err error
		if board, err = strconv.Atoi(n); err != nil || board < 0 {
			return Resource{}, errors.Wrapf(ErrInvalidAddress, "visa: bad board number in %q", s)
		}
	}

	switch {
	case len(parts) == 3 && strings.EqualFold(parts[2], string(Instr)):
		host, err := NormalizeHost(parts[1])
		if err != nil {
			return Resource{}, err
		}
		return Resource{Board: board, Host: host, Port: SocketPort, Kind: Instr}, nil
	case len(parts) == 2:
		host, err := NormalizeHost(parts[1])
		if err != nil {
			return Resource{}, err
		}
		return Resource{Board: board, Host: host, Port: SocketPort, Kind: Instr}, nil
	case len(parts) == 4 && strings.EqualFold(parts[3], string(Socket)):
		host, err := NormalizeHost(parts[1])
		if err != nil {
			return Resource{}, err
		}
		port, err := strconv.Atoi(parts[2])
		if err != nil || port <= 0 || port > 65535 {
			return Resource{}, errors.Wrapf(ErrInvalidAddress, "visa: bad port in %q", s)
		}
		return Resource{Board: board, Host: host, Port: port, Kind: Socket}, nil
	default:
		return Resource{}, errors.Wrapf(ErrInvalidAddress, "visa: unsupported resource %q", s)
	}
}

// NormalizeHost strips leading zeros from a dotted IPv4 address, so
// "192.168.002.234" becomes "192.168.2.234". Anything that looks like an
// IPv4 address but has a bad octet is rejected. Hostnames pass through.
func NormalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", errors.Wrap(ErrInvalidAddress, "visa: empty host")
	}
	if !looksNumeric(host) {
		if strings.ContainsAny(host, " /\\:") {
			return "", errors.Wrapf(ErrInvalidAddress, "visa: bad host %q", host)
		}
		return host, nil
	}

	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return "", errors.Wrapf(ErrInvalidAddress, "visa: bad IPv4 address %q", host)
	}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return "", errors.Wrapf(ErrInvalidAddress, "visa: bad IPv4 address %q", host)
		}
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "."), nil
}

// looksNumeric reports whether host is made of digits, dots and the
// blanks an input mask leaves behind.
func looksNumeric(host string) bool {
	for _, r := range host {
		if (r < '0' || r > '9') && r != '.' && r != '_' {
			return false
		}
	}
	return true
}

// vim: foldmethod=marker
