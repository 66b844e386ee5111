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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestParseResource(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Resource
	}{
		{"192.168.002.234", Resource{Host: "192.168.2.234", Port: 5025, Kind: Instr}},
		{"TCPIP::192.168.2.234::INSTR", Resource{Host: "192.168.2.234", Port: 5025, Kind: Instr}},
		{"tcpip1::10.0.0.7::instr", Resource{Board: 1, Host: "10.0.0.7", Port: 5025, Kind: Instr}},
		{"TCPIP0::10.000.000.007", Resource{Host: "10.0.0.7", Port: 5025, Kind: Instr}},
		{"TCPIP0::127.0.0.1::5555::SOCKET", Resource{Host: "127.0.0.1", Port: 5555, Kind: Socket}},
		{"TCPIP0::atten-lab-3::INSTR", Resource{Host: "atten-lab-3", Port: 5025, Kind: Instr}},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseResource(tc.in)
			if err != nil {
				t.Fatalf("ParseResource(%q): %v", tc.in, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseResource(%q) mismatch (-want +got):\n%s", tc.in, diff)
			}
		})
	}
}

func TestParseResourceInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"192.168.2",
		"192.168.256.1",
		"192.168.___.1",
		"GPIB0::12::INSTR",
		"TCPIP0::10.0.0.1::0::SOCKET",
		"TCPIP0::10.0.0.1::70000::SOCKET",
		"TCPIP0::10.0.0.1::5025::INSTR",
		"TCPIPx::10.0.0.1::INSTR",
	} {
		if _, err := ParseResource(in); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("ParseResource(%q) = %v, want ErrInvalidAddress", in, err)
		}
	}
}

func TestResourceString(t *testing.T) {
	for _, tc := range []struct {
		res  Resource
		want string
		addr string
	}{
		{Resource{Host: "192.168.2.234", Port: 5025, Kind: Instr}, "TCPIP0::192.168.2.234::INSTR", "192.168.2.234:5025"},
		{Resource{Board: 2, Host: "127.0.0.1", Port: 6000, Kind: Socket}, "TCPIP2::127.0.0.1::6000::SOCKET", "127.0.0.1:6000"},
	} {
		if got := tc.res.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
		if got := tc.res.Addr(); got != tc.addr {
			t.Errorf("Addr() = %q, want %q", got, tc.addr)
		}
		round, err := ParseResource(tc.res.String())
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(tc.res, round); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestNormalizeHost(t *testing.T) {
	for in, want := range map[string]string{
		"192.168.002.234": "192.168.2.234",
		"010.000.000.001": "10.0.0.1",
		" 10.1.1.1 ":      "10.1.1.1",
		"bench-atten":     "bench-atten",
	} {
		got, err := NormalizeHost(in)
		if err != nil {
			t.Errorf("NormalizeHost(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}
