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
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"hz.tools/visa/visatest"
)

func openSim(t *testing.T) (*visatest.Server, *Device) {
	t.Helper()
	sim := visatest.NewServer()
	t.Cleanup(func() { sim.Close() })

	dev, err := Open(sim.Resource(), &Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Open(%s): %v", sim.Resource(), err)
	}
	t.Cleanup(func() { dev.Close() })
	return sim, dev
}

func TestQuery(t *testing.T) {
	_, dev := openSim(t)
	ctx := context.Background()

	got, err := dev.Query(ctx, "*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	if got != visatest.DefaultIdentity {
		t.Errorf("*IDN? = %q, want %q", got, visatest.DefaultIdentity)
	}

	if err := dev.Command(ctx, "*RST"); err != nil {
		t.Fatal(err)
	}
	if got, err := dev.Query(ctx, "*OPC?"); err != nil || got != "1" {
		t.Errorf("*OPC? = %q, %v; want 1", got, err)
	}
}

func TestIdentify(t *testing.T) {
	sim, dev := openSim(t)
	ctx := context.Background()

	id, err := Identify(ctx, dev)
	if err != nil {
		t.Fatal(err)
	}
	want := Identity{
		Manufacturer: "Agilent Technologies",
		Model:        "L4490A",
		Serial:       "MY00000001",
		Firmware:     "1.00",
	}
	if diff := cmp.Diff(want, id); diff != "" {
		t.Errorf("Identify mismatch (-want +got):\n%s", diff)
	}
	if got := id.DeviceType(); got != "Keysight_J7204B" {
		t.Errorf("DeviceType() = %q", got)
	}

	sim.SetIdentity("Rohde&Schwarz,FSW-26,1312.8000K26/101234,4.61")
	id, err = Identify(ctx, dev)
	if err != nil {
		t.Fatal(err)
	}
	if got := id.DeviceType(); got != UnknownDeviceType {
		t.Errorf("DeviceType() = %q, want %q", got, UnknownDeviceType)
	}
}

func TestErrors(t *testing.T) {
	_, dev := openSim(t)
	ctx := context.Background()

	if err := dev.Command(ctx, "BOGUS:CMD"); err != nil {
		t.Fatal(err)
	}
	if err := dev.Command(ctx, "ROUT:SEQ:TRIG ATTEN_9_1_1"); err != nil {
		t.Fatal(err)
	}
	errs, err := dev.Errors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []*Error{
		{Code: -113, Message: "Undefined header"},
		{Code: -224, Message: "Illegal parameter value"},
	}
	if diff := cmp.Diff(want, errs); diff != "" {
		t.Errorf("Errors mismatch (-want +got):\n%s", diff)
	}
	if errs[0].Class() != "command error" || errs[1].Class() != "execution error" {
		t.Errorf("unexpected classes %q, %q", errs[0].Class(), errs[1].Class())
	}

	errs, err = dev.Errors(ctx)
	if err != nil || len(errs) != 0 {
		t.Errorf("second Errors() = %v, %v; want empty queue", errs, err)
	}
}

func TestClose(t *testing.T) {
	_, dev := openSim(t)
	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := dev.Query(context.Background(), "*IDN?"); !errors.Is(err, ErrClosed) {
		t.Errorf("Query after Close = %v, want ErrClosed", err)
	}
}

func TestBaseContextCancel(t *testing.T) {
	sim := visatest.NewServer()
	defer sim.Close()

	ctx, cancel := context.WithCancel(context.Background())
	dev, err := Open(sim.Resource(), &Options{BaseContext: ctx})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	cancel()
	if _, err := dev.Query(context.Background(), "*IDN?"); !errors.Is(err, ErrClosed) {
		t.Errorf("Query after cancel = %v, want ErrClosed", err)
	}
}

func TestQueryTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	dev, err := OpenResource(Resource{Host: "127.0.0.1", Port: port, Kind: Socket}, &Options{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	if _, err := dev.Query(context.Background(), "*IDN?"); !errors.Is(err, ErrTimeout) {
		t.Errorf("Query against a silent peer = %v, want ErrTimeout", err)
	}
}

func TestQueryLateReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for n := 1; sc.Scan(); n++ {
			if n == 1 {
				time.Sleep(300 * time.Millisecond)
			}
			fmt.Fprintf(conn, "reply-%d:%s\n", n, sc.Text())
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	dev, err := OpenResource(Resource{Host: "127.0.0.1", Port: port, Kind: Socket}, &Options{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	ctx := context.Background()
	if _, err := dev.Query(ctx, "ROUT:CLOS? (@1101)"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("first Query = %v, want ErrTimeout", err)
	}
	time.Sleep(400 * time.Millisecond)
	if resp, err := dev.Query(ctx, "ROUT:CLOS? (@1121)"); !errors.Is(err, ErrClosed) {
		t.Errorf("Query after a timeout = %q, %v, want ErrClosed", resp, err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("Close after a failed transfer: %v", err)
	}
}

func TestOpenNotFound(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = OpenResource(Resource{Host: "127.0.0.1", Port: port, Kind: Socket}, &Options{Timeout: time.Second})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Open on a closed port = %v, want ErrNotFound", err)
	}
}

func TestParseError(t *testing.T) {
	for in, want := range map[string]*Error{
		`+0,"No error"`:              {Code: 0, Message: "No error"},
		`-113,"Undefined header"`:    {Code: -113, Message: "Undefined header"},
		` -222,"Data out of range"`: {Code: -222, Message: "Data out of range"},
	} {
		got, err := ParseError(in)
		if err != nil {
			t.Errorf("ParseError(%q): %v", in, err)
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ParseError(%q) mismatch (-want +got):\n%s", in, diff)
		}
	}
	if _, err := ParseError("garbage"); err == nil {
		t.Error("ParseError(garbage) succeeded")
	}
}
