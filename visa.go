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
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds each dial, write and read when neither the
// Options nor the calling context set a tighter deadline.
const DefaultTimeout = 5 * time.Second

// Options contains configurable aspects of the connected VISA device.
type Options struct {
	// BaseContext will be used to extend a context with the same lifecycle
	// as the underlying handle to the remote device. Cancelling it closes
	// the connection.
	BaseContext context.Context

	// Timeout applies to the dial and to every read and write.
	Timeout time.Duration

	// Dialer overrides the dialer used to reach the instrument.
	Dialer *net.Dialer
}

func (opts *Options) context() context.Context {
	if opts == nil || opts.BaseContext == nil {
		return context.Background()
	}
	return opts.BaseContext
}

func (opts *Options) timeout() time.Duration {
	if opts == nil || opts.Timeout <= 0 {
		return DefaultTimeout
	}
	return opts.Timeout
}

func (opts *Options) dialer() *net.Dialer {
	if opts == nil || opts.Dialer == nil {
		return &net.Dialer{}
	}
	return opts.Dialer
}

// Device represents an instrument reachable over a VISA TCPIP resource.
type Device struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration

	mu       sync.Mutex
	closed   bool
	resource Resource
	conn     net.Conn
	rd       *bufio.Reader
}

// Resource returns the resource the device was opened with.
func (d *Device) Resource() Resource {
	return d.resource
}

// Close will release the underlying connection to the device, and close
// the related context, terminating any spawned helpers.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.close()
}

func (d *Device) close() error {
	if d.closed {
		return nil
	}
	d.cancel()
	d.closed = true
	if err := d.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "visa: close")
	}
	return nil
}

// fail closes the device after a failed transfer. A reply that arrives
// late would otherwise be read as the answer to the next query.
func (d *Device) fail(err error, op string) error {
	d.close()
	return wrapNetErr(err, op)
}

func (d *Device) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(d.timeout)
	if cdl, ok := ctx.Deadline(); ok && cdl.Before(dl) {
		return cdl
	}
	return dl
}

func (d *Device) check() error {
	if d.closed {
		return ErrClosed
	}
	if d.ctx.Err() != nil {
		return ErrClosed
	}
	return nil
}

// Write will write raw user data to the device.
func (d *Device) Write(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(d.ctx, buf)
}

func (d *Device) write(ctx context.Context, buf []byte) (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if err := d.conn.SetWriteDeadline(d.deadline(ctx)); err != nil {
		return 0, errors.Wrap(err, "visa: set write deadline")
	}
	n, err := d.conn.Write(buf)
	if err != nil {
		return n, d.fail(err, "write")
	}
	return n, nil
}

// Read will read raw data from the device.
func (d *Device) Read(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return 0, err
	}
	if err := d.conn.SetReadDeadline(d.deadline(d.ctx)); err != nil {
		return 0, errors.Wrap(err, "visa: set read deadline")
	}
	n, err := d.rd.Read(buf)
	if err != nil {
		return n, d.fail(err, "read")
	}
	return n, nil
}

// Command sends a single newline terminated program message.
func (d *Device) Command(ctx context.Context, cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.write(ctx, []byte(cmd+"\n"))
	return err
}

// Query sends a program message and returns the trimmed response line.
// If the transfer fails the device is closed and later calls return
// ErrClosed.
func (d *Device) Query(ctx context.Context, query string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.write(ctx, []byte(query+"\n")); err != nil {
		return "", err
	}
	if err := d.conn.SetReadDeadline(d.deadline(ctx)); err != nil {
		return "", errors.Wrap(err, "visa: set read deadline")
	}
	line, err := d.rd.ReadString('\n')
	if err != nil {
		return "", d.fail(err, "read")
	}
	return strings.TrimSpace(line), nil
}

// Errors drains the instrument's error queue. An empty slice means the
// queue was clear.
func (d *Device) Errors(ctx context.Context) ([]*Error, error) {
	var errs []*Error
	for i := 0; i < maxErrorQueue; i++ {
		resp, err := d.Query(ctx, "SYST:ERR?")
		if err != nil {
			return errs, err
		}
		e, err := ParseError(resp)
		if err != nil {
			return errs, err
		}
		if e.Code == 0 {
			return errs, nil
		}
		errs = append(errs, e)
	}
	return errs, nil
}

// Open will open the VISA resource named by s, for example
// "TCPIP0::192.168.2.234::INSTR".
func Open(s string, opts *Options) (*Device, error) {
	res, err := ParseResource(s)
	if err != nil {
		return nil, err
	}
	return OpenResource(res, opts)
}

// OpenResource will open an already parsed Resource.
func OpenResource(res Resource, opts *Options) (*Device, error) {
	ctx, cancel := context.WithCancel(opts.context())

	dialCtx, dialCancel := context.WithTimeout(ctx, opts.timeout())
	defer dialCancel()

	conn, err := opts.dialer().DialContext(dialCtx, "tcp", res.Addr())
	if err != nil {
		cancel()
		return nil, errors.Wrapf(ErrNotFound, "visa: %s: %v", res, err)
	}

	dev := &Device{
		ctx:      ctx,
		cancel:   cancel,
		timeout:  opts.timeout(),
		resource: res,
		conn:     conn,
		rd:       bufio.NewReader(conn),
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return dev, nil
}

// vim: foldmethod=marker
