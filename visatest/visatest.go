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

// Package visatest provides an in-process SCPI instrument for exercising
// VISA clients. It emulates an L4490A switch platform driving the relay
// ladders of a J7204B four channel step attenuator.
package visatest

import (
	"bufio"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultIdentity is what the simulator answers to "*IDN?".
const DefaultIdentity = "Agilent Technologies,L4490A,MY00000001,1.00"

// Channels is the number of attenuator channels simulated.
const Channels = 4

var (
	onesWeights = []int{1, 2, 4, 4}
	tensWeights = []int{10, 20, 40, 40}
)

// Server is a simulated instrument listening on a TCP port.
type Server struct {
	ln  net.Listener
	log *zap.Logger

	mu       sync.Mutex
	idn      string
	closed   map[int]bool
	stuck    map[int]bool
	errs     []string
	commands []string
	conns    map[net.Conn]struct{}
	shut     bool
	delay    time.Duration

	wg sync.WaitGroup
}

// Listen starts a simulator on addr, for example "127.0.0.1:5025".
func Listen(addr string, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		ln:     ln,
		log:    log,
		idn:    DefaultIdentity,
		closed: map[int]bool{},
		stuck:  map[int]bool{},
		conns:  map[net.Conn]struct{}{},
	}
	s.reset()
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// NewServer starts a simulator on a loopback port chosen by the kernel.
func NewServer() *Server {
	s, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		panic(fmt.Sprintf("visatest: failed to listen: %v", err))
	}
	return s
}

// Addr is the host:port the simulator listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Port is the TCP port the simulator listens on.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Resource is a VISA resource string that reaches the simulator.
func (s *Server) Resource() string {
	host, port, _ := net.SplitHostPort(s.Addr())
	return fmt.Sprintf("TCPIP0::%s::%s::SOCKET", host, port)
}

// Close stops the listener and drops every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shut = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

// SetIdentity changes the "*IDN?" response.
func (s *Server) SetIdentity(idn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idn = idn
}

// SetDelay holds back every query response by d, as a busy or
// unreachable instrument would.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Stick freezes a relay in the given closure state; writes no longer
// move it.
func (s *Server) Stick(relay int, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[relay] = closed
	s.stuck[relay] = true
}

// Attenuation returns the attenuation currently inserted on channel ch
// (1 based).
func (s *Server) Attenuation(ch int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for k, w := range append(append([]int{}, onesWeights...), tensWeights...) {
		if !s.closed[Relay(ch, k+1)] {
			total += w
		}
	}
	return total
}

// SetAttenuation drives channel ch directly, as if set from the front
// panel.
func (s *Server) SetAttenuation(ch, db int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tens, ones := db/10*10, db%10
	if db > 119 {
		tens, ones = 110, db-110
	}
	if err := s.setBank(ch, 1, ones); err != nil {
		return err
	}
	return s.setBank(ch, 2, tens)
}

// Commands returns every program message received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Relay returns the relay channel number for relay k (1..8) of attenuator
// channel ch (1..4).
func Relay(ch, k int) int {
	return 1100 + 20*(ch-1) + k
}

func (s *Server) reset() {
	for ch := 1; ch <= Channels; ch++ {
		for k := 1; k <= 8; k++ {
			r := Relay(ch, k)
			if !s.stuck[r] {
				s.closed[r] = false
			}
		}
	}
	s.errs = nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.shut {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.log.Debug("client connected", zap.Stringer("remote", conn.RemoteAddr()))
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		resp, ok := s.exec(line)
		if !ok {
			continue
		}
		s.mu.Lock()
		delay := s.delay
		s.mu.Unlock()
		time.Sleep(delay)
		if _, err := conn.Write([]byte(resp + "\n")); err != nil {
			return
		}
	}
}

// exec runs one program message. ok is true when the message was a query
// and resp must be sent back.
func (s *Server) exec(line string) (resp string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)
	s.log.Debug("command", zap.String("line", line))

	header, args, _ := strings.Cut(line, " ")
	switch strings.ToUpper(header) {
	case "*IDN?":
		return s.idn, true
	case "*RST":
		s.reset()
		return "", false
	case "*CLS":
		s.errs = nil
		return "", false
	case "*OPC?":
		return "1", true
	case "SYST:ERR?", "SYSTEM:ERROR?":
		if len(s.errs) == 0 {
			return `+0,"No error"`, true
		}
		e := s.errs[0]
		s.errs = s.errs[1:]
		return e, true
	case "ROUT:CLOS?", "ROUTE:CLOSE?":
		relays, err := parseChannelList(args)
		if err != nil {
			s.errs = append(s.errs, `-221,"Settings conflict"`)
			return "", true
		}
		states := make([]string, len(relays))
		for i, r := range relays {
			states[i] = "0"
			if s.closed[r] {
				states[i] = "1"
			}
		}
		return strings.Join(states, ","), true
	case "ROUT:SEQ:TRIG", "ROUTE:SEQUENCE:TRIGGER":
		if err := s.trigger(strings.TrimSpace(args)); err != nil {
			s.errs = append(s.errs, `-224,"Illegal parameter value"`)
		}
		return "", false
	}

	s.errs = append(s.errs, `-113,"Undefined header"`)
	if strings.HasSuffix(header, "?") {
		return "", true
	}
	return "", false
}

// trigger runs a stored sequence named ATTEN_<ch>_<bank>_<value>.
func (s *Server) trigger(name string) error {
	parts := strings.Split(name, "_")
	if len(parts) != 4 || !strings.EqualFold(parts[0], "ATTEN") {
		return fmt.Errorf("visatest: unknown sequence %q", name)
	}
	var nums [3]int
	for i, p := range parts[1:] {
		n, err := strconv.Atoi(p)
		if err != nil {
			return err
		}
		nums[i] = n
	}
	return s.setBank(nums[0], nums[1], nums[2])
}

// setBank opens the relays of one ladder so their weights add up to value.
func (s *Server) setBank(ch, bank, value int) error {
	if ch < 1 || ch > Channels {
		return fmt.Errorf("visatest: no channel %d", ch)
	}
	weights, offset := onesWeights, 1
	if bank == 2 {
		weights, offset = tensWeights, 5
	} else if bank != 1 {
		return fmt.Errorf("visatest: no bank %d", bank)
	}

	open := make([]bool, len(weights))
	rest := value
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] <= rest {
			open[i] = true
			rest -= weights[i]
		}
	}
	if rest != 0 || value < 0 {
		return fmt.Errorf("visatest: %d cannot be set on bank %d", value, bank)
	}
	for i := range weights {
		r := Relay(ch, offset+i)
		if s.stuck[r] {
			if s.closed[r] != !open[i] {
				s.errs = append(s.errs, fmt.Sprintf(`-240,"Hardware error;relay %d"`, r))
			}
			continue
		}
		s.closed[r] = !open[i]
	}
	return nil
}

// parseChannelList parses "(@1101,1102)" or "(@1101:1108)".
func parseChannelList(arg string) ([]int, error) {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(arg, "(@") || !strings.HasSuffix(arg, ")") {
		return nil, fmt.Errorf("visatest: bad channel list %q", arg)
	}
	arg = arg[2 : len(arg)-1]
	var out []int
	for _, item := range strings.Split(arg, ",") {
		lo, hi, isRange := strings.Cut(strings.TrimSpace(item), ":")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, err
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil {
				return nil, err
			}
		}
		if b < a {
			a, b = b, a
		}
		for r := a; r <= b; r++ {
			out = append(out, r)
		}
	}
	return out, nil
}

// closedRelays lists closed relays, for debugging.
func (s *Server) closedRelays() []int {
	var out []int
	for r, c := range s.closed {
		if c {
			out = append(out, r)
		}
	}
	sort.Ints(out)
	return out
}

// String describes the simulator state.
func (s *Server) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("visatest.Server{addr: %s, closed: %v}", s.Addr(), s.closedRelays())
}

// vim: foldmethod=marker
