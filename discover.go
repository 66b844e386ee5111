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
	"context"
	"encoding/binary"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// maxDiscoverHosts caps how many addresses one Discover call will probe.
const maxDiscoverHosts = 1 << 16

// DiscoverOptions tunes a network scan.
type DiscoverOptions struct {
	// Port to probe on each host. Defaults to SocketPort.
	Port int

	// Timeout for each probe. Defaults to 500ms.
	Timeout time.Duration

	// Workers is the number of hosts probed at once. Defaults to 64.
	Workers int
}

func (opts *DiscoverOptions) port() int {
	if opts == nil || opts.Port <= 0 {
		return SocketPort
	}
	return opts.Port
}

func (opts *DiscoverOptions) timeout() time.Duration {
	if opts == nil || opts.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return opts.Timeout
}

func (opts *DiscoverOptions) workers() int {
	if opts == nil || opts.Workers <= 0 {
		return 64
	}
	return opts.Workers
}

// Found is an instrument that answered a Discover probe.
type Found struct {
	Resource Resource
	Identity Identity
}

// Discover probes every target, which may be a host, an IPv4 address or
// an IPv4 CIDR block, and returns the instruments that identified
// themselves, ordered by address.
func Discover(ctx context.Context, targets []string, opts *DiscoverOptions) ([]Found, error) {
	var hosts []string
	for _, t := range targets {
		expanded, err := expandTarget(t)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, expanded...)
		if len(hosts) > maxDiscoverHosts {
			return nil, errors.Wrapf(ErrInvalidAddress, "visa: more than %d hosts to discover", maxDiscoverHosts)
		}
	}

	var (
		mu    sync.Mutex
		found []Found
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for _, host := range hosts {
		res := Resource{Host: host, Port: opts.port(), Kind: Socket}
		if res.Port == SocketPort {
			res.Kind = Instr
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			id, err := probe(gctx, res, opts.timeout())
			if err != nil {
				return nil
			}
			mu.Lock()
			found = append(found, Found{Resource: res, Identity: id})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool {
		return hostLess(found[i].Resource.Host, found[j].Resource.Host)
	})
	return found, nil
}

func probe(ctx context.Context, res Resource, timeout time.Duration) (Identity, error) {
	dev, err := OpenResource(res, &Options{BaseContext: ctx, Timeout: timeout})
	if err != nil {
		return Identity{}, err
	}
	defer dev.Close()
	return Identify(ctx, dev)
}

func expandTarget(target string) ([]string, error) {
	target = strings.TrimSpace(target)
	if !strings.Contains(target, "/") {
		host, err := NormalizeHost(target)
		if err != nil {
			return nil, err
		}
		return []string{host}, nil
	}

	_, ipnet, err := net.ParseCIDR(target)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "visa: bad network %q", target)
	}
	base := ipnet.IP.To4()
	if base == nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "visa: only IPv4 networks can be scanned, got %q", target)
	}
	ones, bits := ipnet.Mask.Size()
	if bits-ones > 16 {
		return nil, errors.Wrapf(ErrInvalidAddress, "visa: network %q is too large to scan", target)
	}

	size := uint32(1) << uint(bits-ones)
	start := binary.BigEndian.Uint32(base)
	first, last := uint32(0), size
	if size > 2 {
		// Skip the network and broadcast addresses.
		first, last = 1, size-1
	}
	hosts := make([]string, 0, last-first)
	for i := first; i < last; i++ {
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, start+i)
		hosts = append(hosts, ip.String())
	}
	return hosts, nil
}

func hostLess(a, b string) bool {
	ipa, ipb := net.ParseIP(a).To4(), net.ParseIP(b).To4()
	if ipa != nil && ipb != nil {
		return binary.BigEndian.Uint32(ipa) < binary.BigEndian.Uint32(ipb)
	}
	return a < b
}

// vim: foldmethod=marker
