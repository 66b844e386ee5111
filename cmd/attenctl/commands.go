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

package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/maruel/subcommands"
	"go.uber.org/zap"

	"hz.tools/visa"
	"hz.tools/visa/internal/logs"
	"hz.tools/visa/profile"
	"hz.tools/visa/server"
	"hz.tools/visa/session"
	"hz.tools/visa/visatest"
)

var cmdDiscover = &subcommands.Command{
	UsageLine: "discover [-port N] TARGET...",
	ShortDesc: "scan hosts or IPv4 networks for instruments",
	LongDesc:  "Probe each TARGET (a host, an IPv4 address or a CIDR block such as 192.168.2.0/24) and list the instruments that identify themselves.",
	CommandRun: func() subcommands.CommandRun {
		c := &discoverRun{}
		c.registerCommon()
		c.Flags.IntVar(&c.port, "port", 0, "Port to probe, overrides the config.")
		return c
	},
}

type discoverRun struct {
	commonFlags
	port int
}

func (c *discoverRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) == 0 {
		return usage(a, "at least one target is required")
	}
	if err := c.setup(); err != nil {
		return report(a, err)
	}
	ctx, cancel := signalContext()
	defer cancel()

	opts := c.discoverOptions()
	if c.port > 0 {
		opts.Port = c.port
	}
	found, err := visa.Discover(ctx, args, opts)
	if err != nil {
		return report(a, err)
	}
	tw := tabwriter.NewWriter(a.GetOut(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tDEVICE TYPE\tIDENTITY")
	for _, f := range found {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Resource, f.Identity.DeviceType(), f.Identity)
	}
	tw.Flush()
	return 0
}

var cmdGet = &subcommands.Command{
	UsageLine: "get ADDRESS",
	ShortDesc: "read every channel of an attenuator",
	LongDesc:  "Connect to ADDRESS (an IPv4 address or a VISA resource string) and print the attenuation of each channel.",
	CommandRun: func() subcommands.CommandRun {
		c := &getRun{}
		c.registerCommon()
		return c
	},
}

type getRun struct {
	commonFlags
}

func (c *getRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 1 {
		return usage(a, "expected exactly one address")
	}
	if err := c.setup(); err != nil {
		return report(a, err)
	}
	ctx, cancel := signalContext()
	defer cancel()

	s, err := c.connect(ctx, args[0], false)
	if err != nil {
		return report(a, err)
	}
	defer s.Close()

	st := s.State()
	fmt.Fprintln(a.GetOut(), st.Status)
	tw := tabwriter.NewWriter(a.GetOut(), 0, 4, 2, ' ', 0)
	for _, ch := range st.Channels {
		fmt.Fprintf(tw, "%s\t%d dB\n", ch.Name, ch.Value)
	}
	tw.Flush()
	return 0
}

var cmdSet = &subcommands.Command{
	UsageLine: "set ADDRESS CHANNEL DB",
	ShortDesc: "set one channel and verify it",
	LongDesc:  "Set CHANNEL (for example Ch.1) to DB decibels, read it back and fail if the instrument did not apply it.",
	CommandRun: func() subcommands.CommandRun {
		c := &setRun{}
		c.registerCommon()
		return c
	},
}

type setRun struct {
	commonFlags
}

func (c *setRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 3 {
		return usage(a, "expected ADDRESS CHANNEL DB")
	}
	db, err := strconv.Atoi(args[2])
	if err != nil {
		return usage(a, fmt.Sprintf("bad attenuation %q", args[2]))
	}
	if err := c.setup(); err != nil {
		return report(a, err)
	}
	ctx, cancel := signalContext()
	defer cancel()

	s, err := c.connect(ctx, args[0], false)
	if err != nil {
		return report(a, err)
	}
	defer s.Close()

	res, err := s.Set(ctx, args[1], db)
	if err != nil {
		return report(a, err)
	}
	printResults(a, []session.Result{res})
	if !res.Verified {
		return 1
	}
	return 0
}

var cmdSave = &subcommands.Command{
	UsageLine: "save [-label CH=NAME]... ADDRESS FILE",
	ShortDesc: "save the channel configuration to a JSON profile",
	CommandRun: func() subcommands.CommandRun {
		c := &saveRun{labels: labelFlag{}}
		c.registerCommon()
		c.Flags.Var(c.labels, "label", "Channel label as CHANNEL=LABEL, may be repeated.")
		return c
	},
}

type saveRun struct {
	commonFlags
	labels labelFlag
}

func (c *saveRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 2 {
		return usage(a, "expected ADDRESS FILE")
	}
	if err := c.setup(); err != nil {
		return report(a, err)
	}
	ctx, cancel := signalContext()
	defer cancel()

	s, err := c.connect(ctx, args[0], false)
	if err != nil {
		return report(a, err)
	}
	defer s.Close()

	for ch, label := range c.labels {
		if err := s.Label(ch, label); err != nil {
			return report(a, err)
		}
	}
	p, err := s.Profile()
	if err != nil {
		return report(a, err)
	}
	path, err := profile.Save(args[1], p)
	if err != nil {
		return report(a, err)
	}
	fmt.Fprintf(a.GetOut(), "saved %s\n", path)
	return 0
}

var cmdLoad = &subcommands.Command{
	UsageLine: "load [-address ADDRESS] FILE",
	ShortDesc: "restore a JSON profile onto an attenuator",
	LongDesc:  "Connect to the address saved in FILE (or -address), check the device type matches and set and verify every saved channel.",
	CommandRun: func() subcommands.CommandRun {
		c := &loadRun{}
		c.registerCommon()
		c.Flags.StringVar(&c.address, "address", "", "Connect here instead of the saved address.")
		return c
	},
}

type loadRun struct {
	commonFlags
	address string
}

func (c *loadRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 1 {
		return usage(a, "expected exactly one profile")
	}
	if err := c.setup(); err != nil {
		return report(a, err)
	}
	p, err := profile.Load(args[0])
	if err != nil {
		return report(a, err)
	}
	if c.address != "" {
		p.Address = c.address
	}

	ctx, cancel := signalContext()
	defer cancel()
	s := session.New("cli", args[0], c.sessionOptions(ctx, c.cfg.ResetOnConnect))
	defer s.Close()

	results, err := s.Apply(ctx, p)
	if err != nil {
		return report(a, err)
	}
	printResults(a, results)
	for _, r := range results {
		if !r.Verified {
			return 1
		}
	}
	return 0
}

var cmdServe = &subcommands.Command{
	UsageLine: "serve [-listen ADDR]",
	ShortDesc: "run the HTTP control panel",
	CommandRun: func() subcommands.CommandRun {
		c := &serveRun{}
		c.registerCommon()
		c.Flags.StringVar(&c.listen, "listen", "", "Listen address, overrides the config.")
		return c
	},
}

type serveRun struct {
	commonFlags
	listen string
}

func (c *serveRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.setup(); err != nil {
		return report(a, err)
	}
	ctx, cancel := signalContext()
	defer cancel()

	addr := c.cfg.Listen
	if c.listen != "" {
		addr = c.listen
	}
	sessions := session.NewManager(c.sessionOptions(ctx, c.cfg.ResetOnConnect))
	defer sessions.CloseAll()

	srv := server.New(sessions, c.discoverOptions(), c.cfg.AllowedOrigins)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return report(a, err)
	}
	return 0
}

var cmdSimulate = &subcommands.Command{
	UsageLine: "simulate [-listen ADDR]",
	ShortDesc: "run a simulated L4490A/J7204B on a TCP port",
	CommandRun: func() subcommands.CommandRun {
		c := &simulateRun{}
		c.registerCommon()
		c.Flags.StringVar(&c.listen, "listen", "127.0.0.1:5025", "Address to accept SCPI connections on.")
		c.Flags.StringVar(&c.idn, "idn", visatest.DefaultIdentity, "Response to *IDN?.")
		return c
	},
}

type simulateRun struct {
	commonFlags
	listen string
	idn    string
}

func (c *simulateRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.setup(); err != nil {
		return report(a, err)
	}
	ctx, cancel := signalContext()
	defer cancel()

	sim, err := visatest.Listen(c.listen, logs.Logger.Named("simulator"))
	if err != nil {
		return report(a, err)
	}
	sim.SetIdentity(c.idn)
	logs.Logger.Info("simulator listening", zap.String("addr", sim.Addr()), zap.String("resource", sim.Resource()))

	<-ctx.Done()
	if err := sim.Close(); err != nil {
		return report(a, err)
	}
	return 0
}

func printResults(a subcommands.Application, results []session.Result) {
	tw := tabwriter.NewWriter(a.GetOut(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tREQUESTED\tACTUAL\tSTATUS")
	for _, r := range results {
		status := "ok"
		if !r.Verified {
			status = "MISMATCH"
		}
		if len(r.Errors) > 0 {
			status += " (" + strings.Join(r.Errors, "; ") + ")"
		}
		fmt.Fprintf(tw, "%s\t%d dB\t%d dB\t%s\n", r.Channel, r.Requested, r.Actual, status)
	}
	tw.Flush()
}

// vim: foldmethod=marker
