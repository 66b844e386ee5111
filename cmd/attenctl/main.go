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

// Command attenctl discovers, drives and snapshots networked RF step
// attenuators.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/maruel/subcommands"
	"go.uber.org/zap"

	"hz.tools/visa"
	"hz.tools/visa/internal/config"
	"hz.tools/visa/internal/logs"
	"hz.tools/visa/session"
)

// commonFlags are shared by every subcommand.
type commonFlags struct {
	subcommands.CommandRunBase

	configFile string
	logLevel   string

	cfg config.Config
}

func (c *commonFlags) registerCommon() {
	c.Flags.StringVar(&c.configFile, "config", "", "Path to an attenctl config file.")
	c.Flags.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error).")
}

// setup loads the config and builds the logger.
func (c *commonFlags) setup() error {
	v := config.New()
	if c.logLevel != "" {
		v.Set("log_level", c.logLevel)
	}
	cfg, err := config.Load(v, c.configFile)
	if err != nil {
		return err
	}
	if _, err := logs.Init("attenctl", cfg.LogLevel, true); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func (c *commonFlags) sessionOptions(ctx context.Context, reset bool) session.Options {
	return session.Options{
		BaseContext:    ctx,
		Timeout:        c.cfg.Timeout,
		ResetOnConnect: reset,
	}
}

func (c *commonFlags) discoverOptions() *visa.DiscoverOptions {
	return &visa.DiscoverOptions{
		Port:    c.cfg.Discover.Port,
		Timeout: c.cfg.Discover.Timeout,
		Workers: c.cfg.Discover.Workers,
	}
}

// connect opens a one-shot session to address.
func (c *commonFlags) connect(ctx context.Context, address string, reset bool) (*session.Session, error) {
	s := session.New("cli", address, c.sessionOptions(ctx, reset))
	if err := s.Connect(ctx, address); err != nil {
		return nil, err
	}
	return s, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func report(a subcommands.Application, err error) int {
	logs.Logger.Debug("command failed", zap.Error(err))
	fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
	return 1
}

func usage(a subcommands.Application, msg string) int {
	fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), msg)
	return 2
}

// labelFlag collects repeated -label Ch.1=Name flags.
type labelFlag map[string]string

func (l labelFlag) String() string {
	parts := make([]string, 0, len(l))
	for k, v := range l {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (l labelFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected CHANNEL=LABEL, got %q", s)
	}
	l[k] = v
	return nil
}

func main() {
	app := &subcommands.DefaultApplication{
		Name:  "attenctl",
		Title: "Discover, control and snapshot networked RF step attenuators.",
		Commands: []*subcommands.Command{
			subcommands.CmdHelp,
			cmdDiscover,
			cmdGet,
			cmdSet,
			cmdSave,
			cmdLoad,
			cmdServe,
			cmdSimulate,
		},
	}
	os.Exit(subcommands.Run(app, nil))
}

// vim: foldmethod=marker
