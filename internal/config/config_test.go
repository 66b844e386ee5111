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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatal(err)
	}
	want := Config{
		Timeout:        5 * time.Second,
		ResetOnConnect: true,
		Listen:         "127.0.0.1:8421",
		AllowedOrigins: []string{},
		LogLevel:       "info",
		Discover: Discover{
			Port:    5025,
			Timeout: 500 * time.Millisecond,
			Workers: 64,
		},
	}
	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attenctl.yaml")
	raw := `
timeout: 2s
reset_on_connect: false
listen: 0.0.0.0:9000
discover:
  workers: 8
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ATTENCTL_LOG_LEVEL", "debug")
	t.Setenv("ATTENCTL_DISCOVER_PORT", "6000")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timeout != 2*time.Second || cfg.ResetOnConnect || cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.LogLevel != "debug" || cfg.Discover.Port != 6000 || cfg.Discover.Workers != 8 {
		t.Errorf("env values not applied: %+v", cfg)
	}
}

func TestInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attenctl.yaml")
	if err := os.WriteFile(path, []byte("timeout: 0s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(New(), path); err == nil {
		t.Error("Load accepted a zero timeout")
	}
	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load accepted a missing explicit config file")
	}
}
