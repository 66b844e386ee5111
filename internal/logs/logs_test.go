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

package logs

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLogger(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	old := Logger
	Logger = zap.New(core)
	defer func() { Logger = old }()

	ctx := NewContext(context.Background(), zap.String("request_id", "abc"))
	WithContext(ctx).Info("hello")
	WithContext(context.Background()).Info("bare")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if got := entries[0].ContextMap()["request_id"]; got != "abc" {
		t.Errorf("request_id = %v, want abc", got)
	}
	if _, ok := entries[1].ContextMap()["request_id"]; ok {
		t.Error("bare logger carried request_id")
	}
}

func TestInit(t *testing.T) {
	old := Logger
	defer func() { Logger = old }()

	l, err := Init("attenctl-test", "warn", false)
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zap.InfoLevel) {
		t.Error("info enabled at warn level")
	}
	if !l.Core().Enabled(zap.WarnLevel) {
		t.Error("warn disabled at warn level")
	}
	if _, err := Init("attenctl-test", "loud", false); err == nil {
		t.Error("Init accepted an unknown level")
	}
}
