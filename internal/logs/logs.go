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

// Package logs builds the process logger and carries request scoped
// loggers through contexts.
package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process wide logger. It is a no-op until Init is called.
var Logger = zap.NewNop()

type ctxKey struct{}

// Init builds Logger for serviceName at the given level ("debug", "info",
// ...). An empty level falls back to $LOG_LEVEL, then "info".
func Init(serviceName, level string, development bool) (*zap.Logger, error) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	encoding := "json"
	if development {
		encoding = "console"
	}
	logConfig := []byte(fmt.Sprint(`{
		"level": "`, level, `",
		"encoding": "`, encoding, `",
		"outputPaths": ["stderr"],
		"errorOutputPaths": ["stderr"],
		"initialFields": {"service": "`, serviceName, `"},
		"encoderConfig": {
			"messageKey": "msg",
			"levelKey": "level",
			"timeKey": "ts",
			"callerKey": "src",
			"levelEncoder": "lowercase"
		}
	}`))

	var zapConfig zap.Config
	if err := json.Unmarshal(logConfig, &zapConfig); err != nil {
		return nil, err
	}
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	Logger = logger
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// NewContext returns a context whose logger carries fields.
func NewContext(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, ctxKey{}, WithContext(ctx).With(fields...))
}

// WithContext returns the logger stored in ctx, or Logger.
func WithContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Logger
	}
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return Logger
}

// vim: foldmethod=marker
