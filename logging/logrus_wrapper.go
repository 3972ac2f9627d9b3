// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loopkit/reactor/asynclog"
)

const defaultMaxLength = 8192

const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

var levelMapperRev = map[string]logrus.Level{
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
}

type logger struct {
	iWriter   *logrus.Logger
	fWriter   *logrus.Logger
	iPipeline *asynclog.AsyncLogging
	fPipeline *asynclog.AsyncLogging
}

type logOptions struct {
	dir           string
	level         string
	rollSize      int64
	flushInterval time.Duration
}

var defaultLogOptions = logOptions{
	dir:           "log",
	level:         LevelInfo,
	rollSize:      20 * 1024 * 1024,
	flushInterval: 3 * time.Second,
}

type Option func(*logOptions)

func WithDir(v string) Option {
	return func(o *logOptions) { o.dir = v }
}

func WithRollSize(v int64) Option {
	return func(o *logOptions) { o.rollSize = v }
}

func WithFlushInterval(v time.Duration) Option {
	return func(o *logOptions) { o.flushInterval = v }
}

func WithLogLevel(l string) Option {
	return func(o *logOptions) { o.level = l }
}

// InitializeLogger wires the package-level Debug/Info/Warn/Error funcs
// to a pair of asynclog pipelines (one for info-and-below, one for
// warn-and-above), each rolling its own file under dir. Calling it more
// than once is a no-op.
func InitializeLogger(opt ...Option) error {
	if logObj != nil {
		return nil
	}
	opts := defaultLogOptions
	for _, o := range opt {
		o(&opts)
	}

	iPipeline := asynclog.NewAsyncLogging(opts.dir, "reactor", opts.rollSize, opts.flushInterval)
	if err := iPipeline.Start(); err != nil {
		return fmt.Errorf("logging: start info pipeline: %w", err)
	}
	fPipeline := asynclog.NewAsyncLogging(opts.dir, "reactor.wf", opts.rollSize, opts.flushInterval)
	if err := fPipeline.Start(); err != nil {
		iPipeline.Stop()
		return fmt.Errorf("logging: start warn pipeline: %w", err)
	}

	iWriter := logrus.New()
	iWriter.SetOutput(asyncWriter{iPipeline})
	iWriter.Formatter = &textFormatter{}

	fWriter := logrus.New()
	fWriter.SetOutput(asyncWriter{fPipeline})
	fWriter.Formatter = &textFormatter{}

	if lvl, ok := levelMapperRev[opts.level]; ok {
		iWriter.SetLevel(lvl)
		fWriter.SetLevel(lvl)
	}

	logObj = &logger{
		iWriter:   iWriter,
		fWriter:   fWriter,
		iPipeline: iPipeline,
		fPipeline: fPipeline,
	}
	return nil
}

// asyncWriter adapts AsyncLogging.Append to io.Writer for logrus, which
// owns no knowledge of the double-buffer pipeline underneath it.
type asyncWriter struct {
	pipeline *asynclog.AsyncLogging
}

func (w asyncWriter) Write(p []byte) (int, error) {
	w.pipeline.Append(p)
	return len(p), nil
}

type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	message := strings.TrimSuffix(entry.Message, "\n")
	if len(entry.Message) > defaultMaxLength {
		message = message[:defaultMaxLength]
	}

	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	f.appendValue(b, strings.ToUpper(entry.Level.String()))
	b.WriteByte(' ')
	f.appendValue(b, entry.Time.Format("06-01-02 15:04:05.999"))
	b.WriteByte(' ')

	if caller := getCaller(entry.Level); caller.Function != "" {
		f.appendValue(b, strings.TrimPrefix(caller.Function, "github.com/loopkit/reactor/"))
		b.WriteByte(' ')
		f.appendValue(b, fmt.Sprintf("%s:%d", filepath.Base(caller.File), caller.Line))
		b.WriteByte(' ')
	}

	f.appendValue(b, message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *textFormatter) appendValue(b *bytes.Buffer, value interface{}) {
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	b.WriteString(s)
}

func getCaller(_ logrus.Level) runtime.Frame {
	var pcs [25]uintptr
	depth := runtime.Callers(1, pcs[:])
	frames := runtime.CallersFrames(pcs[:depth])
	for f, more := frames.Next(); more; f, more = frames.Next() {
		if strings.Contains(f.Function, "loopkit/reactor/logging") || strings.Contains(f.Function, "sirupsen/logrus") {
			continue
		}
		return f
	}
	return runtime.Frame{}
}
