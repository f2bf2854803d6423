// Copyright 2026 The Ecovisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ecovisor

import (
	"bytes"
	"io"
	"log"
	"strings"
	"sync"
)

// MultiLogger fans a single log.Logger out to several destinations.  Each
// destination is itself a log.Logger with its own prefix and flags, so a
// line logged once can land timestamped on stderr and bare in the Manager's
// ring.  Lines are split on newlines and delivered one at a time.
type MultiLogger struct {
	log   *log.Logger
	sinks []*log.Logger
	lock  sync.Mutex
}

func (l *MultiLogger) Write(b []byte) (int, error) {
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	l.lock.Lock()
	sinks := append([]*log.Logger{}, l.sinks...)
	l.lock.Unlock()
	for _, line := range lines {
		for _, sink := range sinks {
			sink.Println(line)
		}
	}
	return len(b), nil
}

// AddLogger adds a destination.  Adding the same logger twice is a no-op.
func (l *MultiLogger) AddLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, x := range l.sinks {
		if x == logger {
			return
		}
	}
	l.sinks = append(l.sinks, logger)
}

// AddWriter adds a destination writing to w with the given log flags, and
// returns the logger created for it so it can later be removed.
func (l *MultiLogger) AddWriter(w io.Writer, flags int) *log.Logger {
	logger := log.New(w, "", flags)
	l.AddLogger(logger)
	return logger
}

// DelLogger removes a destination.
func (l *MultiLogger) DelLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for i, x := range l.sinks {
		if x == logger {
			l.sinks = append(l.sinks[:i], l.sinks[i+1:]...)
			return
		}
	}
}

// Logger returns the logger that feeds every destination.
func (l *MultiLogger) Logger() *log.Logger {
	return l.log
}

func NewMultiLogger(prefix string) *MultiLogger {
	m := &MultiLogger{}
	m.log = log.New(m, prefix, 0)
	return m
}

// LineWriter hands complete lines of output to a logger, each behind a
// fixed prefix.  Flush delivers a trailing partial line.
type LineWriter struct {
	logger *log.Logger
	prefix string
	buf    []byte
	lock   sync.Mutex
}

func NewLineWriter(logger *log.Logger, prefix string) *LineWriter {
	return &LineWriter{logger: logger, prefix: prefix}
}

func (w *LineWriter) Write(b []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.logger.Print(w.prefix, string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(b), nil
}

func (w *LineWriter) Flush() {
	w.lock.Lock()
	if len(w.buf) != 0 {
		w.logger.Print(w.prefix, string(w.buf))
		w.buf = nil
	}
	w.lock.Unlock()
}
