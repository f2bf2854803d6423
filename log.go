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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is one line of the supervisor log.  Source is the name of the
// service that emitted it, or empty for manager messages.
type LogRecord struct {
	Id     int64     `json:"id,string"`
	Time   time.Time `json:"time"`
	Source string    `json:"source,omitempty"`
	Text   string    `json:"text"`
}

// Log is a fixed size ring of log records.  It implements io.Writer so that
// it can sit behind a log.Logger; lines of the form "[name] text" are
// attributed to the service name.
type Log struct {
	records []LogRecord
	next    int // total records ever written since the last Clear
	id      int64
	cvs     map[*sync.Cond]bool
	mx      sync.Mutex
}

func splitSource(line string) (string, string) {
	if !strings.HasPrefix(line, "[") {
		return "", line
	}
	end := strings.Index(line, "] ")
	if end < 0 {
		return "", line
	}
	return line[1:end], line[end+2:]
}

func (l *Log) Write(b []byte) (int, error) {
	now := time.Now()
	l.mx.Lock()
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		rec := &l.records[l.next%len(l.records)]
		l.id++
		rec.Id = l.id
		rec.Time = now
		rec.Source, rec.Text = splitSource(line)
		l.next++
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
	return len(b), nil
}

// Clear discards all records.
func (l *Log) Clear() {
	l.mx.Lock()
	l.next = 0
	// A fresh base keeps IDs from an earlier generation from matching.
	l.id = time.Now().UnixNano()
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
}

// GetRecords returns the retained records, oldest first, together with an
// ID suitable for use as an Etag.  If last equals the current ID nothing has
// changed and nil is returned.  A non-empty source restricts the result to
// that service's records.
func (l *Log) GetRecords(last int64, source string) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last {
		return nil, last
	}
	cnt := l.next
	if cnt > len(l.records) {
		cnt = len(l.records)
	}
	recs := make([]LogRecord, 0, cnt)
	for i := l.next - cnt; i < l.next; i++ {
		rec := l.records[i%len(l.records)]
		if source == "" || rec.Source == source {
			recs = append(recs, rec)
		}
	}
	return recs, l.id
}

// Watch blocks until the log ID differs from last or expire elapses, and
// returns the current ID.  An expire of zero polls.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	expired := expire <= 0
	cv := sync.NewCond(&l.mx)
	var timer *time.Timer
	if !expired {
		timer = time.AfterFunc(expire, func() {
			l.mx.Lock()
			expired = true
			cv.Broadcast()
			l.mx.Unlock()
		})
		defer timer.Stop()
	}

	l.mx.Lock()
	defer l.mx.Unlock()
	l.cvs[cv] = true
	for l.id == last && !expired {
		cv.Wait()
	}
	delete(l.cvs, cv)
	return l.id
}

// NewLog returns a Log holding up to max records (MaxLogRecords if max is
// not positive).
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	return &Log{
		records: make([]LogRecord, max),
		id:      time.Now().UnixNano(),
		cvs:     make(map[*sync.Cond]bool),
	}
}
