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
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ecovisor/ecovisor/metrics"
)

// MonitorInterval is how often the Manager health checks enabled services.
// A "prime" number of milliseconds spreads the clock events out.
var MonitorInterval = 587 * time.Millisecond

// Manager is the registry of services.  It owns their logs, runs periodic
// health checks and self-healing, and tears everything down on Shutdown.
type Manager struct {
	services   map[string]*Service
	name       string
	stderr     *log.Logger // replaceable default destination
	sink       *log.Logger // what services write into
	log        *Log
	mlog       *MultiLogger
	metrics    *metrics.Metrics
	monitoring bool
	closed     bool
	serial     int64
	createTime time.Time
	updateTime time.Time
	done       chan struct{}
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
}

type ManagerInfo struct {
	Name       string    `json:"name"`
	Serial     int64     `json:"serial,string"`
	Services   int       `json:"services"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`
}

func (m *Manager) lock() {
	m.mx.Lock()
}

func (m *Manager) unlock() {
	m.mx.Unlock()
}

// bumpSerial records a change in the set of services and wakes watchers.
// Call with the lock held.
func (m *Manager) bumpSerial() {
	m.updateTime = time.Now()
	m.serial++
	for cv := range m.cvs {
		cv.Broadcast()
	}
}

// WatchSerial blocks until the serial differs from old or expire elapses,
// and returns the current serial.  An expire of zero polls.
func (m *Manager) WatchSerial(old int64, expire time.Duration) int64 {
	expired := expire <= 0
	cv := sync.NewCond(&m.mx)
	if !expired {
		timer := time.AfterFunc(expire, func() {
			m.lock()
			expired = true
			cv.Broadcast()
			m.unlock()
		})
		defer timer.Stop()
	}

	m.lock()
	defer m.unlock()
	m.cvs[cv] = true
	for m.serial == old && !expired {
		cv.Wait()
	}
	delete(m.cvs, cv)
	return m.serial
}

// Name returns the name the manager was created with.
func (m *Manager) Name() string {
	return m.name
}

// GetInfo returns a consistent snapshot of top-level information.
func (m *Manager) GetInfo() *ManagerInfo {
	m.lock()
	defer m.unlock()
	return &ManagerInfo{
		Name:       m.name,
		Serial:     m.serial,
		Services:   len(m.services),
		CreateTime: m.createTime,
		UpdateTime: m.updateTime,
	}
}

// SetMetrics attaches Prometheus collectors.  Call before adding services.
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.lock()
	m.metrics = mt
	m.unlock()
}

// AddService registers a service.  Names must be unique.
func (m *Manager) AddService(s *Service) error {
	m.lock()
	defer m.unlock()
	if m.closed {
		return ErrNoManager
	}
	if _, ok := m.services[s.name]; ok {
		return ErrDuplicate
	}
	s.setManager(m)
	m.bumpSerial()
	return nil
}

// DeleteService removes a disabled service.
func (m *Manager) DeleteService(s *Service) error {
	m.lock()
	defer m.unlock()
	if s.mgr != m {
		return ErrNotFound
	}
	if s.enabled {
		return ErrIsEnabled
	}
	s.delManager()
	m.bumpSerial()
	return nil
}

// Services returns all services ordered by name.
func (m *Manager) Services() []*Service {
	m.lock()
	rv := make([]*Service, 0, len(m.services))
	for _, s := range m.services {
		rv = append(rv, s)
	}
	m.unlock()
	sort.Slice(rv, func(i, j int) bool { return rv[i].name < rv[j].name })
	return rv
}

// FindService returns the service with the given name.
func (m *Manager) FindService(name string) (*Service, error) {
	m.lock()
	defer m.unlock()
	if s, ok := m.services[name]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

// EnableAll enables every service, returning the first error seen.
func (m *Manager) EnableAll() error {
	var first error
	for _, s := range m.Services() {
		if e := s.Enable(); e != nil && first == nil {
			first = e
		}
	}
	return first
}

// Reload restarts every enabled service, one at a time, and returns the
// first error seen.
func (m *Manager) Reload() error {
	m.logf("*** Reloading all services: %s ***", m.name)
	var first error
	for _, s := range m.Services() {
		if e := s.restartWith("reload", "Reloaded"); e != nil && first == nil {
			first = e
		}
	}
	return first
}

// SetLogger replaces the default stderr destination.  A nil logger simply
// removes it.
func (m *Manager) SetLogger(l *log.Logger) {
	m.lock()
	defer m.unlock()
	if m.stderr != nil {
		m.mlog.DelLogger(m.stderr)
	}
	m.stderr = l
	if l != nil {
		m.mlog.AddLogger(l)
	}
}

// SetLogWriter replaces the default destination with a writer.
func (m *Manager) SetLogWriter(w io.Writer) {
	m.SetLogger(log.New(w, "", 0))
}

func (m *Manager) logf(format string, v ...interface{}) {
	m.mlog.Logger().Printf(format, v...)
}

// Logger returns a logger whose output lands in the Manager's log under
// the given source name, e.g. for a file watcher or deploy.
func (m *Manager) Logger(source string) *log.Logger {
	if source == "" {
		return m.mlog.Logger()
	}
	return log.New(m.mlog, "["+source+"] ", 0)
}

func (m *Manager) monitor() {
	tick := time.NewTicker(MonitorInterval)
	defer tick.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-tick.C:
		}
		m.lock()
		if m.monitoring {
			for _, s := range m.services {
				if s.enabled {
					if e := s.checkService(); e != nil {
						s.selfHeal()
					}
				}
			}
		}
		m.unlock()
	}
}

// notify is called asynchronously, with the lock held, when a provider
// reports a state change.
func (m *Manager) notify(s *Service) {
	if s.checking || !s.enabled || s.mgr != m {
		return
	}
	if e := s.checkService(); e != nil {
		s.selfHeal()
	}
}

func (m *Manager) StopMonitoring() {
	m.lock()
	m.monitoring = false
	m.unlock()
	m.logf("*** Stopped monitoring: %s ***", m.name)
}

func (m *Manager) StartMonitoring() {
	m.logf("*** Started monitoring: %s ***", m.name)
	m.lock()
	m.monitoring = true
	m.unlock()
}

// Shutdown stops and removes every service and ends monitoring.  The
// Manager cannot be used afterwards.
func (m *Manager) Shutdown() {
	m.lock()
	if m.closed {
		m.unlock()
		return
	}
	m.closed = true
	m.monitoring = false
	close(m.done)
	for _, s := range m.services {
		s.enabled = false
		s.stop("Shutting down")
		s.delManager()
	}
	m.bumpSerial()
	m.unlock()
	m.logf("*** Shut down: %s ***", m.name)
}

// GetLog returns the whole log; see Log.GetRecords.
func (m *Manager) GetLog(last int64) ([]LogRecord, int64) {
	return m.log.GetRecords(last, "")
}

// WatchLog waits for the log to change; see Log.Watch.
func (m *Manager) WatchLog(last int64, expire time.Duration) int64 {
	return m.log.Watch(last, expire)
}

func NewManager(name string) *Manager {
	if name == "" {
		name = "ecovisor"
	}
	// Serials start at the current time in nanoseconds so that a client
	// caching across a daemon restart sees a different value.
	now := time.Now()
	m := &Manager{
		name:       name,
		serial:     now.UnixNano(),
		services:   make(map[string]*Service),
		cvs:        make(map[*sync.Cond]bool),
		createTime: now,
		updateTime: now,
		done:       make(chan struct{}),
		log:        NewLog(MaxLogRecords),
		mlog:       NewMultiLogger(""),
	}
	m.mlog.AddWriter(m.log, 0)
	m.sink = log.New(m.mlog, "", 0)
	m.stderr = m.mlog.AddWriter(os.Stderr, log.LstdFlags)
	go m.monitor()
	return m
}
