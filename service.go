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
	"errors"
	"log"
	"sync/atomic"
	"time"
)

// Service is a managed app as seen by the rest of the program.  It wraps a
// Provider with enable/disable state, failure tracking, rate limited self
// healing and a non re-entrant restart trigger.
//
// Service methods are not safe for concurrent use until the service has
// been added to a Manager; after that the Manager's lock protects it.
//
// The logical states are:
//
//	Disabled --Enable--> Running --fault--> Failed --self-heal--> Running
//	                        |                  |
//	                        +--clean exit--> Exited
//
// Disable returns any state to Disabled; Restart and Clear start the
// service again from Failed or Exited.
type Service struct {
	prov       Provider
	mgr        *Manager
	name       string
	desc       string
	watch      string
	enabled    bool
	running    bool
	stopping   bool
	failed     bool
	exited     bool
	restart    bool
	checking   bool
	err        error
	stamp      time.Time
	reason     string
	starts     int
	restarts   int
	rateLog    bool
	rateLimit  int
	ratePeriod time.Duration
	startTimes []time.Time
	notify     func()
	logger     *log.Logger
	mlog       *MultiLogger
	restarting atomic.Bool
}

func (s *Service) locked(fn func()) {
	if m := s.mgr; m != nil {
		m.lock()
		defer m.unlock()
	}
	fn()
}

// Name returns the service name, which is unique within a Manager.
func (s *Service) Name() string {
	return s.name
}

// Description returns a short summary of the service.
func (s *Service) Description() string {
	return s.desc
}

// WatchPath returns the directory whose changes restart the service, or
// the empty string.
func (s *Service) WatchPath() string {
	return s.watch
}

// Status returns the most recent status message and when it was recorded.
func (s *Service) Status() (reason string, stamp time.Time) {
	s.locked(func() {
		reason, stamp = s.reason, s.stamp
	})
	return
}

func (s *Service) Enabled() (rv bool) {
	s.locked(func() { rv = s.mgr != nil && s.enabled })
	return
}

// Running is true while the underlying entity is up.
func (s *Service) Running() (rv bool) {
	s.locked(func() { rv = s.mgr != nil && s.running && !s.stopping })
	return
}

func (s *Service) Failed() (rv bool) {
	s.locked(func() { rv = s.mgr != nil && s.failed })
	return
}

// Exited is true if the entity finished on its own without failing.
func (s *Service) Exited() (rv bool) {
	s.locked(func() { rv = s.mgr != nil && s.exited })
	return
}

// Restarts returns how many times the service was restarted since it was
// added, whether manually, by a trigger or by self-healing.
func (s *Service) Restarts() (rv int) {
	s.locked(func() { rv = s.restarts })
	return
}

// Restarting is true while a triggered restart is in progress.
func (s *Service) Restarting() bool {
	return s.restarting.Load()
}

// Pid returns the operating system process id, or 0 if the provider has no
// running process.
func (s *Service) Pid() int {
	v, e := s.GetProperty(PropProcessPid)
	if e != nil {
		return 0
	}
	pid, _ := v.(int)
	return pid
}

// Enable enables and starts the service.  If the start fails the service
// stays enabled, in failed state, and the error is returned.
func (s *Service) Enable() error {
	if s.mgr == nil {
		return ErrNoManager
	}
	s.mgr.lock()
	defer s.mgr.unlock()

	if s.enabled {
		return nil
	}
	s.setStatus("Waiting to start")
	s.logf("Enabling service %s", s.name)
	s.enabled = true
	s.starts = 0
	s.start("Enabled service")
	if s.failed {
		return s.err
	}
	return nil
}

// Disable stops the service and clears any error state.
func (s *Service) Disable() error {
	if s.mgr == nil {
		return ErrNoManager
	}
	s.mgr.lock()
	defer s.mgr.unlock()

	if !s.enabled {
		return nil
	}
	s.logf("Disabling service %s", s.name)
	s.enabled = false
	s.failed = false
	s.exited = false
	s.err = nil
	s.stop("Disabled service")
	s.setStatus("Disabled service")
	return nil
}

// Restart stops and starts an enabled service, clearing any failure.
// Disabled services are left alone.
func (s *Service) Restart() error {
	return s.restartWith("manual", "Restarted service")
}

// Trigger restarts the service on behalf of an asynchronous source such as
// a file watcher.  Triggers are not re-entrant: while one is being handled
// further triggers are dropped and ErrRestartPending is returned.
func (s *Service) Trigger(reason string) error {
	if s.mgr == nil {
		return ErrNoManager
	}
	if !s.restarting.CompareAndSwap(false, true) {
		s.logf("Restart of %s in progress, dropping %s trigger", s.name, reason)
		s.mgr.metrics.TriggerSuppressed(s.name)
		return ErrRestartPending
	}
	defer s.restarting.Store(false)
	return s.restartWith(reason, "Triggered by "+reason)
}

func (s *Service) restartWith(reason, detail string) error {
	if s.mgr == nil {
		return ErrNoManager
	}
	s.mgr.lock()
	defer s.mgr.unlock()

	if !s.enabled {
		return nil
	}
	s.logf("Restarting service %s: %s", s.name, detail)
	s.stop(detail)
	s.starts = 0
	s.failed = false
	s.exited = false
	s.err = nil
	s.restarts++
	s.mgr.metrics.AppRestarted(s.name, reason)
	s.start(detail)
	if s.failed {
		return s.err
	}
	return nil
}

// Clear clears a failure without changing the enabled state, and starts
// the service if it is enabled.
func (s *Service) Clear() {
	if s.mgr == nil {
		return
	}
	s.mgr.lock()
	defer s.mgr.unlock()

	if s.failed {
		s.setStatus("Cleared fault")
		s.logf("Clearing fault on %s", s.name)
	}
	s.starts = 0
	s.failed = false
	s.exited = false
	s.err = nil
	s.start("Cleared fault")
}

// Check runs the provider's health check.  A failing check stops the
// service and puts it in failed state.
func (s *Service) Check() error {
	if s.mgr == nil {
		return ErrNoManager
	}
	s.mgr.lock()
	defer s.mgr.unlock()
	return s.checkService()
}

// SetProperty sets a property on the service, or on its provider for names
// the service does not know.
func (s *Service) SetProperty(n PropertyName, v interface{}) (e error) {
	s.locked(func() {
		e = s.setProp(n, v)
	})
	if e != nil {
		s.logf("Failed to set property %s on %s: %v", n, s.name, e)
	}
	return e
}

func (s *Service) setProp(n PropertyName, v interface{}) error {
	switch n {
	case PropName, PropDescription, PropWatch:
		if s.mgr != nil {
			return ErrPropReadOnly
		}
	}
	switch n {
	case PropLogger:
		l, ok := v.(*log.Logger)
		if !ok {
			return ErrBadPropType
		}
		if s.enabled {
			return ErrPropReadOnly
		}
		if s.logger != nil {
			s.mlog.DelLogger(s.logger)
		}
		s.logger = l
		if l != nil {
			s.mlog.AddLogger(l)
		}
	case PropRestart:
		b, ok := v.(bool)
		if !ok {
			return ErrBadPropType
		}
		s.restart = b
	case PropRateLimit:
		i, ok := v.(int)
		if !ok {
			return ErrBadPropType
		}
		s.starts = 0
		s.rateLimit = i
		s.startTimes = nil
		if i > 0 {
			s.startTimes = make([]time.Time, i)
		}
	case PropRatePeriod:
		d, ok := v.(time.Duration)
		if !ok {
			return ErrBadPropType
		}
		s.starts = 0
		s.ratePeriod = d
	case PropName:
		str, ok := v.(string)
		if !ok {
			return ErrBadPropType
		}
		s.name = str
		s.mlog.Logger().SetPrefix("[" + str + "] ")
	case PropDescription:
		str, ok := v.(string)
		if !ok {
			return ErrBadPropType
		}
		s.desc = str
	case PropWatch:
		str, ok := v.(string)
		if !ok {
			return ErrBadPropType
		}
		s.watch = str
	case PropNotify:
		f, ok := v.(func())
		if !ok {
			return ErrBadPropType
		}
		s.notify = f
	default:
		return s.prov.SetProperty(n, v)
	}
	return nil
}

func (s *Service) GetProperty(n PropertyName) (v interface{}, e error) {
	s.locked(func() {
		switch n {
		case PropLogger:
			v = s.logger
		case PropRestart:
			v = s.restart
		case PropRateLimit:
			v = s.rateLimit
		case PropRatePeriod:
			v = s.ratePeriod
		case PropName:
			v = s.name
		case PropDescription:
			v = s.desc
		case PropWatch:
			v = s.watch
		case PropNotify:
			v = s.notify
		default:
			v, e = s.prov.Property(n)
		}
	})
	return
}

// GetLog returns the service's lines from the Manager's log.  See
// Log.GetRecords for the meaning of last and the returned ID.
func (s *Service) GetLog(last int64) ([]LogRecord, int64) {
	m := s.mgr
	if m == nil {
		return nil, last
	}
	return m.log.GetRecords(last, s.name)
}

// setManager is called with the manager lock held.
func (s *Service) setManager(m *Manager) {
	if s.mgr != nil {
		// This is a serious programmer mistake
		panic("Already added to a manager")
	}
	s.mlog.AddLogger(m.sink)
	s.mgr = m
	s.setStatus("Added service")
	s.logf("Added service %s to %s: %s", s.name, m.Name(), s.desc)
	m.services[s.name] = s
}

func (s *Service) delManager() {
	m := s.mgr
	if m == nil {
		return
	}
	delete(m.services, s.name)
	s.mlog.DelLogger(m.sink)
	s.setStatus("Removed service")
	s.mgr = nil
}

func (s *Service) setStatus(reason string) {
	s.reason = reason
	s.stamp = time.Now()
}

func (s *Service) logf(fmt string, v ...interface{}) {
	s.mlog.Logger().Printf(fmt, v...)
}

func (s *Service) start(detail string) {
	if s.running || s.stopping || !s.enabled {
		return
	}
	if e := s.tooQuickly(); e != nil {
		return
	}
	if s.rateLimit > 0 {
		s.startTimes[s.starts%s.rateLimit] = time.Now()
	}
	s.starts++
	if e := s.prov.Start(); e != nil {
		s.logf("Failed to start %s: %v", s.name, e)
		s.setStatus("Failed to start: " + e.Error())
		s.err = e
		s.failed = true
		return
	}
	s.setStatus("Started: " + detail)
	s.logf("Started %s: %s", s.name, detail)
	s.running = true
	s.failed = false
	s.exited = false
	s.mgr.metrics.AppRunning(s.name, true)
}

func (s *Service) stop(detail string) {
	if !s.running || s.stopping {
		return
	}
	s.stopping = true
	s.prov.Stop()
	s.setStatus("Stopped: " + detail)
	s.logf("Stopped %s: %s", s.name, detail)
	s.running = false
	s.stopping = false
	s.mgr.metrics.AppRunning(s.name, false)
}

func (s *Service) checkService() error {
	if s.failed {
		return s.err
	}
	if s.exited {
		return ErrExited
	}
	if !s.running {
		return ErrNotRunning
	}
	s.checking = true
	e := s.prov.Check()
	s.checking = false
	if e == nil {
		return nil
	}
	if errors.Is(e, ErrExited) {
		s.stop("Exited")
		s.exited = true
		s.setStatus("Exited")
		return e
	}
	s.logf("Service %s faulted: %v", s.name, e)
	s.failed = true
	s.stop("Faulted: " + e.Error())
	s.err = e
	return e
}

// A service restarts too quickly if it starts more than rateLimit times
// within ratePeriod.  Once over the threshold it must sit out a whole
// further period before starting again, which halves the effective rate of
// a service that keeps crashing.
func (s *Service) tooQuickly() error {
	if s.rateLimit == 0 || s.starts < s.rateLimit {
		return nil
	}

	// The slot we are about to overwrite holds the start rateLimit
	// starts ago.
	oldest := s.startTimes[s.starts%s.rateLimit]
	if time.Now().Before(oldest.Add(s.ratePeriod)) {
		if !s.rateLog {
			s.logf("Service %s restarting too quickly", s.name)
			s.setStatus("Rate limited")
		}
		s.rateLog = true
		return ErrRateLimited
	}
	if !s.rateLog {
		return nil
	}

	// Cool down: wait a full period after the most recent start.
	last := s.startTimes[(s.starts-1)%s.rateLimit]
	if time.Now().Before(last.Add(s.ratePeriod)) {
		return ErrRateLimited
	}
	s.rateLog = false
	return nil
}

func (s *Service) selfHeal() {
	if !s.failed || !s.restart || !s.enabled {
		return
	}
	s.logf("Attempting self-healing of %s", s.name)
	s.start("Self-healing attempt")
	if s.running {
		s.restarts++
		s.mgr.metrics.AppRestarted(s.name, "heal")
	}
}

// doNotify is handed to the provider as its PropNotify callback.  It runs
// asynchronously so providers may call it with their own locks held.
func (s *Service) doNotify() {
	go func() {
		var cb func()
		if m := s.mgr; m != nil {
			m.lock()
			m.notify(s)
			cb = s.notify
			m.unlock()
		} else {
			cb = s.notify
		}
		if cb != nil {
			go cb()
		}
	}()
}

// NewService wraps a Provider.  Providers call this from their own
// constructors so that applications only ever see a Service.
func NewService(p Provider) *Service {
	s := &Service{prov: p, name: p.Name(), desc: p.Description()}
	s.ratePeriod = time.Minute
	s.rateLimit = 10
	s.startTimes = make([]time.Time, s.rateLimit)
	s.mlog = NewMultiLogger("[" + s.name + "] ")
	s.setStatus("Created")
	p.SetProperty(PropLogger, s.mlog.Logger())
	p.SetProperty(PropNotify, s.doNotify)
	return s
}
