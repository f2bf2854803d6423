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
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	tl.t.Log(strings.Trim(string(p), "\n"))
	return len(p), nil
}

// testS is a provider whose health is driven by the test.
type testS struct {
	name     string
	failed   bool
	exited   bool
	started  bool
	starts   int
	stops    int
	stopGate chan struct{} // if set, Stop blocks until it is closed
	logger   *log.Logger
	notify   func()
	sync.Mutex
}

func (s *testS) Name() string {
	return s.name
}

func (s *testS) Description() string {
	return "Test Service"
}

func (s *testS) Start() error {
	s.Lock()
	defer s.Unlock()
	if s.failed {
		return errors.New("Injected failure")
	}
	s.started = true
	s.exited = false
	s.starts++
	return nil
}

func (s *testS) Stop() {
	s.Lock()
	gate := s.stopGate
	s.Unlock()
	if gate != nil {
		<-gate
	}
	s.Lock()
	s.started = false
	s.stops++
	s.Unlock()
}

func (s *testS) Check() error {
	s.Lock()
	defer s.Unlock()
	if s.failed {
		return errors.New("Test service failure")
	}
	if s.exited {
		return ErrExited
	}
	return nil
}

func (s *testS) SetProperty(n PropertyName, v interface{}) error {
	s.Lock()
	defer s.Unlock()
	switch n {
	case PropLogger:
		if v, ok := v.(*log.Logger); ok {
			s.logger = v
			return nil
		}
		return ErrBadPropType
	case PropNotify:
		if v, ok := v.(func()); ok {
			s.notify = v
			return nil
		}
		return ErrBadPropType
	default:
		return ErrBadPropName
	}
}

func (s *testS) Property(n PropertyName) (interface{}, error) {
	switch n {
	case PropLogger:
		return s.logger, nil
	default:
		return nil, ErrBadPropName
	}
}

// setFailed changes health without notifying the service.
func (s *testS) setFailed(f bool) {
	s.Lock()
	s.failed = f
	s.Unlock()
}

func (s *testS) inject() {
	s.Lock()
	s.logger.Printf("Injecting failure on %s", s.name)
	s.failed = true
	notify := s.notify
	s.Unlock()
	if notify != nil {
		notify()
	}
}

func (s *testS) clear() {
	s.Lock()
	s.logger.Printf("Clearing failure on %s", s.name)
	s.failed = false
	notify := s.notify
	s.Unlock()
	if notify != nil {
		notify()
	}
}

func waitFor(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func WithManager(t *testing.T, name string, fn func(m *Manager)) func() {
	return func() {
		m := NewManager(name)
		So(m, ShouldNotBeNil)
		m.SetLogWriter(&testLog{t: t})
		Reset(func() {
			m.Shutdown()
		})
		fn(m)
	}
}

func TestBadPropertyName(t *testing.T) {
	Convey("Bogus property name", t,
		WithManager(t, "BadPropName", func(m *Manager) {
			s1 := NewService(&testS{name: "BadName"})
			So(m.AddService(s1), ShouldBeNil)
			e := s1.SetProperty(PropertyName("Nosuch"), true)
			So(e, ShouldEqual, ErrBadPropName)
		}))
}

func TestBadPropertyType(t *testing.T) {
	Convey("Bad property type", t,
		WithManager(t, "BadPropType", func(m *Manager) {
			s1 := NewService(&testS{name: "BadType"})
			e := s1.SetProperty(PropName, 42)
			So(e, ShouldEqual, ErrBadPropType)
			e = s1.SetProperty(PropRestart, "yes")
			So(e, ShouldEqual, ErrBadPropType)
		}))
}

func TestSetPropOK(t *testing.T) {
	Convey("Set Properties", t,
		WithManager(t, "SetProp", func(m *Manager) {
			s1 := NewService(&testS{name: "Name"})
			So(s1.SetProperty(PropName, "NewName"), ShouldBeNil)
			n, e := s1.GetProperty(PropName)
			So(e, ShouldBeNil)
			So(n, ShouldEqual, "NewName")
			So(s1.Name(), ShouldEqual, "NewName")

			So(s1.SetProperty(PropWatch, "/srv/app"), ShouldBeNil)
			So(s1.WatchPath(), ShouldEqual, "/srv/app")
			So(s1.SetProperty(PropRateLimit, 3), ShouldBeNil)
			So(s1.SetProperty(PropRatePeriod, time.Second), ShouldBeNil)
			v, e := s1.GetProperty(PropRatePeriod)
			So(e, ShouldBeNil)
			So(v, ShouldEqual, time.Second)
		}))
}

func TestReadOnlyProps(t *testing.T) {
	Convey("Read only properties", t,
		WithManager(t, "ReadOnly", func(m *Manager) {
			s1 := NewService(&testS{name: "ro"})
			So(m.AddService(s1), ShouldBeNil)
			So(s1.SetProperty(PropName, "shouldfail"), ShouldEqual, ErrPropReadOnly)
			So(s1.SetProperty(PropWatch, "/tmp"), ShouldEqual, ErrPropReadOnly)
		}))
}

func TestRegistry(t *testing.T) {
	Convey("The registry", t,
		WithManager(t, "Registry", func(m *Manager) {
			b := NewService(&testS{name: "b"})
			a := NewService(&testS{name: "a"})
			So(m.AddService(b), ShouldBeNil)
			So(m.AddService(a), ShouldBeNil)

			Convey("Lists services by name", func() {
				svcs := m.Services()
				So(len(svcs), ShouldEqual, 2)
				So(svcs[0].Name(), ShouldEqual, "a")
				So(svcs[1].Name(), ShouldEqual, "b")
				So(m.GetInfo().Services, ShouldEqual, 2)
			})

			Convey("Rejects duplicate names", func() {
				So(m.AddService(NewService(&testS{name: "a"})), ShouldEqual, ErrDuplicate)
			})

			Convey("Finds services", func() {
				s, e := m.FindService("b")
				So(e, ShouldBeNil)
				So(s, ShouldEqual, b)
				_, e = m.FindService("c")
				So(e, ShouldEqual, ErrNotFound)
			})

			Convey("Refuses to delete enabled services", func() {
				So(a.Enable(), ShouldBeNil)
				So(m.DeleteService(a), ShouldEqual, ErrIsEnabled)
				So(a.Disable(), ShouldBeNil)
				So(m.DeleteService(a), ShouldBeNil)
				_, e := m.FindService("a")
				So(e, ShouldEqual, ErrNotFound)
			})

			Convey("Bumps the serial on changes", func() {
				old := m.GetInfo().Serial
				So(m.WatchSerial(old, 0), ShouldEqual, old)
				go m.AddService(NewService(&testS{name: "c"}))
				So(m.WatchSerial(old, time.Second), ShouldNotEqual, old)
			})

			Convey("Shutdown tears everything down", func() {
				So(a.Enable(), ShouldBeNil)
				m.Shutdown()
				So(a.Running(), ShouldBeFalse)
				So(len(m.Services()), ShouldEqual, 0)
				So(m.AddService(NewService(&testS{name: "late"})), ShouldEqual, ErrNoManager)
			})
		}))
}

func TestLifecycle(t *testing.T) {
	Convey("Given a new manager", t,
		WithManager(t, "Lifecycle", func(m *Manager) {
			t1 := &testS{name: "S1"}
			s1 := NewService(t1)
			So(m.AddService(s1), ShouldBeNil)
			So(s1.Enabled(), ShouldBeFalse)
			So(s1.Running(), ShouldBeFalse)
			So(s1.Failed(), ShouldBeFalse)

			Convey("Enabling starts it", func() {
				So(s1.Enable(), ShouldBeNil)
				So(s1.Enabled(), ShouldBeTrue)
				So(s1.Running(), ShouldBeTrue)
				reason, _ := s1.Status()
				So(reason, ShouldStartWith, "Started")

				Convey("Restart stops and starts it", func() {
					So(s1.Restart(), ShouldBeNil)
					So(s1.Running(), ShouldBeTrue)
					So(s1.Restarts(), ShouldEqual, 1)
					So(t1.starts, ShouldEqual, 2)
					So(t1.stops, ShouldEqual, 1)
				})

				Convey("Reload restarts every enabled service", func() {
					s2 := NewService(&testS{name: "S2"})
					So(m.AddService(s2), ShouldBeNil)
					So(m.Reload(), ShouldBeNil)
					So(s1.Restarts(), ShouldEqual, 1)
					So(s2.Restarts(), ShouldEqual, 0)
					So(s2.Running(), ShouldBeFalse)
				})

				Convey("Disabling stops it", func() {
					So(s1.Disable(), ShouldBeNil)
					So(s1.Enabled(), ShouldBeFalse)
					So(s1.Running(), ShouldBeFalse)
					Convey("And restart of a disabled service is a no-op", func() {
						So(s1.Restart(), ShouldBeNil)
						So(s1.Running(), ShouldBeFalse)
						So(s1.Restarts(), ShouldEqual, 0)
					})
				})

				Convey("A clean exit is not a failure", func() {
					t1.Lock()
					t1.exited = true
					t1.Unlock()
					So(s1.Check(), ShouldEqual, ErrExited)
					So(s1.Exited(), ShouldBeTrue)
					So(s1.Failed(), ShouldBeFalse)
					So(s1.Running(), ShouldBeFalse)
				})
			})

			Convey("A start failure leaves it failed", func() {
				t1.setFailed(true)
				So(s1.Enable(), ShouldNotBeNil)
				So(s1.Enabled(), ShouldBeTrue)
				So(s1.Failed(), ShouldBeTrue)
				So(s1.Running(), ShouldBeFalse)
			})
		}))
}

func TestFailureAndHealing(t *testing.T) {
	Convey("Failure injection", t,
		WithManager(t, "Heal", func(m *Manager) {
			t1 := &testS{name: "S1"}
			s1 := NewService(t1)
			So(m.AddService(s1), ShouldBeNil)
			So(s1.Enable(), ShouldBeNil)

			Convey("A failing check stops the service", func() {
				m.StopMonitoring()
				t1.setFailed(true)
				So(s1.Check(), ShouldNotBeNil)
				So(s1.Failed(), ShouldBeTrue)
				So(s1.Running(), ShouldBeFalse)

				t1.setFailed(false)
				s1.Clear()
				So(s1.Failed(), ShouldBeFalse)
				So(s1.Running(), ShouldBeTrue)
			})

			Convey("Without restart the service stays failed", func() {
				m.StartMonitoring()
				t1.inject()
				So(waitFor(time.Second, s1.Failed), ShouldBeTrue)
				t1.clear()
				time.Sleep(20 * time.Millisecond)
				So(s1.Failed(), ShouldBeTrue)
				So(s1.Running(), ShouldBeFalse)
			})

			Convey("With restart the service heals itself", func() {
				So(s1.SetProperty(PropRestart, true), ShouldBeNil)
				m.StartMonitoring()
				t1.inject()
				So(waitFor(time.Second, s1.Failed), ShouldBeTrue)
				t1.clear()
				So(waitFor(time.Second, s1.Running), ShouldBeTrue)
				So(s1.Failed(), ShouldBeFalse)
				So(s1.Restarts(), ShouldEqual, 1)
			})
		}))
}

func TestRateLimit(t *testing.T) {
	Convey("Self-healing is rate limited", t,
		WithManager(t, "RateLimit", func(m *Manager) {
			m.StopMonitoring()
			t1 := &testS{name: "flappy"}
			s1 := NewService(t1)
			So(s1.SetProperty(PropRestart, true), ShouldBeNil)
			So(s1.SetProperty(PropRateLimit, 2), ShouldBeNil)
			So(s1.SetProperty(PropRatePeriod, time.Minute), ShouldBeNil)
			So(m.AddService(s1), ShouldBeNil)
			So(s1.Enable(), ShouldBeNil)

			fault := func() {
				t1.setFailed(true)
				So(s1.Check(), ShouldNotBeNil)
				t1.setFailed(false)
				m.lock()
				s1.selfHeal()
				m.unlock()
			}

			fault()
			So(s1.Running(), ShouldBeTrue)
			So(s1.Restarts(), ShouldEqual, 1)

			fault()
			So(s1.Running(), ShouldBeFalse)
			So(s1.Failed(), ShouldBeTrue)
			reason, _ := s1.Status()
			So(reason, ShouldEqual, "Rate limited")

			Convey("Clear resets the limit", func() {
				s1.Clear()
				So(s1.Running(), ShouldBeTrue)
			})
		}))
}

func TestTrigger(t *testing.T) {
	Convey("Triggered restarts are not re-entrant", t,
		WithManager(t, "Trigger", func(m *Manager) {
			gate := make(chan struct{})
			t1 := &testS{name: "watched"}
			s1 := NewService(t1)
			So(m.AddService(s1), ShouldBeNil)
			So(s1.Enable(), ShouldBeNil)

			t1.Lock()
			t1.stopGate = gate
			t1.Unlock()

			first := make(chan error, 1)
			go func() {
				first <- s1.Trigger("watch")
			}()
			So(waitFor(time.Second, s1.Restarting), ShouldBeTrue)

			So(s1.Trigger("watch"), ShouldEqual, ErrRestartPending)
			So(s1.Trigger("watch"), ShouldEqual, ErrRestartPending)

			close(gate)
			So(<-first, ShouldBeNil)
			So(s1.Restarting(), ShouldBeFalse)
			So(s1.Restarts(), ShouldEqual, 1)
			So(s1.Running(), ShouldBeTrue)

			Convey("And a later trigger restarts again", func() {
				So(s1.Trigger("watch"), ShouldBeNil)
				So(s1.Restarts(), ShouldEqual, 2)
			})
		}))

	Convey("Trigger needs a manager", t, func() {
		s := NewService(&testS{name: "orphan"})
		So(s.Trigger("watch"), ShouldEqual, ErrNoManager)
	})
}
