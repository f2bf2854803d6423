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

//go:build unix

package ecovisor

import (
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecovisor/ecovisor/config"
)

func shell(name, script string) *Service {
	return NewProcess(name, []string{"sh", "-c", script}, "", nil)
}

func hasLine(recs []LogRecord, text string) bool {
	for _, r := range recs {
		if r.Text == text {
			return true
		}
	}
	return false
}

func TestProcessStartStop(t *testing.T) {
	Convey("Start and stop of a long running process", t,
		WithManager(t, "ProcessStartStop", func(m *Manager) {
			s1 := NewProcess("sleeper", []string{"sleep", "3600"}, "", nil)
			So(s1, ShouldNotBeNil)
			So(s1.Description(), ShouldEqual, "sleeper process: sleep 3600")
			So(m.AddService(s1), ShouldBeNil)

			So(s1.Enable(), ShouldBeNil)
			So(s1.Running(), ShouldBeTrue)
			So(s1.Pid(), ShouldBeGreaterThan, 0)

			So(s1.Disable(), ShouldBeNil)
			So(s1.Running(), ShouldBeFalse)
			So(s1.Pid(), ShouldEqual, 0)

			Convey("And it can be started again", func() {
				So(s1.Enable(), ShouldBeNil)
				So(s1.Running(), ShouldBeTrue)
			})
		}))
}

func TestProcessStopTimeout(t *testing.T) {
	Convey("A process ignoring SIGTERM is killed", t,
		WithManager(t, "ProcessKill", func(m *Manager) {
			s1 := shell("stubborn", "trap '' TERM; while :; do sleep 1; done")
			So(s1.SetProperty(PropProcessStopTime, 100*time.Millisecond), ShouldBeNil)
			So(m.AddService(s1), ShouldBeNil)
			So(s1.Enable(), ShouldBeNil)
			time.Sleep(50 * time.Millisecond)

			start := time.Now()
			So(s1.Disable(), ShouldBeNil)
			So(time.Since(start), ShouldBeLessThan, 5*time.Second)
			So(s1.Running(), ShouldBeFalse)
		}))
}

func TestProcessFail(t *testing.T) {
	Convey("A process exiting non-zero fails", t,
		WithManager(t, "ProcessFail", func(m *Manager) {
			m.StopMonitoring()
			s1 := shell("failing", "exit 3")
			So(m.AddService(s1), ShouldBeNil)
			So(s1.Enable(), ShouldBeNil)

			So(waitFor(2*time.Second, s1.Failed), ShouldBeTrue)
			So(s1.Check(), ShouldNotBeNil)
			So(s1.Enabled(), ShouldBeTrue)
			So(s1.Running(), ShouldBeFalse)
			So(s1.Restarts(), ShouldEqual, 0)
		}))
}

func TestProcessExit(t *testing.T) {
	Convey("A process exiting cleanly is not a failure", t,
		WithManager(t, "ProcessExit", func(m *Manager) {
			s1 := shell("oneshot", "exit 0")
			So(m.AddService(s1), ShouldBeNil)
			So(s1.Enable(), ShouldBeNil)

			So(waitFor(2*time.Second, s1.Exited), ShouldBeTrue)
			So(s1.Check(), ShouldEqual, ErrExited)
			So(s1.Failed(), ShouldBeFalse)
			So(s1.Running(), ShouldBeFalse)
		}))
}

func TestProcessOutput(t *testing.T) {
	Convey("Process output lands in the service log", t,
		WithManager(t, "ProcessOutput", func(m *Manager) {
			s1 := NewProcess("talker", []string{"sh", "-c", "echo $GREETING; echo oops >&2; printf partial"},
				"", []string{"GREETING=hello"})
			So(m.AddService(s1), ShouldBeNil)
			So(s1.Enable(), ShouldBeNil)
			So(waitFor(2*time.Second, s1.Exited), ShouldBeTrue)

			recs, _ := s1.GetLog(0)
			So(hasLine(recs, "stdout> hello"), ShouldBeTrue)
			So(hasLine(recs, "stderr> oops"), ShouldBeTrue)
			So(hasLine(recs, "stdout> partial"), ShouldBeTrue)
			for _, r := range recs {
				So(r.Source, ShouldEqual, "talker")
			}
		}))
}

func TestAppPolicies(t *testing.T) {
	app := func(name, script string, policy config.RestartPolicy) config.AppSpec {
		return config.AppSpec{
			Name:          name,
			Script:        "sh",
			Interpreter:   "none",
			Args:          []string{"-c", script},
			Restart:       policy,
			MaxRestarts:   10,
			RestartPeriod: config.Duration(time.Minute),
			StopTimeout:   config.Duration(time.Second),
		}
	}

	Convey("Restart policies", t,
		WithManager(t, "Policies", func(m *Manager) {
			Convey("always restarts after a clean exit", func() {
				s := NewApp(app("always", "sleep 0.05", config.RestartAlways))
				So(m.AddService(s), ShouldBeNil)
				So(s.Enable(), ShouldBeNil)
				So(waitFor(3*time.Second, func() bool { return s.Restarts() >= 1 }), ShouldBeTrue)
			})

			Convey("on-failure restarts after a crash", func() {
				s := NewApp(app("crashy", "sleep 0.05; exit 1", config.RestartOnFailure))
				So(m.AddService(s), ShouldBeNil)
				So(s.Enable(), ShouldBeNil)
				So(waitFor(3*time.Second, func() bool { return s.Restarts() >= 1 }), ShouldBeTrue)
			})

			Convey("on-failure leaves a clean exit alone", func() {
				s := NewApp(app("done", "exit 0", config.RestartOnFailure))
				So(m.AddService(s), ShouldBeNil)
				So(s.Enable(), ShouldBeNil)
				So(waitFor(2*time.Second, s.Exited), ShouldBeTrue)
				time.Sleep(100 * time.Millisecond)
				So(s.Restarts(), ShouldEqual, 0)
			})

			Convey("never leaves a crash alone", func() {
				s := NewApp(app("fragile", "exit 2", config.RestartNever))
				So(m.AddService(s), ShouldBeNil)
				So(s.Enable(), ShouldBeNil)
				So(waitFor(2*time.Second, s.Failed), ShouldBeTrue)
				time.Sleep(100 * time.Millisecond)
				So(s.Restarts(), ShouldEqual, 0)
				So(s.Failed(), ShouldBeTrue)
			})

			Convey("the watch path is carried over", func() {
				spec := app("watched", "sleep 1", config.RestartAlways)
				spec.Watch = "."
				spec.Cwd = "/srv/watched"
				s := NewApp(spec)
				So(s.WatchPath(), ShouldEqual, "/srv/watched")
			})
		}))
}

func TestLoadApps(t *testing.T) {
	Convey("Loading apps from an ecosystem file", t,
		WithManager(t, "LoadApps", func(m *Manager) {
			cfg, e := config.Parse(strings.NewReader(`
apps:
  - name: web
    script: server.js
  - name: worker
    script: worker.py
`), "/srv/eco/ecosystem.yaml")
			So(e, ShouldBeNil)
			svcs, e := m.LoadApps(cfg)
			So(e, ShouldBeNil)
			So(len(svcs), ShouldEqual, 2)
			So(svcs[0].Description(), ShouldEqual, "web process: node server.js")

			Convey("A second load collides", func() {
				_, e := m.LoadApps(cfg)
				So(e, ShouldEqual, ErrDuplicate)
			})
		}))
}
