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

package deploy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDBState(t *testing.T) {
	Convey("Given a fresh state database", t, func() {
		path := filepath.Join(t.TempDir(), "state.db")
		s, e := OpenState(path)
		So(e, ShouldBeNil)
		Reset(func() {
			s.Close()
		})

		Convey("Setup flags stick", func() {
			ok, e := s.IsSetUp("production")
			So(e, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(s.MarkSetUp("production"), ShouldBeNil)
			So(s.MarkSetUp("production"), ShouldBeNil)
			ok, e = s.IsSetUp("production")
			So(e, ShouldBeNil)
			So(ok, ShouldBeTrue)
			ok, _ = s.IsSetUp("staging")
			So(ok, ShouldBeFalse)
		})

		Convey("History is kept per environment", func() {
			now := time.Now()
			for i, id := range []string{"a", "b", "c"} {
				rec := Record{
					ID:       id,
					Env:      "production",
					Kind:     "deploy",
					Ref:      "origin/master",
					Started:  now.Add(time.Duration(i) * time.Second),
					Finished: now.Add(time.Duration(i)*time.Second + time.Millisecond),
					OK:       id != "b",
				}
				if id == "b" {
					rec.Hook = "post-deploy"
					rec.Code = 1
					rec.Error = "post-deploy exited with status 1"
				}
				So(s.Record(rec), ShouldBeNil)
			}
			So(s.Record(Record{ID: "z", Env: "staging", Kind: "setup", Started: now, Finished: now, OK: true}), ShouldBeNil)

			hist, e := s.History("production", 2)
			So(e, ShouldBeNil)
			So(len(hist), ShouldEqual, 2)
			So(hist[0].ID, ShouldEqual, "c")
			So(hist[1].ID, ShouldEqual, "b")
			So(hist[1].OK, ShouldBeFalse)
			So(hist[1].Hook, ShouldEqual, "post-deploy")
			So(hist[1].Code, ShouldEqual, 1)

			all, e := s.History("production", 0)
			So(e, ShouldBeNil)
			So(len(all), ShouldEqual, 3)

			Convey("Duplicate IDs are refused", func() {
				So(s.Record(Record{ID: "a", Env: "production", Started: now, Finished: now}), ShouldNotBeNil)
			})

			Convey("And survives a reopen", func() {
				So(s.Close(), ShouldBeNil)
				s2, e := OpenState(path)
				So(e, ShouldBeNil)
				defer s2.Close()
				hist, e := s2.History("staging", 10)
				So(e, ShouldBeNil)
				So(len(hist), ShouldEqual, 1)
				So(hist[0].Kind, ShouldEqual, "setup")
			})
		})

		Convey("An orchestrator can use it", func() {
			h := newHarness()
			h.o.State = s
			p := plan("production", allHooks)
			_, e := h.o.Deploy(context.Background(), p)
			So(e, ShouldBeNil)
			ok, _ := s.IsSetUp("production")
			So(ok, ShouldBeTrue)
			hist, _ := s.History("production", 1)
			So(len(hist), ShouldEqual, 1)
			So(hist[0].OK, ShouldBeTrue)
		})
	})
}
