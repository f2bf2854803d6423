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
	"fmt"
	"log"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	Convey("Given a small log", t, func() {
		l := NewLog(3)
		_, id0 := l.GetRecords(0, "")

		Convey("Lines are attributed to their source", func() {
			fmt.Fprintf(l, "[web] listening\n")
			fmt.Fprintf(l, "manager line\n")
			recs, id := l.GetRecords(0, "")
			So(id, ShouldNotEqual, id0)
			So(len(recs), ShouldEqual, 2)
			So(recs[0].Source, ShouldEqual, "web")
			So(recs[0].Text, ShouldEqual, "listening")
			So(recs[1].Source, ShouldEqual, "")

			web, _ := l.GetRecords(0, "web")
			So(len(web), ShouldEqual, 1)

			Convey("An unchanged ID returns nothing", func() {
				recs, again := l.GetRecords(id, "")
				So(recs, ShouldBeNil)
				So(again, ShouldEqual, id)
			})
		})

		Convey("Old records fall off the ring", func() {
			lg := log.New(l, "[job] ", 0)
			for i := 0; i < 5; i++ {
				lg.Printf("line %d", i)
			}
			recs, _ := l.GetRecords(0, "")
			So(len(recs), ShouldEqual, 3)
			So(recs[0].Text, ShouldEqual, "line 2")
			So(recs[2].Text, ShouldEqual, "line 4")
		})

		Convey("Clear empties it", func() {
			fmt.Fprintf(l, "one\n")
			l.Clear()
			recs, _ := l.GetRecords(0, "")
			So(len(recs), ShouldEqual, 0)
		})

		Convey("Watch wakes up on writes", func() {
			go func() {
				time.Sleep(20 * time.Millisecond)
				fmt.Fprintf(l, "wake\n")
			}()
			So(l.Watch(id0, 5*time.Second), ShouldNotEqual, id0)
		})

		Convey("Watch gives up after expiry", func() {
			start := time.Now()
			So(l.Watch(id0, 30*time.Millisecond), ShouldEqual, id0)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 30*time.Millisecond)
		})
	})
}

func TestMultiLogger(t *testing.T) {
	Convey("A MultiLogger fans out", t, func() {
		a, b := NewLog(10), NewLog(10)
		ml := NewMultiLogger("[fan] ")
		la := ml.AddWriter(a, 0)
		ml.AddWriter(b, 0)
		ml.Logger().Print("hello")

		ra, _ := a.GetRecords(0, "fan")
		rb, _ := b.GetRecords(0, "fan")
		So(len(ra), ShouldEqual, 1)
		So(len(rb), ShouldEqual, 1)

		ml.DelLogger(la)
		ml.Logger().Print("again")
		ra, _ = a.GetRecords(0, "")
		rb, _ = b.GetRecords(0, "")
		So(len(ra), ShouldEqual, 1)
		So(len(rb), ShouldEqual, 2)
	})
}

func TestLineWriter(t *testing.T) {
	Convey("Output is split into prefixed lines", t, func() {
		buf := &bytes.Buffer{}
		w := NewLineWriter(log.New(buf, "", 0), "job stdout> ")
		fmt.Fprint(w, "one\ntw")
		So(buf.String(), ShouldEqual, "job stdout> one\n")
		fmt.Fprint(w, "o\nthree")
		So(buf.String(), ShouldEqual, "job stdout> one\njob stdout> two\n")
		w.Flush()
		So(buf.String(), ShouldEqual, "job stdout> one\njob stdout> two\njob stdout> three\n")
		w.Flush()
		So(buf.String(), ShouldEqual, "job stdout> one\njob stdout> two\njob stdout> three\n")
	})
}
