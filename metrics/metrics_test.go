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

package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMetrics(t *testing.T) {
	Convey("Collectors record and serve values", t, func() {
		m := New(nil)
		m.AppRestarted("api", "watch")
		m.AppRestarted("api", "watch")
		m.AppRunning("api", true)
		m.TriggerSuppressed("api")
		m.DeployFinished("production", nil)
		m.DeployFinished("production", errors.New("boom"))
		m.HookFinished("production", "post-deploy", 2*time.Second)

		So(testutil.ToFloat64(m.restarts.WithLabelValues("api", "watch")), ShouldEqual, 2)
		So(testutil.ToFloat64(m.running.WithLabelValues("api")), ShouldEqual, 1)
		So(testutil.ToFloat64(m.deploys.WithLabelValues("production", "failure")), ShouldEqual, 1)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		So(rec.Code, ShouldEqual, http.StatusOK)
		body := rec.Body.String()
		So(body, ShouldContainSubstring, "ecovisor_app_restarts_total")
		So(strings.Contains(body, `ecovisor_deploys_total{env="production",result="success"} 1`), ShouldBeTrue)
	})

	Convey("A nil Metrics is a no-op", t, func() {
		var m *Metrics
		So(func() {
			m.AppRestarted("a", "b")
			m.AppRunning("a", false)
			m.TriggerSuppressed("a")
			m.DeployFinished("e", nil)
			m.HookFinished("e", "h", time.Second)
		}, ShouldNotPanic)
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		So(rec.Code, ShouldEqual, http.StatusNotFound)
	})

	Convey("Values can be pushed to a gateway", t, func() {
		var method, path string
		var body []byte
		gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method, path = r.Method, r.URL.Path
			body, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer gw.Close()

		m := New(nil)
		m.DeployFinished("staging", nil)
		m.HookFinished("staging", "sync", time.Second)
		e := m.Push(context.Background(), gw.URL, "ecovisor_deploy", map[string]string{"env": "staging"})
		So(e, ShouldBeNil)
		So(method, ShouldEqual, http.MethodPut)
		So(path, ShouldEqual, "/metrics/job/ecovisor_deploy/env/staging")
		So(string(body), ShouldContainSubstring, "ecovisor_deploys_total")
		So(string(body), ShouldContainSubstring, "ecovisor_hook_duration_seconds")

		var none *Metrics
		So(none.Push(context.Background(), gw.URL, "x", nil), ShouldBeNil)
	})
}
