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

// Package metrics holds the Prometheus collectors shared by the supervisor
// and the deploy orchestrator.  All methods are safe on a nil *Metrics, so
// components that are built without metrics need no special casing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "ecovisor"

type Metrics struct {
	restarts   *prometheus.CounterVec
	running    *prometheus.GaugeVec
	suppressed *prometheus.CounterVec
	deploys    *prometheus.CounterVec
	hookTime   *prometheus.HistogramVec
	gatherer   prometheus.Gatherer
}

// New creates the collectors and registers them with reg.  If reg is nil a
// private registry is used.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "app_restarts_total",
				Help:      "Restarts of supervised apps by reason",
			},
			[]string{"app", "reason"},
		),
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_running",
				Help:      "1 if the app is running, 0 otherwise",
			},
			[]string{"app"},
		),
		suppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_suppressed_total",
				Help:      "Watch triggers dropped while a restart was in progress",
			},
			[]string{"app"},
		),
		deploys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_total",
				Help:      "Deploy and setup runs by environment and result",
			},
			[]string{"env", "result"},
		),
		hookTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "hook_duration_seconds",
				Help:      "Time spent running deploy hooks and steps",
				Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"env", "hook"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.restarts, m.running, m.suppressed, m.deploys, m.hookTime)
	return m
}

func (m *Metrics) AppRestarted(app, reason string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(app, reason).Inc()
}

func (m *Metrics) AppRunning(app string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.running.WithLabelValues(app).Set(v)
}

func (m *Metrics) TriggerSuppressed(app string) {
	if m == nil {
		return
	}
	m.suppressed.WithLabelValues(app).Inc()
}

func (m *Metrics) DeployFinished(env string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.deploys.WithLabelValues(env, result).Inc()
}

func (m *Metrics) HookFinished(env, hook string, d time.Duration) {
	if m == nil {
		return
	}
	m.hookTime.WithLabelValues(env, hook).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Push sends every collected value to the Pushgateway at url as job,
// qualified by the grouping labels.  Commands that exit right after a
// deploy use this instead of being scraped.
func (m *Metrics) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if m == nil {
		return nil
	}
	p := push.New(url, job).Gatherer(m.gatherer)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	return p.PushContext(ctx)
}
