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

// Package daemon runs the supervisor: the apps of an ecosystem file, a
// file watcher for each app that asks for one, and the control API.
package daemon

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matgreaves/run"
	"golang.org/x/net/netutil"

	"github.com/ecovisor/ecovisor"
	"github.com/ecovisor/ecovisor/config"
	"github.com/ecovisor/ecovisor/metrics"
	"github.com/ecovisor/ecovisor/rest"
	"github.com/ecovisor/ecovisor/watch"
)

// ShutdownTimeout bounds how long the control server waits for requests
// in flight when the daemon stops.
var ShutdownTimeout = 5 * time.Second

type Daemon struct {
	settings *config.Settings
	cfg      *config.Config
	mgr      *ecovisor.Manager
	metrics  *metrics.Metrics
	handler  *rest.Handler
	logger   *log.Logger
}

// New loads the ecosystem file named by the settings and registers its
// apps.  Nothing is started until Run.
func New(s *config.Settings) (*Daemon, error) {
	cfg, e := config.Load(s.Ecosystem)
	if e != nil {
		return nil, e
	}
	return NewWithConfig(s, cfg)
}

// NewWithConfig is New for an already loaded ecosystem.
func NewWithConfig(s *config.Settings, cfg *config.Config) (*Daemon, error) {
	mgr := ecovisor.NewManager(s.Name)
	mt := metrics.New(nil)
	mgr.SetMetrics(mt)
	if _, e := mgr.LoadApps(cfg); e != nil {
		mgr.Shutdown()
		return nil, e
	}

	h := rest.NewHandler(mgr)
	h.SetMetrics(mt.Handler())
	if s.AuthUser != "" {
		h.SetAuth(s.AuthUser, []byte(s.AuthHash))
	}

	d := &Daemon{
		settings: s,
		cfg:      cfg,
		mgr:      mgr,
		metrics:  mt,
		handler:  h,
		logger:   mgr.Logger("daemon"),
	}
	h.SetReload(d.Reload)
	return d, nil
}

func (d *Daemon) Manager() *ecovisor.Manager {
	return d.mgr
}

func (d *Daemon) Handler() http.Handler {
	return d.handler
}

// Reload restarts every enabled app.
func (d *Daemon) Reload() error {
	d.logger.Printf("Reloading %s", d.cfg.Path)
	return d.mgr.Reload()
}

// Listen opens the control listener on the configured address, limited to
// the configured number of concurrent connections.
func (d *Daemon) Listen() (net.Listener, error) {
	l, e := net.Listen("tcp", d.settings.Address)
	if e != nil {
		return nil, e
	}
	if d.settings.MaxConns > 0 {
		l = netutil.LimitListener(l, d.settings.MaxConns)
	}
	return l, nil
}

func (d *Daemon) serve(l net.Listener) run.Runner {
	return run.Func(func(ctx context.Context) error {
		srv := &http.Server{
			Handler:  d.handler,
			ErrorLog: d.logger,
		}
		errc := make(chan error, 1)
		go func() {
			errc <- srv.Serve(l)
		}()
		d.logger.Printf("Control API listening on %s", l.Addr())

		select {
		case e := <-errc:
			return e
		case <-ctx.Done():
		}
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if e := srv.Shutdown(sctx); e != nil {
			d.logger.Printf("Control API shutdown: %v", e)
		}
		return nil
	})
}

// hangups reloads on SIGHUP.
func (d *Daemon) hangups() run.Runner {
	return run.Func(func(ctx context.Context) error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGHUP)
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigs:
				if e := d.Reload(); e != nil {
					d.logger.Printf("Reload failed: %v", e)
				}
			}
		}
	})
}

func (d *Daemon) watcher(s *ecovisor.Service) (*watch.Watcher, error) {
	app, _ := d.cfg.App(s.Name())
	return watch.New(s.WatchPath(), watch.Options{
		Ignore: app.IgnoreWatch,
		Delay:  app.WatchDelay.Std(),
		Logger: d.mgr.Logger(s.Name()),
		OnChange: func() {
			e := s.Trigger("watch")
			if e != nil && !errors.Is(e, ecovisor.ErrRestartPending) {
				d.logger.Printf("Restart of %s after change failed: %v", s.Name(), e)
			}
		},
	})
}

// Run starts the apps and serves l until ctx is done, then shuts every app
// down.
func (d *Daemon) Run(ctx context.Context, l net.Listener) error {
	d.mgr.StartMonitoring()
	if d.settings.Enable {
		if e := d.mgr.EnableAll(); e != nil {
			d.logger.Printf("Not every app started: %v", e)
		}
	}

	group := run.Group{
		"control": d.serve(l),
		"signals": d.hangups(),
	}
	for _, s := range d.mgr.Services() {
		if s.WatchPath() == "" {
			continue
		}
		w, e := d.watcher(s)
		if e != nil {
			d.logger.Printf("Cannot watch %s for %s: %v", s.WatchPath(), s.Name(), e)
			continue
		}
		d.logger.Printf("Watching %s for %s", w.Root(), s.Name())
		group["watch:"+s.Name()] = run.Func(w.Run)
	}

	err := group.Run(ctx)
	d.mgr.Shutdown()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
