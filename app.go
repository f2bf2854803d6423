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
	"github.com/ecovisor/ecovisor/config"
)

// NewApp builds a process Service from an app spec.  The restart policy maps
// onto the Service and Process properties:
//
//	always      any exit is a failure, and failures self-heal
//	on-failure  only a non-zero exit is a failure, and failures self-heal
//	never       failures are reported but nothing is restarted
func NewApp(app config.AppSpec) *Service {
	s := NewProcess(app.Name, app.Command(), app.Cwd, app.Environ())
	s.SetProperty(PropWatch, app.WatchPath())
	s.SetProperty(PropProcessStopTime, app.StopTimeout.Std())
	s.SetProperty(PropRateLimit, app.MaxRestarts)
	s.SetProperty(PropRatePeriod, app.RestartPeriod.Std())

	switch app.Restart {
	case config.RestartOnFailure:
		s.SetProperty(PropProcessFailOnExit, false)
		s.SetProperty(PropRestart, true)
	case config.RestartNever:
		s.SetProperty(PropProcessFailOnExit, false)
		s.SetProperty(PropRestart, false)
	default:
		s.SetProperty(PropProcessFailOnExit, true)
		s.SetProperty(PropRestart, true)
	}
	return s
}

// LoadApps registers a Service for every app in cfg.
func (m *Manager) LoadApps(cfg *config.Config) ([]*Service, error) {
	rv := make([]*Service, 0, len(cfg.Apps))
	for _, app := range cfg.Apps {
		s := NewApp(app)
		if e := m.AddService(s); e != nil {
			return rv, e
		}
		rv = append(rv, s)
	}
	return rv, nil
}
