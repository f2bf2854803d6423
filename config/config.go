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

// Package config holds the ecosystem file model: the applications the
// supervisor keeps running and the named deployment environments.  A Config
// is loaded once and then treated as immutable; components receive the
// pieces they need explicitly.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RestartPolicy says what the supervisor does when an app exits.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

func (p *RestartPolicy) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if e := n.Decode(&s); e != nil {
		return e
	}
	switch RestartPolicy(s) {
	case RestartAlways, RestartOnFailure, RestartNever:
		*p = RestartPolicy(s)
	case "":
		*p = RestartAlways
	default:
		return fmt.Errorf("line %d: bad restart policy %q", n.Line, s)
	}
	return nil
}

// Duration accepts either a Go duration string ("1.5s") or a bare integer,
// which is taken as milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	s := n.Value
	if ms, e := strconv.ParseInt(s, 10, 64); e == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, e := time.ParseDuration(s)
	if e != nil {
		return fmt.Errorf("line %d: %v", n.Line, e)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AppSpec describes one supervised application.
type AppSpec struct {
	Name          string            `yaml:"name" json:"name"`
	Script        string            `yaml:"script" json:"script"`
	Args          []string          `yaml:"args" json:"args"`
	Interpreter   string            `yaml:"interpreter" json:"interpreter"`
	Cwd           string            `yaml:"cwd" json:"cwd"`
	Watch         string            `yaml:"watch" json:"watch"`
	IgnoreWatch   []string          `yaml:"ignore_watch" json:"ignore_watch"`
	WatchDelay    Duration          `yaml:"watch_delay" json:"watch_delay"`
	Env           map[string]string `yaml:"env" json:"env"`
	Restart       RestartPolicy     `yaml:"restart" json:"restart"`
	MaxRestarts   int               `yaml:"max_restarts" json:"max_restarts"`
	RestartPeriod Duration          `yaml:"restart_period" json:"restart_period"`
	StopTimeout   Duration          `yaml:"stop_timeout" json:"stop_timeout"`
}

const (
	DefaultWatchDelay    = time.Second
	DefaultMaxRestarts   = 10
	DefaultRestartPeriod = time.Minute
	DefaultStopTimeout   = 10 * time.Second
)

// DefaultIgnoreWatch lists the directory names never watched unless an app
// overrides the list.
var DefaultIgnoreWatch = []string{".git", "node_modules", "__pycache__"}

var interpreters = map[string]string{
	".py": "python3",
	".js": "node",
	".sh": "sh",
	".rb": "ruby",
}

// Command returns the argv used to launch the app.
func (a *AppSpec) Command() []string {
	argv := []string{}
	switch a.Interpreter {
	case "none":
	case "":
		if i, ok := interpreters[filepath.Ext(a.Script)]; ok {
			argv = append(argv, i)
		}
	default:
		argv = append(argv, strings.Fields(a.Interpreter)...)
	}
	argv = append(argv, a.Script)
	return append(argv, a.Args...)
}

// Environ returns Env as KEY=VALUE pairs.
func (a *AppSpec) Environ() []string {
	return environ(a.Env)
}

// WatchPath returns the absolute directory to watch, or "" if the app is
// not watched.
func (a *AppSpec) WatchPath() string {
	if a.Watch == "" {
		return ""
	}
	if filepath.IsAbs(a.Watch) {
		return filepath.Clean(a.Watch)
	}
	return filepath.Join(a.Cwd, a.Watch)
}

// setDefaults fills in everything the file left out.  dir is the directory
// holding the ecosystem file.
func (a *AppSpec) setDefaults(dir string) {
	if a.Cwd == "" {
		a.Cwd = dir
	} else if !filepath.IsAbs(a.Cwd) {
		a.Cwd = filepath.Join(dir, a.Cwd)
	}
	if a.Name == "" {
		base := filepath.Base(a.Script)
		a.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if a.Restart == "" {
		a.Restart = RestartAlways
	}
	if a.IgnoreWatch == nil {
		a.IgnoreWatch = append([]string{}, DefaultIgnoreWatch...)
	}
	if a.WatchDelay == 0 {
		a.WatchDelay = Duration(DefaultWatchDelay)
	}
	if a.MaxRestarts == 0 {
		a.MaxRestarts = DefaultMaxRestarts
	}
	if a.RestartPeriod == 0 {
		a.RestartPeriod = Duration(DefaultRestartPeriod)
	}
	if a.StopTimeout == 0 {
		a.StopTimeout = Duration(DefaultStopTimeout)
	}
}

// Hook names, in the order they can appear in a deploy.
const (
	HookPreSetup       = "pre-setup"
	HookPostSetup      = "post-setup"
	HookPreDeployLocal = "pre-deploy-local"
	HookPostDeploy     = "post-deploy"
)

// DeployEnvironment is a named deployment target.  String fields may carry
// ${VAR} references; they are expanded when the environment is resolved
// into a plan.
type DeployEnvironment struct {
	Name           string            `yaml:"-" json:"name"`
	User           string            `yaml:"user" json:"user"`
	Host           string            `yaml:"host" json:"host"`
	Port           int               `yaml:"port" json:"port"`
	Key            string            `yaml:"key" json:"key"`
	SSHOptions     []string          `yaml:"ssh_options" json:"ssh_options"`
	Ref            string            `yaml:"ref" json:"ref"`
	Repo           string            `yaml:"repo" json:"repo"`
	Path           string            `yaml:"path" json:"path"`
	Env            map[string]string `yaml:"env" json:"env"`
	PreSetup       string            `yaml:"pre-setup" json:"pre-setup"`
	PostSetup      string            `yaml:"post-setup" json:"post-setup"`
	PreDeployLocal string            `yaml:"pre-deploy-local" json:"pre-deploy-local"`
	PostDeploy     string            `yaml:"post-deploy" json:"post-deploy"`
}

// Hook returns the command configured for the named hook.
func (d *DeployEnvironment) Hook(name string) string {
	switch name {
	case HookPreSetup:
		return d.PreSetup
	case HookPostSetup:
		return d.PostSetup
	case HookPreDeployLocal:
		return d.PreDeployLocal
	case HookPostDeploy:
		return d.PostDeploy
	}
	return ""
}

// Config is the whole ecosystem file.
type Config struct {
	Apps   []AppSpec                    `yaml:"apps" json:"apps"`
	Deploy map[string]DeployEnvironment `yaml:"deploy" json:"deploy"`

	// Path is the file the config was loaded from, Dir its directory.
	Path string `yaml:"-" json:"-"`
	Dir  string `yaml:"-" json:"-"`
}

// App returns the named app spec.
func (c *Config) App(name string) (AppSpec, bool) {
	for _, a := range c.Apps {
		if a.Name == name {
			return a, true
		}
	}
	return AppSpec{}, false
}

// Environment returns the named deploy environment.
func (c *Config) Environment(name string) (DeployEnvironment, bool) {
	env, ok := c.Deploy[name]
	return env, ok
}

func environ(m map[string]string) []string {
	rv := make([]string, 0, len(m))
	for k, v := range m {
		rv = append(rv, k+"="+v)
	}
	return rv
}
