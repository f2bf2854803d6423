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
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/ecovisor/ecovisor/config"
)

const (
	DefaultRef  = "origin/master"
	DefaultPort = 22
)

// Conn is how to reach the remote host.
type Conn struct {
	User    string   `json:"user"`
	Host    string   `json:"host"`
	Port    int      `json:"port"`
	Key     string   `json:"key,omitempty"`
	Options []string `json:"options,omitempty"`
}

// Target is the user@host argument for ssh.
func (c Conn) Target() string {
	return c.User + "@" + c.Host
}

// Hook is one lifecycle hook of a plan.  Command may be empty, in which case
// the hook is skipped.
type Hook struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Local   bool   `json:"local"`
}

// Plan is a fully resolved deploy environment.
type Plan struct {
	Env     string   `json:"env"`
	Conn    Conn     `json:"conn"`
	Repo    string   `json:"repo"`
	Ref     string   `json:"ref"`
	Path    string   `json:"path"`
	Environ []string `json:"environ,omitempty"`
	Hooks   []Hook   `json:"hooks"`
}

// Hook returns the named hook.  Unknown names yield an empty hook.
func (p *Plan) Hook(name string) Hook {
	for _, h := range p.Hooks {
		if h.Name == name {
			return h
		}
	}
	return Hook{Name: name}
}

// SourceDir is the remote git checkout.
func (p *Plan) SourceDir() string {
	return path.Join(p.Path, "source")
}

// CurrentDir is the remote symlink the apps run from.
func (p *Plan) CurrentDir() string {
	return path.Join(p.Path, "current")
}

// Resolve expands the named environment of cfg into a Plan.  ${VAR}
// references are taken from the process environment.
func Resolve(cfg *config.Config, name string) (*Plan, error) {
	env, ok := cfg.Environment(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
	}

	p := &Plan{
		Env: name,
		Conn: Conn{
			User: os.ExpandEnv(env.User),
			Host: os.ExpandEnv(env.Host),
			Port: env.Port,
			Key:  os.ExpandEnv(env.Key),
		},
		Repo: os.ExpandEnv(env.Repo),
		Ref:  os.ExpandEnv(env.Ref),
		Path: os.ExpandEnv(env.Path),
	}
	for _, o := range env.SSHOptions {
		p.Conn.Options = append(p.Conn.Options, os.ExpandEnv(o))
	}
	if p.Conn.Port == 0 {
		p.Conn.Port = DefaultPort
	}
	if p.Ref == "" {
		p.Ref = DefaultRef
	}

	required := []struct {
		field, value string
	}{
		{"user", p.Conn.User},
		{"host", p.Conn.Host},
		{"repo", p.Repo},
		{"path", p.Path},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, &config.ParseError{
				Path: cfg.Path,
				Err:  fmt.Errorf("deploy.%s: %w: %s", name, ErrMissingField, r.field),
			}
		}
	}

	keys := make([]string, 0, len(env.Env))
	for k := range env.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Environ = append(p.Environ, k+"="+os.ExpandEnv(env.Env[k]))
	}

	for _, n := range []string{
		config.HookPreSetup,
		config.HookPostSetup,
		config.HookPreDeployLocal,
		config.HookPostDeploy,
	} {
		p.Hooks = append(p.Hooks, Hook{
			Name:    n,
			Command: env.Hook(n),
			Local:   n == config.HookPreDeployLocal,
		})
	}
	return p, nil
}
