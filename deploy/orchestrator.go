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
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecovisor/ecovisor/config"
	"github.com/ecovisor/ecovisor/metrics"
)

// Step names for the work done between hooks.
const (
	StepSync  = "sync"
	StepClone = "clone"
	StepExec  = "exec"
)

// StepResult is one command the orchestrator ran.
type StepResult struct {
	Name     string        `json:"name"`
	Local    bool          `json:"local"`
	Code     int           `json:"code"`
	Duration time.Duration `json:"duration"`
}

// Report describes a deploy or setup.  Hooks lists the named hooks that
// actually ran; Steps lists everything that ran, in order, including sync.
type Report struct {
	ID       string       `json:"id"`
	Env      string       `json:"env"`
	Kind     string       `json:"kind"`
	Ref      string       `json:"ref"`
	Hooks    []StepResult `json:"hooks"`
	Steps    []StepResult `json:"steps"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
}

// Orchestrator runs plans.  At most one deploy or setup per environment
// name is in flight at a time; different environments are independent.
type Orchestrator struct {
	// Local runs pre-deploy-local.
	Local Runner
	// Remote returns the runner for a plan's connection.
	Remote  func(Conn) Runner
	State   State
	Logger  *log.Logger
	Metrics *metrics.Metrics

	busy map[string]bool
	lock sync.Mutex
}

// NewOrchestrator returns an Orchestrator running hooks with sh and ssh.  A
// nil state keeps setup flags and history in memory.
func NewOrchestrator(state State, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	if state == nil {
		state = NewMemState()
	}
	return &Orchestrator{
		Local: &LocalRunner{Logger: logger},
		Remote: func(c Conn) Runner {
			return &SSHRunner{Conn: c, Logger: logger}
		},
		State:  state,
		Logger: logger,
		busy:   make(map[string]bool),
	}
}

func (o *Orchestrator) acquire(env string) error {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.busy == nil {
		o.busy = make(map[string]bool)
	}
	if o.busy[env] {
		return fmt.Errorf("%w: %s", ErrDeployInProgress, env)
	}
	o.busy[env] = true
	return nil
}

func (o *Orchestrator) release(env string) {
	o.lock.Lock()
	delete(o.busy, env)
	o.lock.Unlock()
}

func (o *Orchestrator) logf(format string, v ...interface{}) {
	if o.Logger != nil {
		o.Logger.Printf(format, v...)
	}
}

// Deploy runs pre-setup (only if the environment was never set up),
// pre-deploy-local, the code sync and post-deploy, stopping at the first
// failure.  The report is returned even on failure.
func (o *Orchestrator) Deploy(ctx context.Context, p *Plan) (*Report, error) {
	if e := o.acquire(p.Env); e != nil {
		return nil, e
	}
	defer o.release(p.Env)

	r := newReport(p, "deploy")
	o.logf("Deploying %s to %s (%s)", p.Ref, p.Env, p.Conn.Target())
	err := o.deploy(ctx, p, r, o.Remote(p.Conn))
	o.finish(r, err)
	o.Metrics.DeployFinished(p.Env, err)
	return r, err
}

func (o *Orchestrator) deploy(ctx context.Context, p *Plan, r *Report, remote Runner) error {
	setUp, e := o.State.IsSetUp(p.Env)
	if e != nil {
		return e
	}
	if !setUp {
		if e := o.hook(ctx, p, r, remote, config.HookPreSetup, p.Path); e != nil {
			return e
		}
	}
	if e := o.hook(ctx, p, r, remote, config.HookPreDeployLocal, ""); e != nil {
		return e
	}
	cmd := Command{
		Name:    StepSync,
		Dir:     p.Path,
		MakeDir: true,
		Env:     p.Environ,
		Script:  syncScript(p),
	}
	if e := o.step(ctx, p, r, remote, cmd, false, false); e != nil {
		return e
	}
	if e := o.State.MarkSetUp(p.Env); e != nil {
		return e
	}
	return o.hook(ctx, p, r, remote, config.HookPostDeploy, p.CurrentDir())
}

// Setup prepares the remote host: pre-setup, a clone of the repository if
// there is none yet, and post-setup.
func (o *Orchestrator) Setup(ctx context.Context, p *Plan) (*Report, error) {
	if e := o.acquire(p.Env); e != nil {
		return nil, e
	}
	defer o.release(p.Env)

	r := newReport(p, "setup")
	o.logf("Setting up %s (%s)", p.Env, p.Conn.Target())
	err := o.setup(ctx, p, r, o.Remote(p.Conn))
	o.finish(r, err)
	return r, err
}

func (o *Orchestrator) setup(ctx context.Context, p *Plan, r *Report, remote Runner) error {
	if e := o.hook(ctx, p, r, remote, config.HookPreSetup, p.Path); e != nil {
		return e
	}
	clone := Command{
		Name:    StepClone,
		Dir:     p.Path,
		MakeDir: true,
		Env:     p.Environ,
		Script:  cloneScript(p),
	}
	if e := o.step(ctx, p, r, remote, clone, false, false); e != nil {
		return e
	}
	if e := o.hook(ctx, p, r, remote, config.HookPostSetup, p.SourceDir()); e != nil {
		return e
	}
	return o.State.MarkSetUp(p.Env)
}

// Exec runs an arbitrary command on the remote host in the current
// release.
func (o *Orchestrator) Exec(ctx context.Context, p *Plan, script string) error {
	if script == "" {
		return ErrNoCommand
	}
	cmd := Command{
		Name:   StepExec,
		Dir:    p.CurrentDir(),
		Env:    p.Environ,
		Script: script,
	}
	r := newReport(p, "exec")
	return o.step(ctx, p, r, o.Remote(p.Conn), cmd, false, false)
}

// History returns up to n past deploys and setups of env, newest first.
func (o *Orchestrator) History(env string, n int) ([]Record, error) {
	return o.State.History(env, n)
}

func (o *Orchestrator) hook(ctx context.Context, p *Plan, r *Report, remote Runner, name, dir string) error {
	h := p.Hook(name)
	if h.Command == "" {
		return nil
	}
	runner := remote
	if h.Local {
		runner = o.Local
		dir = ""
	}
	cmd := Command{
		Name:    h.Name,
		Dir:     dir,
		MakeDir: name == config.HookPreSetup,
		Env:     p.Environ,
		Script:  h.Command,
	}
	return o.step(ctx, p, r, runner, cmd, h.Local, true)
}

func (o *Orchestrator) step(ctx context.Context, p *Plan, r *Report, runner Runner, cmd Command, local, isHook bool) error {
	if e := ctx.Err(); e != nil {
		return e
	}
	o.logf("%s: running %s", p.Env, cmd.Name)
	start := time.Now()
	code, err := runner.Run(ctx, cmd)
	res := StepResult{
		Name:     cmd.Name,
		Local:    local,
		Code:     code,
		Duration: time.Since(start),
	}
	if r.Kind != "exec" {
		o.Metrics.HookFinished(p.Env, cmd.Name, res.Duration)
	}
	r.Steps = append(r.Steps, res)
	if isHook {
		r.Hooks = append(r.Hooks, res)
	}

	var ce *ConnectionError
	switch {
	case errors.As(err, &ce):
		o.logf("%s: %s failed: %v", p.Env, cmd.Name, err)
		return err
	case err != nil:
		o.logf("%s: %s failed: %v", p.Env, cmd.Name, err)
		return fmt.Errorf("%s: %w", cmd.Name, err)
	case code != 0:
		o.logf("%s: %s exited with status %d", p.Env, cmd.Name, code)
		return &HookError{Hook: cmd.Name, Code: code}
	}
	o.logf("%s: %s done in %v", p.Env, cmd.Name, res.Duration.Round(time.Millisecond))
	return nil
}

func newReport(p *Plan, kind string) *Report {
	return &Report{
		ID:      uuid.NewString(),
		Env:     p.Env,
		Kind:    kind,
		Ref:     p.Ref,
		Started: time.Now(),
	}
}

func (o *Orchestrator) finish(r *Report, err error) {
	r.Finished = time.Now()
	rec := Record{
		ID:       r.ID,
		Env:      r.Env,
		Kind:     r.Kind,
		Ref:      r.Ref,
		Started:  r.Started,
		Finished: r.Finished,
		OK:       err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.Code = ExitCode(err)
		if n := len(r.Steps); n > 0 {
			rec.Hook = r.Steps[n-1].Name
		}
		o.logf("%s %s of %s failed: %v", r.Kind, r.ID, r.Env, err)
	} else {
		o.logf("%s %s of %s finished in %v", r.Kind, r.ID, r.Env,
			r.Finished.Sub(r.Started).Round(time.Millisecond))
	}
	if e := o.State.Record(rec); e != nil {
		o.logf("Failed to record %s: %v", r.ID, e)
	}
}

func cloneScript(p *Plan) string {
	return "[ -d source/.git ] || git clone " + quote(p.Repo) + " source"
}

// syncScript brings path/source to the plan's ref and points path/current
// at it.
func syncScript(p *Plan) string {
	return cloneScript(p) +
		" && cd source" +
		" && git fetch --all --tags" +
		" && git reset --hard " + quote(p.Ref) +
		" && cd .." +
		" && ln -sfn source current"
}
