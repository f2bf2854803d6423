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
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ecovisor/ecovisor"
)

// Command is a shell command line to run for a hook or sync step.
type Command struct {
	Name   string   // hook or step name, for logging
	Dir    string   // working directory; empty means the default
	Env    []string // KEY=value pairs added to the environment
	Script string
	// MakeDir creates Dir before entering it.
	MakeDir bool
}

// Runner executes commands somewhere.  A command that ran and exited
// returns its exit status and a nil error; err is only set when the
// command could not be run at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (code int, err error)
}

// WaitDelay bounds how long a cancelled command may keep its output pipes
// open before it is abandoned.
var WaitDelay = 2 * time.Second

// run runs cmd, streaming its output to logger.  If ctx ends first the
// context's error is returned rather than the kill signal.
func run(ctx context.Context, logger *log.Logger, cmd *exec.Cmd, name string) (int, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	out := ecovisor.NewLineWriter(logger, name+" stdout> ")
	errs := ecovisor.NewLineWriter(logger, name+" stderr> ")
	cmd.Stdout = out
	cmd.Stderr = errs
	cmd.WaitDelay = WaitDelay
	e := cmd.Run()
	out.Flush()
	errs.Flush()

	if ce := ctx.Err(); ce != nil {
		return -1, ce
	}
	var ee *exec.ExitError
	switch {
	case e == nil:
		return 0, nil
	case errors.As(e, &ee) && ee.ExitCode() >= 0:
		return ee.ExitCode(), nil
	}
	return -1, e
}

// quote makes s a single shell word.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// LocalRunner runs commands with the local shell.
type LocalRunner struct {
	Logger *log.Logger
	Shell  string // defaults to sh
}

func (r *LocalRunner) Run(ctx context.Context, c Command) (int, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	if c.MakeDir && c.Dir != "" {
		if e := os.MkdirAll(c.Dir, 0o755); e != nil {
			return -1, e
		}
	}
	cmd := exec.CommandContext(ctx, shell, "-c", c.Script)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	return run(ctx, r.Logger, cmd, c.Name)
}

// SSHRunner runs commands on the remote host through the ssh client.  ssh
// reserves exit status 255 for its own failures, which are reported as a
// ConnectionError.
type SSHRunner struct {
	Conn   Conn
	Logger *log.Logger
	Binary string // defaults to ssh
}

// Args returns the ssh arguments for running c.
func (r *SSHRunner) Args(c Command) []string {
	args := []string{"-p", strconv.Itoa(r.Conn.Port)}
	if r.Conn.Key != "" {
		args = append(args, "-i", r.Conn.Key)
	}
	for _, o := range r.Conn.Options {
		args = append(args, "-o", o)
	}
	args = append(args, r.Conn.Target())
	return append(args, remoteScript(c))
}

func remoteScript(c Command) string {
	var sb strings.Builder
	for _, kv := range c.Env {
		k, v, _ := strings.Cut(kv, "=")
		sb.WriteString("export " + k + "=" + quote(v) + "; ")
	}
	// The script may be several commands; a failed cd must not let any
	// of them run elsewhere.
	if c.Dir != "" {
		if c.MakeDir {
			sb.WriteString("mkdir -p " + quote(c.Dir) + " || exit $?; ")
		}
		sb.WriteString("cd " + quote(c.Dir) + " || exit $?; ")
	}
	sb.WriteString(c.Script)
	return sb.String()
}

func (r *SSHRunner) Run(ctx context.Context, c Command) (int, error) {
	bin := r.Binary
	if bin == "" {
		bin = "ssh"
	}
	cmd := exec.CommandContext(ctx, bin, r.Args(c)...)
	code, e := run(ctx, r.Logger, cmd, c.Name)
	if ctx.Err() != nil {
		return code, e
	}
	if e != nil {
		return code, &ConnectionError{Host: r.Conn.Host, Err: e}
	}
	if code == 255 {
		return code, &ConnectionError{Host: r.Conn.Host}
	}
	return code, nil
}
