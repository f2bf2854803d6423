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
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	PropProcessFailOnExit PropertyName = "_ProcFailOnExit" // bool
	PropProcessStopTime   PropertyName = "_ProcStopTime"   // time.Duration
	PropProcessPid        PropertyName = "_ProcPid"        // int, read only
)

// Process is a Provider for an operating system process.  A fresh exec.Cmd
// is built on every start, so a Process can be started any number of times.
type Process struct {
	name string
	desc string
	argv []string
	dir  string
	env  []string

	logger     *log.Logger
	notify     func()
	stopTime   time.Duration // 0 waits forever for a clean shutdown
	failOnExit bool          // any exit is a failure, not just non-zero ones

	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
	exited  bool
	stopped bool
	lock    sync.Mutex
}

func (p *Process) Name() string {
	return p.name
}

func (p *Process) Description() string {
	return p.desc
}

func (p *Process) wait(cmd *exec.Cmd, done chan struct{}, out, errs *LineWriter) {
	e := cmd.Wait()
	out.Flush()
	errs.Flush()

	p.lock.Lock()
	p.exited = true
	p.exitErr = e
	stopped := p.stopped
	notify := p.notify
	p.lock.Unlock()
	close(done)

	if !stopped {
		if e != nil {
			p.logger.Printf("Exited: %v", e)
		} else {
			p.logger.Printf("Exited cleanly")
		}
		if notify != nil {
			notify()
		}
	}
}

func (p *Process) Start() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if len(p.argv) == 0 {
		return fmt.Errorf("%s: no command", p.name)
	}

	out := NewLineWriter(p.logger, "stdout> ")
	errs := NewLineWriter(p.logger, "stderr> ")
	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Dir = p.dir
	cmd.Env = append(os.Environ(), p.env...)
	cmd.Stdout = out
	cmd.Stderr = errs
	// Grandchildren holding our pipes open must not wedge Wait forever.
	cmd.WaitDelay = p.stopTime

	if e := cmd.Start(); e != nil {
		return e
	}
	p.cmd = cmd
	p.done = make(chan struct{})
	p.exited = false
	p.exitErr = nil
	p.stopped = false
	p.logger.Printf("Started pid %d: %v", cmd.Process.Pid, p.argv)

	go p.wait(cmd, p.done, out, errs)
	return nil
}

func (p *Process) Stop() {
	p.lock.Lock()
	p.stopped = true
	cmd, done := p.cmd, p.done
	if cmd == nil || p.exited {
		p.lock.Unlock()
		return
	}
	if e := cmd.Process.Signal(syscall.SIGTERM); e != nil {
		p.logger.Printf("Failed sending SIGTERM: %v", e)
	}
	p.lock.Unlock()

	var expired <-chan time.Time
	if p.stopTime > 0 {
		timer := time.NewTimer(p.stopTime)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-done:
		return
	case <-expired:
		p.logger.Printf("Graceful shutdown timed out, killing pid %d", cmd.Process.Pid)
		if e := cmd.Process.Kill(); e != nil {
			p.logger.Printf("Failed killing: %v", e)
		}
	}
	<-done
}

// Check reports a non-zero exit (or, with failOnExit, any exit) as a failure
// and a clean exit as ErrExited.
func (p *Process) Check() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	switch {
	case !p.exited || p.stopped:
		return nil
	case p.exitErr != nil:
		return p.exitErr
	case p.failOnExit:
		return ErrUnexpectedExit
	}
	return ErrExited
}

func (p *Process) Pid() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.cmd == nil || p.exited {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) SetProperty(n PropertyName, v interface{}) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	switch n {
	case PropLogger:
		if v, ok := v.(*log.Logger); ok {
			p.logger = v
			return nil
		}
		return ErrBadPropType
	case PropNotify:
		if v, ok := v.(func()); ok {
			p.notify = v
			return nil
		}
		return ErrBadPropType
	case PropProcessFailOnExit:
		if v, ok := v.(bool); ok {
			p.failOnExit = v
			return nil
		}
		return ErrBadPropType
	case PropProcessStopTime:
		if v, ok := v.(time.Duration); ok {
			p.stopTime = v
			return nil
		}
		return ErrBadPropType
	case PropProcessPid:
		return ErrPropReadOnly
	}
	return ErrBadPropName
}

func (p *Process) Property(n PropertyName) (interface{}, error) {
	switch n {
	case PropProcessPid:
		return p.Pid(), nil
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	switch n {
	case PropLogger:
		return p.logger, nil
	case PropProcessFailOnExit:
		return p.failOnExit, nil
	case PropProcessStopTime:
		return p.stopTime, nil
	}
	return nil, ErrBadPropName
}

// NewProcess returns a Service running argv in dir with env added to the
// supervisor's environment.
func NewProcess(name string, argv []string, dir string, env []string) *Service {
	p := &Process{
		name:     name,
		argv:     append([]string{}, argv...),
		dir:      dir,
		env:      append([]string{}, env...),
		logger:   log.New(os.Stderr, "", log.LstdFlags),
		stopTime: 10 * time.Second,
	}
	p.desc = name + " process: " + strings.Join(argv, " ")
	return NewService(p)
}
