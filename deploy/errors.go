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

// Package deploy turns named deploy environments into plans and runs them:
// local and remote lifecycle hooks around a git based code sync on the
// remote host.
package deploy

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEnvironment = errors.New("Unknown deploy environment")
	ErrMissingField       = errors.New("Missing required field")
	ErrDeployInProgress   = errors.New("Deploy already in progress")
	ErrNoCommand          = errors.New("No command given")
)

// HookError reports a hook or sync step that exited non-zero.
type HookError struct {
	Hook string
	Code int
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Hook, e.Code)
}

// ConnectionError reports that the remote host could not be reached.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "cannot connect to " + e.Host
	}
	return fmt.Sprintf("cannot connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExitCode maps the result of a deploy operation onto a process exit
// status: 0 for success, the hook's own status for a HookError, 255 for a
// ConnectionError and 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var he *HookError
	if errors.As(err, &he) && he.Code > 0 {
		return he.Code
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return 255
	}
	return 1
}
