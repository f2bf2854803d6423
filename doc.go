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

// Package ecovisor supervises a set of application processes described by an
// ecosystem file.  It is similar in concept to supervisord or pm2, scaled
// down to what a single host deployment needs: apps are started, watched
// for source changes, restarted when they fail (within a rate limit), and
// reloaded on demand after a deploy.
//
// The Manager is the registry.  Each managed app is a Service, wrapping a
// Provider that knows how to start, stop and health check the underlying
// entity; Process is the Provider for operating system processes, and
// NewApp builds one from a config.AppSpec.
//
// A Manager can be served over HTTP (see the rest package) so that the
// ecovisor command can control a running daemon.
package ecovisor
