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
	"sync"
	"time"
)

// Record is the outcome of one deploy or setup.
type Record struct {
	ID       string    `db:"id" json:"id"`
	Env      string    `db:"env" json:"env"`
	Kind     string    `db:"kind" json:"kind"` // deploy or setup
	Ref      string    `db:"ref" json:"ref"`
	Started  time.Time `db:"started" json:"started"`
	Finished time.Time `db:"finished" json:"finished"`
	OK       bool      `db:"ok" json:"ok"`
	Hook     string    `db:"hook" json:"hook,omitempty"` // failed hook or step
	Code     int       `db:"code" json:"code"`
	Error    string    `db:"error" json:"error,omitempty"`
}

// State remembers which environments have been set up and keeps a history
// of deploys.
type State interface {
	IsSetUp(env string) (bool, error)
	MarkSetUp(env string) error
	Record(rec Record) error
	// History returns up to n records for env, newest first.
	History(env string, n int) ([]Record, error)
}

// MemState is a State that lives only as long as the process.
type MemState struct {
	setup   map[string]bool
	records []Record
	lock    sync.Mutex
}

func NewMemState() *MemState {
	return &MemState{setup: make(map[string]bool)}
}

func (s *MemState) IsSetUp(env string) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.setup[env], nil
}

func (s *MemState) MarkSetUp(env string) error {
	s.lock.Lock()
	s.setup[env] = true
	s.lock.Unlock()
	return nil
}

func (s *MemState) Record(rec Record) error {
	s.lock.Lock()
	s.records = append(s.records, rec)
	s.lock.Unlock()
	return nil
}

func (s *MemState) History(env string, n int) ([]Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var rv []Record
	for i := len(s.records) - 1; i >= 0 && (n <= 0 || len(rv) < n); i-- {
		if s.records[i].Env == env {
			rv = append(rv, s.records[i])
		}
	}
	return rv, nil
}
