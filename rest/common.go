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

// Package rest is the HTTP control interface of the supervisor: a
// gorilla/mux handler wrapping a Manager, and a client for it.
package rest

import (
	"strconv"
	"strings"
	"time"

	"github.com/ecovisor/ecovisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollTimeHeader asks the server to hold a request carrying
	// If-None-Match for up to this many seconds waiting for a change.
	PollTimeHeader = "X-Ecovisor-Poll-Time"

	// MaxPollTime caps PollTimeHeader.
	MaxPollTime = 300
)

var ok struct{}

type ManagerInfo = ecovisor.ManagerInfo

type LogRecord = ecovisor.LogRecord

type ServiceInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Enabled     bool      `json:"enabled"`
	Running     bool      `json:"running"`
	Failed      bool      `json:"failed"`
	Exited      bool      `json:"exited"`
	Restarting  bool      `json:"restarting"`
	Restarts    int       `json:"restarts"`
	Watch       string    `json:"watch,omitempty"`
	Pid         int       `json:"pid,omitempty"`
	CPU         float64   `json:"cpu"` // percent
	RSS         uint64    `json:"rss"` // bytes
	Status      string    `json:"status"`
	TimeStamp   time.Time `json:"tstamp"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func formatEtag(id int64) string {
	return `"` + strconv.FormatInt(id, 10) + `"`
}

// parseEtag returns 0 for anything that is not one of our tags.
func parseEtag(s string) int64 {
	s = strings.TrimPrefix(strings.TrimSpace(s), "W/")
	id, e := strconv.ParseInt(strings.Trim(s, `"`), 10, 64)
	if e != nil {
		return 0
	}
	return id
}
