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

package watch

import (
	"sync"
	"time"
)

// Debouncer calls a function once a burst of Pokes has gone quiet for the
// configured delay.  Every Poke pushes the deadline out again.
type Debouncer struct {
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
	lock    sync.Mutex
}

func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Poke records activity.
func (d *Debouncer) Poke() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.stopped {
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *Debouncer) fire() {
	d.lock.Lock()
	stopped := d.stopped
	d.lock.Unlock()
	if !stopped {
		d.fn()
	}
}

// Stop cancels any pending call.  Pokes after Stop are ignored.
func (d *Debouncer) Stop() {
	d.lock.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.lock.Unlock()
}
