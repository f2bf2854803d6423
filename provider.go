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

// Provider is what a managed entity implements.  Except for Name, the
// Manager never calls these methods concurrently for one provider, so
// implementations need not lock against the Manager; they must lock against
// their own goroutines.  Applications use Service, not Provider.
type Provider interface {
	// Name returns the service name.  Names are unique within a Manager.
	Name() string

	// Description is a short human readable summary, ideally no longer
	// than 32 characters so it fits a status line.
	Description() string

	// Start starts the entity.  It blocks until the entity is running
	// or has definitively failed to start.
	Start() error

	// Stop stops the entity, blocking until it is down.  It cannot fail.
	Stop()

	// Check reports the health of the entity.  A nil return means all
	// is well.  ErrExited means the entity finished on its own without
	// that being a failure.
	Check() error

	// Property returns the value of a property.
	Property(PropertyName) (interface{}, error)

	// SetProperty sets the value of a property.
	SetProperty(PropertyName, interface{}) error
}
