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

// PropertyName names a tunable of a Service or its Provider.  Names starting
// with an underscore are reserved; providers may define their own.  There is
// no discovery: a consumer must know the name and the value type.
type PropertyName string

const (
	PropLogger      PropertyName = "_Logger"      // *log.Logger for messages
	PropRestart     PropertyName = "_Restart"     // bool, self-heal on failure
	PropRateLimit   PropertyName = "_RateLimit"   // int, max starts per period
	PropRatePeriod  PropertyName = "_RatePeriod"  // time.Duration
	PropName        PropertyName = "_Name"        // string
	PropDescription PropertyName = "_Description" // string
	PropNotify      PropertyName = "_Notify"      // func(), state change callback
	PropWatch       PropertyName = "_Watch"       // string, watched directory
)
