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
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/ecovisor/ecovisor/config"
)

const ecosystem = `
apps:
  - script: main.py
    watch: .
deploy:
  production:
    user: ${SSH_USERNAME}
    host: ${SSH_HOSTMACHINE}
    ref: origin/master
    repo: ${GIT_REPOSITORY}
    path: ${DESTINATION_PATH}
    pre-deploy-local: ''
    post-deploy: pip install -r requirements.txt && ecovisor reload
    pre-setup: ''
  staging:
    user: deploy
    host: staging.example.com
    port: 2222
    key: ~/.ssh/staging
    ssh_options: ["StrictHostKeyChecking=no"]
    repo: git@example.com:app.git
    path: /srv/app
    env:
      NODE_ENV: staging
      API: ${API_URL}
    pre-setup: echo setting up
  broken:
    user: deploy
    host: ${UNSET_HOST_FOR_TEST}
    repo: git@example.com:app.git
    path: /srv/app
`

func parse(t *testing.T) *config.Config {
	cfg, e := config.Parse(strings.NewReader(ecosystem), "/srv/eco/ecosystem.yaml")
	if e != nil {
		t.Fatalf("parse: %v", e)
	}
	return cfg
}

func TestResolve(t *testing.T) {
	t.Setenv("SSH_USERNAME", "ubuntu")
	t.Setenv("SSH_HOSTMACHINE", "prod.example.com")
	t.Setenv("GIT_REPOSITORY", "https://example.com/app.git")
	t.Setenv("DESTINATION_PATH", "/var/www/app")
	t.Setenv("API_URL", "https://api.example.com")
	cfg := parse(t)

	Convey("Resolving production", t, func() {
		p, e := Resolve(cfg, "production")
		So(e, ShouldBeNil)
		So(p.Env, ShouldEqual, "production")
		So(p.Conn.User, ShouldEqual, "ubuntu")
		So(p.Conn.Host, ShouldEqual, "prod.example.com")
		So(p.Conn.Port, ShouldEqual, DefaultPort)
		So(p.Conn.Target(), ShouldEqual, "ubuntu@prod.example.com")
		So(p.Repo, ShouldEqual, "https://example.com/app.git")
		So(p.Ref, ShouldEqual, "origin/master")
		So(p.Path, ShouldEqual, "/var/www/app")
		So(p.SourceDir(), ShouldEqual, "/var/www/app/source")
		So(p.CurrentDir(), ShouldEqual, "/var/www/app/current")

		names := []string{}
		for _, h := range p.Hooks {
			names = append(names, h.Name)
		}
		So(names, ShouldResemble, []string{"pre-setup", "post-setup", "pre-deploy-local", "post-deploy"})
		So(p.Hook("pre-deploy-local").Local, ShouldBeTrue)
		So(p.Hook("post-deploy").Local, ShouldBeFalse)
		So(p.Hook("post-deploy").Command, ShouldStartWith, "pip install")
		So(p.Hook("pre-setup").Command, ShouldEqual, "")
	})

	Convey("Resolving staging", t, func() {
		p, e := Resolve(cfg, "staging")
		So(e, ShouldBeNil)
		So(p.Conn.Port, ShouldEqual, 2222)
		So(p.Conn.Key, ShouldEqual, "~/.ssh/staging")
		So(p.Conn.Options, ShouldResemble, []string{"StrictHostKeyChecking=no"})
		So(p.Ref, ShouldEqual, DefaultRef)
		So(p.Environ, ShouldResemble, []string{"API=https://api.example.com", "NODE_ENV=staging"})
	})

	Convey("An unknown environment", t, func() {
		_, e := Resolve(cfg, "nowhere")
		So(errors.Is(e, ErrUnknownEnvironment), ShouldBeTrue)
	})

	Convey("A required field expanding to nothing", t, func() {
		_, e := Resolve(cfg, "broken")
		So(errors.Is(e, ErrMissingField), ShouldBeTrue)
		var pe *config.ParseError
		So(errors.As(e, &pe), ShouldBeTrue)
		So(pe.Path, ShouldEqual, "/srv/eco/ecosystem.yaml")
		So(e.Error(), ShouldContainSubstring, "host")
	})
}

func TestExitCode(t *testing.T) {
	Convey("Exit codes for the command line", t, func() {
		So(ExitCode(nil), ShouldEqual, 0)
		So(ExitCode(&HookError{Hook: "post-deploy", Code: 7}), ShouldEqual, 7)
		So(ExitCode(&ConnectionError{Host: "h"}), ShouldEqual, 255)
		So(ExitCode(ErrDeployInProgress), ShouldEqual, 1)
		So(ExitCode(errors.New("boom")), ShouldEqual, 1)
	})
}
