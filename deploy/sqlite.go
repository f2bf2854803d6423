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
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const stateSchema = `
CREATE TABLE IF NOT EXISTS environments_v1 (
	env TEXT PRIMARY KEY,
	setup_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS deploys_v1 (
	id TEXT PRIMARY KEY,
	env TEXT NOT NULL,
	kind TEXT NOT NULL,
	ref TEXT NOT NULL,
	started TIMESTAMP NOT NULL,
	finished TIMESTAMP NOT NULL,
	ok BOOLEAN NOT NULL,
	hook TEXT NOT NULL,
	code INTEGER NOT NULL,
	error TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS deploys_v1_env ON deploys_v1 (env, started);
`

// DBState is a State kept in a SQLite database.
type DBState struct {
	db *sqlx.DB
}

// OpenState opens (creating if needed) the SQLite database at path.
func OpenState(path string) (*DBState, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state tables: %w", err)
	}
	return &DBState{db: db}, nil
}

func (s *DBState) Close() error {
	return s.db.Close()
}

func (s *DBState) IsSetUp(env string) (bool, error) {
	var n int
	err := s.db.Get(&n, "SELECT COUNT(*) FROM environments_v1 WHERE env = $1", env)
	return n > 0, err
}

func (s *DBState) MarkSetUp(env string) error {
	_, err := s.db.Exec(`
		INSERT INTO environments_v1 (env, setup_at)
		VALUES ($1, datetime())
		ON CONFLICT (env) DO NOTHING`, env)
	return err
}

func (s *DBState) Record(rec Record) error {
	_, err := s.db.NamedExec(`
		INSERT INTO deploys_v1 (id, env, kind, ref, started, finished, ok, hook, code, error)
		VALUES (:id, :env, :kind, :ref, :started, :finished, :ok, :hook, :code, :error)`, rec)
	if err != nil {
		return fmt.Errorf("failed to record deploy %s: %w", rec.ID, err)
	}
	return nil
}

func (s *DBState) History(env string, n int) ([]Record, error) {
	if n <= 0 {
		n = -1
	}
	var rv []Record
	err := s.db.Select(&rv, `
		SELECT id, env, kind, ref, started, finished, ok, hook, code, error
		FROM deploys_v1 WHERE env = $1
		ORDER BY started DESC, rowid DESC LIMIT $2`, env, n)
	return rv, err
}
