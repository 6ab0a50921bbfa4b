/*
 * Copyright 2026 RapidLoop, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package collector

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeKV(t *testing.T) {
	assert.Equal(t, "host=localhost ", makeKV("host", "localhost"))
	assert.Equal(t, "host='local host' ", makeKV("host", "local host"))
	assert.Equal(t, "password='' ", makeKV("password", ""))
	assert.Equal(t, `password=p\\\'q `, makeKV("password", `p\'q`))
	assert.Equal(t, `dbname='my db\'s' `, makeKV("dbname", `my db's`))
}

func TestConnString(t *testing.T) {
	t.Setenv("PGSSLMODE", "")

	cc := ConnConfig{
		Host: "/var/run/postgresql", Port: 5432, User: "postgres",
		DBName: "mydb", AppName: "pgstat", TimeoutSec: 5,
	}
	s, mode := cc.connString()
	assert.Equal(t, modePostgres, mode)
	assert.Contains(t, s, "host=/var/run/postgresql ")
	assert.Contains(t, s, "port=5432 ")
	assert.Contains(t, s, "user=postgres ")
	assert.Contains(t, s, "dbname=mydb ")
	assert.Contains(t, s, "sslmode=disable ")
	assert.Contains(t, s, "statement_timeout=5000 ")
	assert.Contains(t, s, "application_name=pgstat ")
	assert.Contains(t, s, "default_query_exec_mode=simple_protocol ")
	assert.NotContains(t, s, "password=")
}

func TestConnStringNoTimeout(t *testing.T) {
	t.Setenv("PGSSLMODE", "")

	cc := ConnConfig{Host: "h", Port: 5432, AppName: "pgwaitevent"}
	s, _ := cc.connString()
	assert.NotContains(t, s, "statement_timeout")
}

func TestConnStringPgBouncer(t *testing.T) {
	t.Setenv("PGSSLMODE", "")

	cc := ConnConfig{Host: "h", Port: 6432, DBName: "pgbouncer",
		AppName: "pgstat", TimeoutSec: 5}
	s, mode := cc.connString()
	assert.Equal(t, modePgBouncer, mode)
	assert.Contains(t, s, "dbname=pgbouncer ")
	// pgbouncer's console rejects startup parameters like this one
	assert.NotContains(t, s, "statement_timeout")
}

// The dbname slot doubles as a full connection string; when it parses as
// one it wins over the separate options.
func TestConnStringPassthrough(t *testing.T) {
	t.Setenv("PGSSLMODE", "")

	cc := ConnConfig{Host: "ignored", Port: 5432,
		DBName: "host=db1 port=6432 dbname=pgbouncer", AppName: "pgstat",
		TimeoutSec: 5}
	s, mode := cc.connString()
	assert.Equal(t, modePgBouncer, mode)
	assert.Contains(t, s, "dbname=pgbouncer")
	assert.NotContains(t, s, "statement_timeout")
	assert.NotContains(t, s, "host=ignored")
}

func TestDefaultConnConfig(t *testing.T) {
	t.Setenv("PGHOST", "db.example.com")
	t.Setenv("PGPORT", "6432")
	t.Setenv("PGUSER", "alice")
	t.Setenv("PGDATABASE", "app")

	cc := DefaultConnConfig("pgcsvstat")
	assert.Equal(t, "db.example.com", cc.Host)
	assert.Equal(t, uint16(6432), cc.Port)
	assert.Equal(t, "alice", cc.User)
	assert.Equal(t, "app", cc.DBName)
	assert.Equal(t, "pgcsvstat", cc.AppName)
	assert.Equal(t, uint(5), cc.TimeoutSec)
}

func TestDefaultConnConfigFallbacks(t *testing.T) {
	t.Setenv("PGHOST", "")
	t.Setenv("PGPORT", "notaport")
	t.Setenv("PGDATABASE", "")

	cc := DefaultConnConfig("pgstat")
	assert.Equal(t, "/var/run/postgresql", cc.Host)
	assert.Equal(t, uint16(5432), cc.Port)
	assert.Equal(t, "", cc.DBName)

	t.Setenv("PGPORT", "70000")
	assert.Equal(t, uint16(5432), DefaultConnConfig("pgstat").Port)
}

func TestHasPGStatStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	c := &Collector{db: db, version: mkv(14, 0)}

	mock.ExpectQuery("FROM pg_extension").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := c.HasPGStatStatements(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery("FROM pg_extension").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	ok, err = c.HasPGStatStatements(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
