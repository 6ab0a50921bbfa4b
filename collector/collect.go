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
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// See https://www.postgresql.org/docs/current/static/libpq-connect.html#LIBPQ-CONNSTRING
func makeKV(k, v string) string {
	var v2 string
	for _, ch := range v {
		if ch == '\\' || ch == '\'' {
			v2 += "\\"
		}
		v2 += string(ch)
	}
	if len(v2) == 0 || strings.IndexByte(v2, ' ') != -1 {
		return fmt.Sprintf("%s='%s' ", k, v2)
	}
	return fmt.Sprintf("%s=%s ", k, v2)
}

// ConnConfig is the connection part of every tool's command line, plus a
// few knobs the tools set themselves.
type ConnConfig struct {
	Host     string
	Port     uint16
	User     string
	Password string
	DBName   string

	// AppName is set as application_name on the connection, one per tool.
	AppName string

	// TimeoutSec is the per-statement timeout. 0 disables the timeout;
	// pgwaitevent needs that, since its tracing function runs for as long
	// as the traced query does.
	TimeoutSec uint

	// Verbose echoes every statement to stderr before it runs, the
	// session setup queries included.
	Verbose bool
}

// DefaultConnConfig returns a ConnConfig initialized from the usual libpq
// environment variables.
func DefaultConnConfig(app string) ConnConfig {
	cc := ConnConfig{AppName: app, TimeoutSec: 5}

	// connection: host
	if h := os.Getenv("PGHOST"); len(h) > 0 {
		cc.Host = h
	} else {
		cc.Host = "/var/run/postgresql"
	}

	// connection: port
	if ps := os.Getenv("PGPORT"); len(ps) > 0 {
		if p, err := strconv.Atoi(ps); err == nil && p > 0 && p < 65536 {
			cc.Port = uint16(p)
		} else {
			cc.Port = 5432
		}
	} else {
		cc.Port = 5432
	}

	// connection: user
	if u := os.Getenv("PGUSER"); len(u) > 0 {
		cc.User = u
	} else if u, err := user.Current(); err == nil && u != nil {
		cc.User = u.Username
	} else {
		cc.User = ""
	}

	// connection: database
	cc.DBName = os.Getenv("PGDATABASE")

	return cc
}

// connString forms the libpq keyword/value connection string, and reports
// whether the target is PgBouncer's admin console rather than a Postgres
// server.
func (cc ConnConfig) connString() (connstr string, mode string) {
	mode = modePostgres
	// Support supplying a full connection string as the dbname. If it
	// parses as one, it takes precedence over the other options.
	if len(cc.DBName) > 0 {
		if cfg, err := pgx.ParseConfig(cc.DBName); err == nil {
			connstr = cfg.ConnString() + " "
			if cfg.Database == "pgbouncer" {
				mode = modePgBouncer
			}
		}
	}
	if len(connstr) == 0 {
		if len(cc.Host) > 0 {
			connstr += makeKV("host", cc.Host)
		}
		connstr += makeKV("port", strconv.Itoa(int(cc.Port)))
		if len(cc.User) > 0 {
			connstr += makeKV("user", cc.User)
		}
		if len(cc.Password) > 0 {
			connstr += makeKV("password", cc.Password)
		}
		if len(cc.DBName) > 0 {
			connstr += makeKV("dbname", cc.DBName)
			if cc.DBName == "pgbouncer" {
				mode = modePgBouncer
			}
		}
		// default to sslmode=disable if unset, like the C tools built on
		// a default libpq; set PGSSLMODE for a different behavior
		if os.Getenv("PGSSLMODE") == "" {
			connstr += makeKV("sslmode", "disable")
		}
	}

	// set statement timeout (but not for pgbouncer, it does not like it)
	if mode != modePgBouncer && cc.TimeoutSec > 0 {
		connstr += makeKV("statement_timeout", strconv.Itoa(int(cc.TimeoutSec)*1000))
	}

	connstr += makeKV("application_name", cc.AppName)

	// Simple protocol for maximum compatibility, pgbouncer's admin
	// console included.
	connstr += makeKV("default_query_exec_mode", "simple_protocol")
	return
}

const (
	modePostgres  = "postgres"
	modePgBouncer = "pgbouncer"
)

// Collector is a single connection to a Postgres server (or a PgBouncer
// console) with the server's version gate attached. All the tools funnel
// their queries through one of these.
type Collector struct {
	db       *sql.DB
	version  Version
	recovery bool
	mode     string
	timeout  time.Duration

	// Verbose makes every composed statement echo to stderr before it
	// runs.
	Verbose bool
	// Human routes byte-valued deltas through the server's
	// pg_size_pretty().
	Human bool
	// Filter restricts multi-row domains to a single named object.
	Filter string
}

// Open connects with the given configuration and, for a Postgres target,
// fetches the server version and recovery status once for the lifetime of
// the session.
func Open(cc ConnConfig) (*Collector, error) {
	connstr, mode := cc.connString()
	db, err := sql.Open("pgx", connstr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to server: %v", err)
	}

	// ensure only 1 conn
	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)

	c := &Collector{
		db:      db,
		mode:    mode,
		timeout: time.Duration(cc.TimeoutSec) * time.Second,
		Verbose: cc.Verbose,
	}

	ctx, cancel := c.queryCtx(context.Background())
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to server: %v", err)
	}

	if mode == modePostgres {
		if err := c.fetchVersion(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) fetchVersion(ctx context.Context) error {
	var raw string
	q := `SELECT current_setting('server_version')`
	c.echo(q)
	if err := c.db.QueryRowContext(ctx, q).Scan(&raw); err != nil {
		return queryErr(q, err)
	}
	v, err := ParseVersion(raw)
	if err != nil {
		return err
	}
	c.version = v

	q = `SELECT pg_is_in_recovery()`
	c.echo(q)
	if err := c.db.QueryRowContext(ctx, q).Scan(&c.recovery); err != nil {
		return queryErr(q, err)
	}
	return nil
}

// Version returns the server version fetched at connection time.
func (c *Collector) Version() Version { return c.version }

// InRecovery reports whether the server was in recovery at connection
// time.
func (c *Collector) InRecovery() bool { return c.recovery }

// PgBouncer reports whether the session is connected to PgBouncer's admin
// console instead of a Postgres server.
func (c *Collector) PgBouncer() bool { return c.mode == modePgBouncer }

// Close closes the underlying connection.
func (c *Collector) Close() error { return c.db.Close() }

// queryCtx derives the per-statement context. A zero timeout (pgwaitevent)
// leaves the parent deadline-free.
func (c *Collector) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.timeout)
}

// echo prints a composed statement to stderr when -v is in effect.
func (c *Collector) echo(q string) {
	if c.Verbose {
		log.Printf("query: %s", q)
	}
}

// prettySize formats a byte count through the server's own
// pg_size_pretty, so sizes read exactly as they would in psql.
func (c *Collector) prettySize(ctx context.Context, n int64) (string, error) {
	ctx2, cancel := c.queryCtx(ctx)
	defer cancel()
	q := `SELECT pg_size_pretty($1::bigint)`
	var s string
	if err := c.db.QueryRowContext(ctx2, q, n).Scan(&s); err != nil {
		return "", queryErr(q, err)
	}
	return s, nil
}

// HasPGStatStatements checks whether the pg_stat_statements extension is
// installed in the connected database.
func (c *Collector) HasPGStatStatements(ctx context.Context) (bool, error) {
	ctx2, cancel := c.queryCtx(ctx)
	defer cancel()
	c.echo(sqlPGSSExists)
	var ok bool
	if err := c.db.QueryRowContext(ctx2, sqlPGSSExists).Scan(&ok); err != nil {
		return false, queryErr(sqlPGSSExists, err)
	}
	return ok, nil
}
