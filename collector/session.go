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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	pgstats "github.com/gleu/pgstats-sub000"
)

const sqlTraceActivity = `SELECT state, query, query_start
  FROM pg_stat_activity
 WHERE pid = $1`

const sqlTraceRun = `SELECT wait_event_type, wait_event, occurrences
  FROM pgwaitevent.trace_wait_events_for_pid($1, $2, $3)`

const sqlTraceSchema = `CREATE SCHEMA pgwaitevent`

// The buffer table is temporary, so it lives in pg_temp rather than in
// the pgwaitevent schema and dies with the session. The UNIQUE
// constraint is what the helper's ON CONFLICT upserts target.
const sqlTraceBuffer = `CREATE TEMPORARY TABLE pgwaitevent_current (
	wait_event_type text,
	wait_event text,
	occurrences bigint,
	UNIQUE (wait_event_type, wait_event))`

// Helper that watches one backend until its current query is done. It
// raises (rather than returning empty) when the target is not an active
// client backend, so the caller can tell "nothing to trace" from "traced
// a query to completion". wait_event_type is null while a backend burns
// CPU; those samples are counted under the label CPU.
const sqlTraceFn = `CREATE FUNCTION pgwaitevent.trace_wait_events_for_pid(p integer,
    leader boolean, naptime numeric DEFAULT 1)
RETURNS TABLE (wait_event_type text, wait_event text, occurrences bigint)
LANGUAGE plpgsql AS $$
DECLARE
  r record;
BEGIN
  SELECT a.state@statecols@ INTO r
    FROM pg_stat_activity a
   WHERE a.pid = p;
  IF NOT FOUND THEN
    RAISE EXCEPTION 'no process with pid %', p;
  END IF;@backendcheck@
  IF r.state IS DISTINCT FROM 'active' THEN
    RAISE EXCEPTION 'process % is not running a query', p;
  END IF;
  TRUNCATE pgwaitevent_current;
  LOOP
    SELECT a.state, a.wait_event_type, a.wait_event INTO r
      FROM pg_stat_activity a
     WHERE a.pid = p;
    EXIT WHEN NOT FOUND;
    EXIT WHEN r.state IS DISTINCT FROM 'active';
    EXIT WHEN r.wait_event = 'ClientRead';
    IF leader THEN
      INSERT INTO pgwaitevent_current
      SELECT coalesce(a.wait_event_type, 'CPU'), coalesce(a.wait_event, ''), count(*)
        FROM pg_stat_activity a
       WHERE (a.pid = p OR a.leader_pid = p)
         AND a.state = 'active'
       GROUP BY 1, 2
      ON CONFLICT (wait_event_type, wait_event)
      DO UPDATE SET occurrences = pgwaitevent_current.occurrences + excluded.occurrences;
    ELSE
      INSERT INTO pgwaitevent_current
      VALUES (coalesce(r.wait_event_type, 'CPU'), coalesce(r.wait_event, ''), 1)
      ON CONFLICT (wait_event_type, wait_event)
      DO UPDATE SET occurrences = pgwaitevent_current.occurrences + 1;
    END IF;
    PERFORM pg_sleep(naptime);
  END LOOP;
  RETURN QUERY
    SELECT w.wait_event_type, w.wait_event, w.occurrences
      FROM pgwaitevent_current w
     ORDER BY w.occurrences DESC;
END;
$$`

const sqlTraceTeardown = `DROP SCHEMA pgwaitevent CASCADE`

// traceFnSQL renders the helper DDL for the server at hand. backend_type
// appeared in 10.0, so the client-backend check is dropped below that.
func traceFnSQL(v Version) string {
	q := sqlTraceFn
	if v.AtLeast(10, 0) {
		q = strings.Replace(q, "@statecols@", ", a.backend_type", 1)
		q = strings.Replace(q, "@backendcheck@", `
  IF r.backend_type IS DISTINCT FROM 'client backend' THEN
    RAISE EXCEPTION 'process % is not a client backend', p;
  END IF;`, 1)
	} else {
		q = strings.Replace(q, "@statecols@", "", 1)
		q = strings.Replace(q, "@backendcheck@", "", 1)
	}
	return q
}

// TracerConfig is pgwaitevent's command line.
type TracerConfig struct {
	PID           int
	IncludeLeader bool    // -g, needs 13.0 for leader_pid
	Interval      float64 // -i, helper probe interval in seconds
	Out           io.Writer
}

// Tracer watches one backend and prints a wait event histogram for every
// query it runs. It pins a single session and installs a schema with a
// helper function on it; Close tears those down again and must run on
// every exit path.
type Tracer struct {
	c       *Collector
	cfg     TracerConfig
	conn    *sql.Conn
	created bool

	stopOnce sync.Once
	stopped  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewTracer checks versions, pins a session and installs the tracing
// helper. The version gates run before any DDL, so a too-old server is
// left untouched.
func NewTracer(ctx context.Context, c *Collector, cfg TracerConfig) (*Tracer, error) {
	if !c.version.AtLeast(9, 6) {
		return nil, &VersionTooLowError{What: "wait event tracing", Need: mkv(9, 6), Have: c.version}
	}
	if cfg.IncludeLeader && !c.version.AtLeast(13, 0) {
		return nil, &VersionTooLowError{What: "tracing leader and workers", Need: mkv(13, 0), Have: c.version}
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1.0
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	t := &Tracer{c: c, cfg: cfg, conn: conn, stopped: make(chan struct{})}
	if err := t.buildEnv(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tracer) buildEnv(ctx context.Context) error {
	ddl := []string{sqlTraceSchema, sqlTraceBuffer, traceFnSQL(t.c.version)}
	for _, q := range ddl {
		qctx, cancel := t.c.queryCtx(ctx)
		t.c.echo(q)
		_, err := t.conn.ExecContext(qctx, q)
		cancel()
		if err != nil {
			return queryErr(q, err)
		}
		if q == sqlTraceSchema {
			t.created = true
		}
	}
	return nil
}

// Stop makes Run return ErrInterrupted at the next loop boundary. Safe
// from a signal handler goroutine; it does not touch the connection.
func (t *Tracer) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

func (t *Tracer) stopRequested() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

// Close drops the tracer's schema and releases the session. Idempotent,
// so it can sit in a defer and still be called on the signal path.
func (t *Tracer) Close() error {
	t.closeOnce.Do(func() {
		if t.created {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			t.c.echo(sqlTraceTeardown)
			if _, err := t.conn.ExecContext(ctx, sqlTraceTeardown); err != nil {
				t.closeErr = queryErr(sqlTraceTeardown, err)
			}
		}
		if err := t.conn.Close(); err != nil && t.closeErr == nil {
			t.closeErr = err
		}
	})
	return t.closeErr
}

// Run polls the activity view every 100 ms. An active target gets traced
// to completion and its histogram printed; an absent target ends the run
// with ErrTargetGone. Returns ErrInterrupted after Stop.
func (t *Tracer) Run(ctx context.Context) error {
	for {
		if t.stopRequested() {
			return ErrInterrupted
		}

		var state, query sql.NullString
		var queryStart sql.NullTime
		qctx, cancel := t.c.queryCtx(ctx)
		t.c.echo(sqlTraceActivity)
		err := t.conn.QueryRowContext(qctx, sqlTraceActivity, t.cfg.PID).
			Scan(&state, &query, &queryStart)
		cancel()
		if err == sql.ErrNoRows {
			return ErrTargetGone
		}
		if err != nil {
			return queryErr(sqlTraceActivity, err)
		}

		if state.String == "active" {
			if err := t.traceOnce(ctx, query.String, queryStart); err != nil {
				return err
			}
		}

		select {
		case <-time.After(100 * time.Millisecond):
		case <-t.stopped:
			return ErrInterrupted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// traceOnce invokes the helper for one query and prints the histogram it
// returns. A raise from the helper means the target slipped out of the
// active state between the poll and the call; that just means "poll
// again", not an error.
func (t *Tracer) traceOnce(ctx context.Context, query string, queryStart sql.NullTime) error {
	start := time.Now()
	qctx, cancel := t.c.queryCtx(ctx)
	defer cancel()

	t.c.echo(sqlTraceRun)
	rows, err := t.conn.QueryContext(qctx, sqlTraceRun, t.cfg.PID, t.cfg.IncludeLeader, t.cfg.Interval)
	if err != nil {
		if isUserRaise(err) {
			return nil
		}
		return queryErr(sqlTraceRun, err)
	}
	defer rows.Close()

	var evs []pgstats.WaitEventCount
	var total int64
	for rows.Next() {
		var ev pgstats.WaitEventCount
		if err := rows.Scan(&ev.Type, &ev.Name, &ev.Occurrences); err != nil {
			return queryErr(sqlTraceRun, err)
		}
		evs = append(evs, ev)
		total += ev.Occurrences
	}
	if err := rows.Err(); err != nil {
		return queryErr(sqlTraceRun, err)
	}
	end := time.Now()

	w := t.cfg.Out
	fmt.Fprintf(w, "\nNew query: %s\n", query)
	qdur := end.Sub(start)
	if queryStart.Valid {
		qdur = end.Sub(queryStart.Time)
	}
	fmt.Fprintf(w, "Query duration: %.3f s, trace duration: %.3f s\n",
		qdur.Seconds(), end.Sub(start).Seconds())
	if len(evs) == 0 {
		return nil
	}
	fmt.Fprintf(w, "%-20s %-30s %9s %7s\n", "wait_event_type", "wait_event", "count", "pct")
	fmt.Fprintf(w, "%-20s %-30s %9s %7s\n", "--------------------",
		"------------------------------", "---------", "-------")
	for _, ev := range evs {
		pct := 100 * float64(ev.Occurrences) / float64(total)
		fmt.Fprintf(w, "%-20s %-30s %9d %7.2f\n", ev.Type, ev.Name, ev.Occurrences, pct)
	}
	return nil
}

// isUserRaise reports whether err is a plpgsql RAISE EXCEPTION
// (SQLSTATE P0001) as opposed to a real failure.
func isUserRaise(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "P0001"
}
