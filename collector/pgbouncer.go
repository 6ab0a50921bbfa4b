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
	"io"

	pgstats "github.com/gleu/pgstats-sub000"
)

//------------------------------------------------------------------------------
// PgBouncer: the pbpools and pbstats domains, sampled over the admin
// console ("-d pgbouncer"). The console does not report a version, so the
// result layout is recognized by its column count instead.

/*
 * PgBouncer "SHOW POOLS" changes across recent PgBouncer versions:
 *
 * 1.15: (12) database, user, cl_active, cl_waiting, sv_active, sv_idle,
 *            sv_used, sv_tested, sv_login, maxwait, maxwait_us, pool_mode
 * 1.16: (13) database, user, cl_active, cl_waiting, cl_cancel_req, sv_active,
 *            sv_idle, sv_used, sv_tested, sv_login, maxwait, maxwait_us, pool_mode
 * 1.17: same as 1.16
 * 1.18: (16) database, user, cl_active, cl_waiting, cl_active_cancel_req,
 *            cl_waiting_cancel_req, sv_active, sv_active_cancel,
 *            sv_being_canceled, sv_idle, sv_used, sv_tested, sv_login, maxwait,
 *            maxwait_us, pool_mode
 * 1.19 - 1.23: same as 1.18
 * 1.24: (17) same as 1.18 plus load_balance_hosts
 * 1.25: same as 1.24
 */

type pbPoolsStat struct{}

func (s *pbPoolsStat) header(w io.Writer) {
	fmt.Fprintln(w, "------- clients ------- ------------------ servers ------------------- - waits -")
	fmt.Fprintln(w, "  active waiting   active    idle    used  tested   login   maxwait")
}

func (s *pbPoolsStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	ctx2, cancel := c.queryCtx(ctx)
	defer cancel()

	c.echo(sqlShowPools)
	rows, err := c.db.QueryContext(ctx2, sqlShowPools)
	if err != nil {
		return queryErr(sqlShowPools, err)
	}
	defer rows.Close()

	var ncols int
	if cols, err := rows.Columns(); err == nil {
		ncols = len(cols)
	}

	var cur pgstats.PgBouncerPoolGauges
	for rows.Next() {
		var db, user, mode sql.NullString
		var skip [4]sql.NullInt64
		var lbhosts sql.NullString
		var clActive, clWaiting, svActive, svIdle, svUsed, svTested,
			svLogin, maxWait int64
		var maxWaitUs float64
		switch ncols {
		case 12:
			err = rows.Scan(&db, &user, &clActive, &clWaiting, &svActive,
				&svIdle, &svUsed, &svTested, &svLogin, &maxWait, &maxWaitUs,
				&mode)
		case 13:
			err = rows.Scan(&db, &user, &clActive, &clWaiting, &skip[0],
				&svActive, &svIdle, &svUsed, &svTested, &svLogin, &maxWait,
				&maxWaitUs, &mode)
		case 16:
			err = rows.Scan(&db, &user, &clActive, &clWaiting, &skip[0],
				&skip[1], &svActive, &skip[2], &skip[3], &svIdle, &svUsed,
				&svTested, &svLogin, &maxWait, &maxWaitUs, &mode)
		case 17:
			err = rows.Scan(&db, &user, &clActive, &clWaiting, &skip[0],
				&skip[1], &svActive, &skip[2], &skip[3], &svIdle, &svUsed,
				&svTested, &svLogin, &maxWait, &maxWaitUs, &mode, &lbhosts)
		default:
			return fmt.Errorf("pgbouncer: unsupported number of columns %d in 'SHOW POOLS'", ncols)
		}
		if err != nil {
			return queryErr(sqlShowPools, err)
		}
		cur.ClActive += clActive
		cur.ClWaiting += clWaiting
		cur.SvActive += svActive
		cur.SvIdle += svIdle
		cur.SvUsed += svUsed
		cur.SvTested += svTested
		cur.SvLogin += svLogin
		if wait := float64(maxWait) + maxWaitUs/1e6; wait > cur.MaxWait {
			cur.MaxWait = wait
		}
	}
	if err := rows.Err(); err != nil {
		return queryErr(sqlShowPools, err)
	}

	fmt.Fprintf(w, "%8d %7d %8d %7d %7d %7d %7d %9.3f\n",
		cur.ClActive, cur.ClWaiting, cur.SvActive, cur.SvIdle, cur.SvUsed,
		cur.SvTested, cur.SvLogin, cur.MaxWait)
	return nil
}

/*
 * PgBouncer "SHOW STATS" changes across recent PgBouncer versions:
 *
 * 1.15: (15) database, total_xact_count, total_query_count, total_received,
 *            total_sent, total_xact_time, total_query_time, total_wait_time,
 *            avg_xact_count, avg_query_count, avg_recv, avg_sent,
 *            avg_xact_time, avg_query_time, avg_wait_time
 * 1.16 - 1.22: same as 1.15
 * 1.23: (17) adds total_server_assignment_count and
 *            avg_server_assignment_count
 * 1.24: (23) adds total_client_parse_count, total_server_parse_count,
 *            total_bind_count and their avg_* counterparts
 * 1.25: same as 1.24
 */

type pbStatsStat struct {
	prev pgstats.PgBouncerStatCounters
	seen bool
}

func (s *pbStatsStat) header(w io.Writer) {
	fmt.Fprintln(w, "----------------- totals ------------------ -------- times (s) --------")
	fmt.Fprintln(w, "   xacts queries    received        sent    xact   query    wait")
}

func (s *pbStatsStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	ctx2, cancel := c.queryCtx(ctx)
	defer cancel()

	c.echo(sqlShowStats)
	rows, err := c.db.QueryContext(ctx2, sqlShowStats)
	if err != nil {
		return queryErr(sqlShowStats, err)
	}
	defer rows.Close()

	var ncols int
	if cols, err := rows.Columns(); err == nil {
		ncols = len(cols)
	}

	var cur pgstats.PgBouncerStatCounters
	for rows.Next() {
		var db sql.NullString
		var avg [15]sql.NullFloat64
		var xacts, queries, assign, received, sent, xactT, queryT, waitT,
			clParse, svParse, bind int64
		switch ncols {
		case 15:
			err = rows.Scan(&db, &xacts, &queries, &received, &sent, &xactT,
				&queryT, &waitT, &avg[0], &avg[1], &avg[2], &avg[3], &avg[4],
				&avg[5], &avg[6])
		case 17:
			err = rows.Scan(&db, &xacts, &queries, &assign, &received,
				&sent, &xactT, &queryT, &waitT, &avg[0], &avg[1], &avg[2],
				&avg[3], &avg[4], &avg[5], &avg[6], &avg[7])
		case 23:
			err = rows.Scan(&db, &xacts, &queries, &assign, &received,
				&sent, &xactT, &queryT, &waitT, &clParse, &svParse, &bind,
				&avg[0], &avg[1], &avg[2], &avg[3], &avg[4], &avg[5],
				&avg[6], &avg[7], &avg[8], &avg[9], &avg[10])
		default:
			return fmt.Errorf("pgbouncer: unsupported number of columns %d in 'SHOW STATS'", ncols)
		}
		if err != nil {
			return queryErr(sqlShowStats, err)
		}
		cur.XactCount += xacts
		cur.QueryCount += queries
		cur.Received += received
		cur.Sent += sent
		// convert usec -> sec
		cur.XactTime += float64(xactT) / 1e6
		cur.QueryTime += float64(queryT) / 1e6
		cur.WaitTime += float64(waitT) / 1e6
	}
	if err := rows.Err(); err != nil {
		return queryErr(sqlShowStats, err)
	}

	out := cur
	if s.seen {
		out.XactCount -= s.prev.XactCount
		out.QueryCount -= s.prev.QueryCount
		out.Received -= s.prev.Received
		out.Sent -= s.prev.Sent
		out.XactTime -= s.prev.XactTime
		out.QueryTime -= s.prev.QueryTime
		out.WaitTime -= s.prev.WaitTime
	}
	received, err := c.sizeCol(ctx, out.Received)
	if err != nil {
		return err
	}
	sent, err := c.sizeCol(ctx, out.Sent)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%8d %7d %11s %11s %7.1f %7.1f %7.1f\n",
		out.XactCount, out.QueryCount, received, sent, out.XactTime,
		out.QueryTime, out.WaitTime)
	s.prev, s.seen = cur, true
	return nil
}
