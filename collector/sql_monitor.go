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

import "strings"

// Sampling statements for pgstat, one row per sample. Multi-row views are
// summed so that a sample is always a fixed set of columns; the @filter@
// marker becomes a WHERE clause when -f restricts the domain to a single
// object. Columns that do not exist on older (or newer) servers are
// replaced by typed zero literals, so the column list of a domain never
// changes with the server version.

const sqlMonArchiver = `SELECT archived_count, failed_count
  FROM pg_stat_archiver`

const sqlMonBGWriter = `SELECT checkpoints_timed, checkpoints_req,
       checkpoint_write_time, checkpoint_sync_time, buffers_checkpoint,
       buffers_clean, maxwritten_clean, buffers_backend,
       buffers_backend_fsync, buffers_alloc
  FROM pg_stat_bgwriter`

/* v17 moved the checkpointer counters out of pg_stat_bgwriter into
 * pg_stat_checkpointer, and dropped the buffers_backend* columns (that
 * information lives in pg_stat_io now). Both views are single-row, so a
 * cross join keeps this a one-row sample. */
const sqlMonBGWriterv17 = `SELECT cp.num_timed, cp.num_requested,
       cp.write_time, cp.sync_time, cp.buffers_written,
       bg.buffers_clean, bg.maxwritten_clean, 0::bigint, 0::bigint,
       bg.buffers_alloc
  FROM pg_stat_bgwriter bg CROSS JOIN pg_stat_checkpointer cp`

func bgwriterSQL(v Version, o RenderOptions) string {
	if v.AtLeast(17, 0) {
		return sqlMonBGWriterv17
	}
	return sqlMonBGWriter
}

const sqlMonConnection = `SELECT count(*)::bigint,
       COALESCE(sum(CASE WHEN state = 'active' THEN 1 ELSE 0 END), 0)::bigint,
       COALESCE(sum(CASE WHEN @lockwait@ THEN 1 ELSE 0 END), 0)::bigint,
       COALESCE(sum(CASE WHEN state LIKE 'idle in transaction%' THEN 1 ELSE 0 END), 0)::bigint,
       COALESCE(sum(CASE WHEN state = 'idle' THEN 1 ELSE 0 END), 0)::bigint
  FROM pg_stat_activity@clientonly@`

func connectionSQL(v Version, o RenderOptions) string {
	q := sqlMonConnection
	if v.AtLeast(9, 6) {
		q = strings.Replace(q, "@lockwait@", "wait_event_type = 'Lock'", 1)
	} else {
		q = strings.Replace(q, "@lockwait@", "waiting", 1)
	}
	if v.AtLeast(10, 0) {
		q = strings.Replace(q, "@clientonly@",
			"\n WHERE backend_type = 'client backend'", 1)
	} else {
		q = strings.Replace(q, "@clientonly@", "", 1)
	}
	return q
}

const sqlMonDatabase = `SELECT COALESCE(sum(numbackends), 0)::bigint,
       COALESCE(sum(xact_commit), 0)::bigint,
       COALESCE(sum(xact_rollback), 0)::bigint,
       COALESCE(sum(blks_read), 0)::bigint,
       COALESCE(sum(blks_hit), 0)::bigint,
       COALESCE(sum(tup_returned), 0)::bigint,
       COALESCE(sum(tup_fetched), 0)::bigint,
       COALESCE(sum(tup_inserted), 0)::bigint,
       COALESCE(sum(tup_updated), 0)::bigint,
       COALESCE(sum(tup_deleted), 0)::bigint,
       COALESCE(sum(conflicts), 0)::bigint,
       COALESCE(sum(temp_files), 0)::bigint,
       COALESCE(sum(temp_bytes), 0)::bigint,
       COALESCE(sum(deadlocks), 0)::bigint,
       COALESCE(sum(@checksum_failures@), 0)::bigint,
       COALESCE(sum(@sessions@), 0)::bigint,
       COALESCE(sum(blk_read_time), 0)::float8,
       COALESCE(sum(blk_write_time), 0)::float8
  FROM pg_stat_database@filter@`

func databaseSQL(v Version, o RenderOptions) string {
	q := sqlMonDatabase
	if v.AtLeast(12, 0) {
		q = strings.Replace(q, "@checksum_failures@", "checksum_failures", 1)
	} else {
		q = strings.Replace(q, "@checksum_failures@", "0", 1)
	}
	if v.AtLeast(14, 0) {
		q = strings.Replace(q, "@sessions@", "sessions", 1)
	} else {
		q = strings.Replace(q, "@sessions@", "0", 1)
	}
	return q
}

const sqlMonDatabaseConflicts = `SELECT COALESCE(sum(confl_tablespace), 0)::bigint,
       COALESCE(sum(confl_lock), 0)::bigint,
       COALESCE(sum(confl_snapshot), 0)::bigint,
       COALESCE(sum(confl_bufferpin), 0)::bigint,
       COALESCE(sum(confl_deadlock), 0)::bigint,
       COALESCE(sum(@confl_active_logicalslot@), 0)::bigint
  FROM pg_stat_database_conflicts@filter@`

func databaseConflictsSQL(v Version, o RenderOptions) string {
	q := sqlMonDatabaseConflicts
	if v.AtLeast(16, 0) {
		q = strings.Replace(q, "@confl_active_logicalslot@",
			"confl_active_logicalslot", 1)
	} else {
		q = strings.Replace(q, "@confl_active_logicalslot@", "0", 1)
	}
	return q
}

// Replication lag is reported against the current WAL write position, or
// against the last received position when the server itself is a standby
// feeding cascaded standbys.
const sqlMonReplication = `SELECT count(*)::bigint,
       COALESCE(sum(pg_xlog_location_diff(@curwal@, sent_location)), 0)::bigint,
       COALESCE(sum(pg_xlog_location_diff(@curwal@, write_location)), 0)::bigint,
       COALESCE(sum(pg_xlog_location_diff(@curwal@, flush_location)), 0)::bigint,
       COALESCE(sum(pg_xlog_location_diff(@curwal@, replay_location)), 0)::bigint
  FROM pg_stat_replication@filter@`

const sqlMonReplicationv10 = `SELECT count(*)::bigint,
       COALESCE(sum(pg_wal_lsn_diff(@curwal@, sent_lsn)), 0)::bigint,
       COALESCE(sum(pg_wal_lsn_diff(@curwal@, write_lsn)), 0)::bigint,
       COALESCE(sum(pg_wal_lsn_diff(@curwal@, flush_lsn)), 0)::bigint,
       COALESCE(sum(pg_wal_lsn_diff(@curwal@, replay_lsn)), 0)::bigint
  FROM pg_stat_replication@filter@`

func replicationSQL(v Version, o RenderOptions) string {
	if v.AtLeast(10, 0) {
		cur := "pg_current_wal_lsn()"
		if o.Recovery {
			cur = "pg_last_wal_receive_lsn()"
		}
		return strings.ReplaceAll(sqlMonReplicationv10, "@curwal@", cur)
	}
	cur := "pg_current_xlog_location()"
	if o.Recovery {
		cur = "pg_last_xlog_receive_location()"
	}
	return strings.ReplaceAll(sqlMonReplication, "@curwal@", cur)
}

const sqlMonReplicationSlots = `SELECT COALESCE(sum(spill_txns), 0)::bigint,
       COALESCE(sum(spill_count), 0)::bigint,
       COALESCE(sum(spill_bytes), 0)::bigint,
       COALESCE(sum(stream_txns), 0)::bigint,
       COALESCE(sum(stream_count), 0)::bigint,
       COALESCE(sum(stream_bytes), 0)::bigint,
       COALESCE(sum(total_txns), 0)::bigint,
       COALESCE(sum(total_bytes), 0)::bigint
  FROM pg_stat_replication_slots@filter@`

const sqlMonSLRU = `SELECT COALESCE(sum(blks_zeroed), 0)::bigint,
       COALESCE(sum(blks_hit), 0)::bigint,
       COALESCE(sum(blks_read), 0)::bigint,
       COALESCE(sum(blks_written), 0)::bigint,
       COALESCE(sum(blks_exists), 0)::bigint,
       COALESCE(sum(flushes), 0)::bigint,
       COALESCE(sum(truncates), 0)::bigint
  FROM pg_stat_slru@filter@`

const sqlMonSubscription = `SELECT count(*)::bigint,
       COALESCE(sum(apply_error_count), 0)::bigint,
       COALESCE(sum(sync_error_count), 0)::bigint
  FROM pg_stat_subscription_stats@filter@`

const sqlMonWAL = `SELECT wal_records, wal_fpi, wal_bytes, wal_buffers_full,
       @wal_write@, @wal_sync@, @wal_write_time@, @wal_sync_time@
  FROM pg_stat_wal`

func walSQL(v Version, o RenderOptions) string {
	q := sqlMonWAL
	if v.AtLeast(18, 0) {
		// the write/sync counters moved to pg_stat_io in v18
		q = strings.Replace(q, "@wal_write@", "0::bigint", 1)
		q = strings.Replace(q, "@wal_sync@", "0::bigint", 1)
		q = strings.Replace(q, "@wal_write_time@", "0::float8", 1)
		q = strings.Replace(q, "@wal_sync_time@", "0::float8", 1)
	} else {
		q = strings.Replace(q, "@wal_write@", "wal_write", 1)
		q = strings.Replace(q, "@wal_sync@", "wal_sync", 1)
		q = strings.Replace(q, "@wal_write_time@", "wal_write_time", 1)
		q = strings.Replace(q, "@wal_sync_time@", "wal_sync_time", 1)
	}
	return q
}

const sqlMonWALReceiver = `SELECT COALESCE(status, ''),
       COALESCE(@flushed_lsn@::text, ''), COALESCE(received_tli, 0)::bigint
  FROM pg_stat_wal_receiver`

func walReceiverSQL(v Version, o RenderOptions) string {
	q := sqlMonWALReceiver
	if v.AtLeast(13, 0) {
		q = strings.Replace(q, "@flushed_lsn@", "flushed_lsn", 1)
	} else {
		q = strings.Replace(q, "@flushed_lsn@", "received_lsn", 1)
	}
	return q
}

func xlogSQL(v Version, o RenderOptions) string {
	switch {
	case v.AtLeast(10, 0) && o.Recovery:
		return `SELECT COALESCE(pg_last_wal_receive_lsn()::text, '0/0')`
	case v.AtLeast(10, 0):
		return `SELECT pg_current_wal_lsn()::text`
	case o.Recovery:
		return `SELECT COALESCE(pg_last_xlog_receive_location()::text, '0/0')`
	default:
		return `SELECT pg_current_xlog_location()::text`
	}
}

const sqlMonTempFile = `SELECT count(*)::bigint, COALESCE(sum(size), 0)::bigint
  FROM pg_ls_tmpdir()`

// pg_ls_tmpdir appeared in v12; before that, walk the directory of the
// default tablespace.
const sqlMonTempFilev10 = `SELECT count(*)::bigint,
       COALESCE(sum((pg_stat_file('base/pgsql_tmp/' || f, true)).size), 0)::bigint
  FROM pg_ls_dir('base/pgsql_tmp', true, false) AS f`

func tempFileSQL(v Version, o RenderOptions) string {
	if v.AtLeast(12, 0) {
		return sqlMonTempFile
	}
	return sqlMonTempFilev10
}

const sqlMonTablesIO = `SELECT COALESCE(sum(heap_blks_read), 0)::bigint,
       COALESCE(sum(heap_blks_hit), 0)::bigint,
       COALESCE(sum(idx_blks_read), 0)::bigint,
       COALESCE(sum(idx_blks_hit), 0)::bigint,
       COALESCE(sum(toast_blks_read), 0)::bigint,
       COALESCE(sum(toast_blks_hit), 0)::bigint,
       COALESCE(sum(tidx_blks_read), 0)::bigint,
       COALESCE(sum(tidx_blks_hit), 0)::bigint
  FROM pg_statio_all_tables@filter@`

const sqlMonIndex = `SELECT COALESCE(sum(idx_scan), 0)::bigint,
       COALESCE(sum(idx_tup_read), 0)::bigint,
       COALESCE(sum(idx_tup_fetch), 0)::bigint
  FROM pg_stat_all_indexes@filter@`

const sqlMonFunction = `SELECT COALESCE(sum(calls), 0)::bigint,
       COALESCE(sum(total_time), 0)::float8,
       COALESCE(sum(self_time), 0)::float8
  FROM pg_stat_user_functions@filter@`

/*
 * pg_stat_statements over the versions:
 *   <= v12 : total_time
 *   v13+   : total_exec_time + total_plan_time, wal_records/wal_fpi/
 *            wal_bytes appear
 *   v17+   : blk_read_time/blk_write_time split into shared_blk_*_time
 *            and local_blk_*_time
 */
const sqlMonStatement = `SELECT COALESCE(sum(calls), 0)::bigint,
       COALESCE(sum(@total_time@), 0)::float8,
       COALESCE(sum(rows), 0)::bigint,
       COALESCE(sum(shared_blks_hit), 0)::bigint,
       COALESCE(sum(shared_blks_read), 0)::bigint,
       COALESCE(sum(shared_blks_dirtied), 0)::bigint,
       COALESCE(sum(shared_blks_written), 0)::bigint,
       COALESCE(sum(local_blks_hit), 0)::bigint,
       COALESCE(sum(local_blks_read), 0)::bigint,
       COALESCE(sum(local_blks_dirtied), 0)::bigint,
       COALESCE(sum(local_blks_written), 0)::bigint,
       COALESCE(sum(temp_blks_read), 0)::bigint,
       COALESCE(sum(temp_blks_written), 0)::bigint,
       COALESCE(sum(@blk_read_time@), 0)::float8,
       COALESCE(sum(@blk_write_time@), 0)::float8,
       COALESCE(sum(@wal_records@), 0)::bigint,
       COALESCE(sum(@wal_fpi@), 0)::bigint,
       COALESCE(sum(@wal_bytes@), 0)::bigint
  FROM pg_stat_statements`

func statementSQL(v Version, o RenderOptions) string {
	q := sqlMonStatement
	if v.AtLeast(13, 0) {
		q = strings.Replace(q, "@total_time@",
			"total_exec_time + total_plan_time", 1)
		q = strings.Replace(q, "@wal_records@", "wal_records", 1)
		q = strings.Replace(q, "@wal_fpi@", "wal_fpi", 1)
		q = strings.Replace(q, "@wal_bytes@", "wal_bytes", 1)
	} else {
		q = strings.Replace(q, "@total_time@", "total_time", 1)
		q = strings.Replace(q, "@wal_records@", "0", 1)
		q = strings.Replace(q, "@wal_fpi@", "0", 1)
		q = strings.Replace(q, "@wal_bytes@", "0", 1)
	}
	if v.AtLeast(17, 0) {
		q = strings.Replace(q, "@blk_read_time@",
			"shared_blk_read_time + local_blk_read_time", 1)
		q = strings.Replace(q, "@blk_write_time@",
			"shared_blk_write_time + local_blk_write_time", 1)
	} else {
		q = strings.Replace(q, "@blk_read_time@", "blk_read_time", 1)
		q = strings.Replace(q, "@blk_write_time@", "blk_write_time", 1)
	}
	return q
}

const sqlMonProgressAnalyze = `SELECT count(*)::bigint,
       COALESCE(sum(sample_blks_total), 0)::bigint,
       COALESCE(sum(sample_blks_scanned), 0)::bigint,
       COALESCE(sum(ext_stats_total), 0)::bigint,
       COALESCE(sum(ext_stats_computed), 0)::bigint,
       COALESCE(sum(child_tables_total), 0)::bigint,
       COALESCE(sum(child_tables_done), 0)::bigint
  FROM pg_stat_progress_analyze`

// PgBouncer admin console commands; the result layout varies with the
// PgBouncer version and is scanned adaptively.
const (
	sqlShowPools = `SHOW POOLS`
	sqlShowStats = `SHOW STATS`
)

// sqlPGSSExists checks for the pg_stat_statements extension before the
// statement/statements domains are queried, to fail with a clear message
// instead of an undefined-relation error.
const sqlPGSSExists = `SELECT EXISTS (SELECT 1 FROM pg_extension
 WHERE extname = 'pg_stat_statements')`
