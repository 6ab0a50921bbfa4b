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

// Dump statements for pgcsvstat, one CSV row per result row. Column lists
// are explicit and aliased so the CSV header is identical on every server
// version; columns a version does not have are zero literals. NULLs are
// written as empty fields by the sink, so no COALESCE voodoo is needed
// here.

const sqlRowArchiver = `SELECT archived_count, last_archived_wal,
       last_archived_time, failed_count, last_failed_wal, last_failed_time,
       stats_reset
  FROM pg_stat_archiver`

const sqlRowBGWriter = `SELECT checkpoints_timed, checkpoints_req,
       checkpoint_write_time, checkpoint_sync_time, buffers_checkpoint,
       buffers_clean, maxwritten_clean, buffers_backend,
       buffers_backend_fsync, buffers_alloc, stats_reset
  FROM pg_stat_bgwriter`

const sqlRowBGWriterv17 = `SELECT cp.num_timed AS checkpoints_timed,
       cp.num_requested AS checkpoints_req,
       cp.write_time AS checkpoint_write_time,
       cp.sync_time AS checkpoint_sync_time,
       cp.buffers_written AS buffers_checkpoint,
       bg.buffers_clean, bg.maxwritten_clean,
       0::bigint AS buffers_backend, 0::bigint AS buffers_backend_fsync,
       bg.buffers_alloc, bg.stats_reset
  FROM pg_stat_bgwriter bg CROSS JOIN pg_stat_checkpointer cp`

func bgwriterRowSQL(v Version) string {
	if v.AtLeast(17, 0) {
		return sqlRowBGWriterv17
	}
	return sqlRowBGWriter
}

const sqlRowDatabase = `SELECT datname, numbackends, xact_commit,
       xact_rollback, blks_read, blks_hit, tup_returned, tup_fetched,
       tup_inserted, tup_updated, tup_deleted, conflicts, temp_files,
       temp_bytes, deadlocks, @checksum_failures@ AS checksum_failures,
       @sessions@ AS sessions, blk_read_time, blk_write_time, stats_reset
  FROM pg_stat_database
 ORDER BY datname`

func databaseRowSQL(v Version) string {
	q := sqlRowDatabase
	if v.AtLeast(12, 0) {
		q = strings.Replace(q, "@checksum_failures@", "checksum_failures", 1)
	} else {
		q = strings.Replace(q, "@checksum_failures@", "0::bigint", 1)
	}
	if v.AtLeast(14, 0) {
		q = strings.Replace(q, "@sessions@", "sessions", 1)
	} else {
		q = strings.Replace(q, "@sessions@", "0::bigint", 1)
	}
	return q
}

const sqlRowDatabaseConflicts = `SELECT datname, confl_tablespace,
       confl_lock, confl_snapshot, confl_bufferpin, confl_deadlock,
       @confl_active_logicalslot@ AS confl_active_logicalslot
  FROM pg_stat_database_conflicts
 ORDER BY datname`

func databaseConflictsRowSQL(v Version) string {
	q := sqlRowDatabaseConflicts
	if v.AtLeast(16, 0) {
		q = strings.Replace(q, "@confl_active_logicalslot@",
			"confl_active_logicalslot", 1)
	} else {
		q = strings.Replace(q, "@confl_active_logicalslot@", "0::bigint", 1)
	}
	return q
}

const sqlRowReplication = `SELECT pid, usename, application_name,
       client_addr, state, sent_location AS sent_lsn,
       write_location AS write_lsn, flush_location AS flush_lsn,
       replay_location AS replay_lsn, sync_priority, sync_state
  FROM pg_stat_replication
 ORDER BY pid`

const sqlRowReplicationv10 = `SELECT pid, usename, application_name,
       client_addr, state, sent_lsn, write_lsn, flush_lsn, replay_lsn,
       sync_priority, sync_state
  FROM pg_stat_replication
 ORDER BY pid`

func replicationRowSQL(v Version) string {
	if v.AtLeast(10, 0) {
		return sqlRowReplicationv10
	}
	return sqlRowReplication
}

const sqlRowReplicationSlots = `SELECT slot_name, spill_txns, spill_count,
       spill_bytes, stream_txns, stream_count, stream_bytes, total_txns,
       total_bytes, stats_reset
  FROM pg_stat_replication_slots
 ORDER BY slot_name`

const sqlRowSLRU = `SELECT name, blks_zeroed, blks_hit, blks_read,
       blks_written, blks_exists, flushes, truncates, stats_reset
  FROM pg_stat_slru
 ORDER BY name`

const sqlRowSubscription = `SELECT subid, subname, apply_error_count,
       sync_error_count, stats_reset
  FROM pg_stat_subscription_stats
 ORDER BY subname`

const sqlRowWAL = `SELECT wal_records, wal_fpi, wal_bytes,
       wal_buffers_full, @wal_write@ AS wal_write, @wal_sync@ AS wal_sync,
       @wal_write_time@ AS wal_write_time, @wal_sync_time@ AS wal_sync_time,
       stats_reset
  FROM pg_stat_wal`

func walRowSQL(v Version) string {
	q := sqlRowWAL
	if v.AtLeast(18, 0) {
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

const sqlRowWALReceiver = `SELECT pid, status, receive_start_lsn,
       receive_start_tli, @flushed_lsn@ AS flushed_lsn, received_tli,
       last_msg_send_time, last_msg_receipt_time, latest_end_lsn,
       latest_end_time, slot_name, @sender_host@ AS sender_host,
       @sender_port@ AS sender_port, conninfo
  FROM pg_stat_wal_receiver`

func walReceiverRowSQL(v Version) string {
	q := sqlRowWALReceiver
	if v.AtLeast(13, 0) {
		q = strings.Replace(q, "@flushed_lsn@", "flushed_lsn", 1)
	} else {
		q = strings.Replace(q, "@flushed_lsn@", "received_lsn", 1)
	}
	if v.AtLeast(11, 0) {
		q = strings.Replace(q, "@sender_host@", "sender_host", 1)
		q = strings.Replace(q, "@sender_port@", "sender_port", 1)
	} else {
		q = strings.Replace(q, "@sender_host@", "''", 1)
		q = strings.Replace(q, "@sender_port@", "0", 1)
	}
	return q
}

const sqlRowAllTables = `SELECT schemaname, relname, seq_scan,
       seq_tup_read, idx_scan, idx_tup_fetch, n_tup_ins, n_tup_upd,
       n_tup_del, n_tup_hot_upd, n_live_tup, n_dead_tup,
       n_mod_since_analyze, @n_ins_since_vacuum@ AS n_ins_since_vacuum,
       last_vacuum, last_autovacuum, last_analyze, last_autoanalyze,
       vacuum_count, autovacuum_count, analyze_count, autoanalyze_count
  FROM pg_stat_all_tables
 ORDER BY schemaname, relname`

func allTablesRowSQL(v Version) string {
	q := sqlRowAllTables
	if v.AtLeast(13, 0) {
		q = strings.Replace(q, "@n_ins_since_vacuum@", "n_ins_since_vacuum", 1)
	} else {
		q = strings.Replace(q, "@n_ins_since_vacuum@", "0::bigint", 1)
	}
	return q
}

const sqlRowAllIndexes = `SELECT schemaname, relname, indexrelname,
       idx_scan, idx_tup_read, idx_tup_fetch
  FROM pg_stat_all_indexes
 ORDER BY schemaname, relname, indexrelname`

const sqlRowIOTables = `SELECT schemaname, relname, heap_blks_read,
       heap_blks_hit, idx_blks_read, idx_blks_hit, toast_blks_read,
       toast_blks_hit, tidx_blks_read, tidx_blks_hit
  FROM pg_statio_all_tables
 ORDER BY schemaname, relname`

const sqlRowIOIndexes = `SELECT schemaname, relname, indexrelname,
       idx_blks_read, idx_blks_hit
  FROM pg_statio_all_indexes
 ORDER BY schemaname, relname, indexrelname`

const sqlRowIOSequences = `SELECT schemaname, relname, blks_read, blks_hit
  FROM pg_statio_all_sequences
 ORDER BY schemaname, relname`

const sqlRowUserFunctions = `SELECT schemaname, funcname, calls,
       total_time, self_time
  FROM pg_stat_user_functions
 ORDER BY schemaname, funcname`

const sqlRowClassSize = `SELECT n.nspname AS schemaname, c.relname,
       c.relkind, c.reltuples::bigint AS reltuples, c.relpages,
       pg_total_relation_size(c.oid) AS size
  FROM pg_class c
  JOIN pg_namespace n ON n.oid = c.relnamespace
 WHERE c.relkind IN ('r', 'i', 'm', 't')
   AND n.nspname NOT IN ('pg_catalog', 'information_schema')
   AND n.nspname NOT LIKE 'pg_toast%'
 ORDER BY n.nspname, c.relname`

// Statement texts can contain anything; line feeds and the CSV field
// separator are folded to spaces in the template itself so each statement
// stays a single well-formed CSV row.
const sqlRowStatements = `SELECT userid, dbid, queryid,
       regexp_replace(query, '[;\r\n]+', ' ', 'g') AS query, calls,
       @total_time@ AS total_time, rows, shared_blks_hit,
       shared_blks_read, shared_blks_dirtied, shared_blks_written,
       local_blks_hit, local_blks_read, local_blks_dirtied,
       local_blks_written, temp_blks_read, temp_blks_written,
       @blk_read_time@ AS blk_read_time, @blk_write_time@ AS blk_write_time,
       @wal_records@ AS wal_records, @wal_fpi@ AS wal_fpi,
       @wal_bytes@ AS wal_bytes
  FROM pg_stat_statements
 ORDER BY dbid, userid, queryid`

func statementsRowSQL(v Version) string {
	q := sqlRowStatements
	if v.AtLeast(13, 0) {
		q = strings.Replace(q, "@total_time@",
			"total_exec_time + total_plan_time", 1)
		q = strings.Replace(q, "@wal_records@", "wal_records", 1)
		q = strings.Replace(q, "@wal_fpi@", "wal_fpi", 1)
		q = strings.Replace(q, "@wal_bytes@", "wal_bytes", 1)
	} else {
		q = strings.Replace(q, "@total_time@", "total_time", 1)
		q = strings.Replace(q, "@wal_records@", "0::bigint", 1)
		q = strings.Replace(q, "@wal_fpi@", "0::bigint", 1)
		q = strings.Replace(q, "@wal_bytes@", "0::numeric", 1)
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
