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

package pgstats

// Domain identifies one family of statistics that the pgstats tools know
// how to query, diff and render. Each domain maps to a single entry in the
// collector's query catalog; which tool consumes it (the sampler, the CSV
// snapshotter, the tracer or the visualizer) varies per domain.
type Domain int

// The full set of domains, in the order they are listed by --help output.
const (
	Archiver Domain = iota
	BGWriter
	Connection
	Database
	DatabaseConflicts
	Replication
	ReplicationSlots
	SLRU
	Subscription
	WAL
	WALReceiver
	XLog
	TempFile
	TablesIO
	Index
	Function
	Statement
	ProgressAnalyze
	PBPools
	PBStats
	AllTables
	AllIndexes
	IOTables
	IOIndexes
	IOSequences
	UserFunctions
	ClassSize
	Statements
	WaitEvent
	FSM
	domainCount
)

var domainNames = [domainCount]string{
	Archiver:          "archiver",
	BGWriter:          "bgwriter",
	Connection:        "connection",
	Database:          "database",
	DatabaseConflicts: "databaseconflicts",
	Replication:       "replication",
	ReplicationSlots:  "replicationslots",
	SLRU:              "slru",
	Subscription:      "subscription",
	WAL:               "wal",
	WALReceiver:       "walreceiver",
	XLog:              "xlog",
	TempFile:          "tempfile",
	TablesIO:          "tablesio",
	Index:             "index",
	Function:          "function",
	Statement:         "statement",
	ProgressAnalyze:   "progressanalyze",
	PBPools:           "pbpools",
	PBStats:           "pbstats",
	AllTables:         "alltables",
	AllIndexes:        "allindexes",
	IOTables:          "iotables",
	IOIndexes:         "ioindexes",
	IOSequences:       "iosequences",
	UserFunctions:     "userfunctions",
	ClassSize:         "classsize",
	Statements:        "statements",
	WaitEvent:         "waitevent",
	FSM:               "fsm",
}

// String returns the lowercase name of the domain, as accepted by the
// -s option of pgstat.
func (d Domain) String() string {
	if d < 0 || d >= domainCount {
		return "invalid"
	}
	return domainNames[d]
}

// ParseDomain maps a name from the command line to its Domain. The second
// return value is false if the name is not a known domain.
func ParseDomain(s string) (Domain, bool) {
	for d, n := range domainNames {
		if s == n {
			return Domain(d), true
		}
	}
	return domainCount, false
}

// ArchiverCounters mirrors the counters of pg_stat_archiver, Postgres v9.4
// and above.
type ArchiverCounters struct {
	ArchivedCount int64 `json:"archived_count"`
	FailedCount   int64 `json:"failed_count"`
}

// BGWriterCounters contains the background writer and checkpointer
// counters. Up to Postgres v16 these all come from pg_stat_bgwriter; in
// v17 and above the checkpointer part comes from pg_stat_checkpointer and
// the per-backend columns are gone (reported as 0).
type BGWriterCounters struct {
	CheckpointsTimed     int64   `json:"checkpoints_timed"`
	CheckpointsRequested int64   `json:"checkpoints_req"`
	CheckpointWriteTime  float64 `json:"checkpoint_write_time"`
	CheckpointSyncTime   float64 `json:"checkpoint_sync_time"`
	BuffersCheckpoint    int64   `json:"buffers_checkpoint"`
	BuffersClean         int64   `json:"buffers_clean"`
	MaxWrittenClean      int64   `json:"maxwritten_clean"`
	BuffersBackend       int64   `json:"buffers_backend"`
	BuffersBackendFsync  int64   `json:"buffers_backend_fsync"`
	BuffersAlloc         int64   `json:"buffers_alloc"`
}

// ConnectionCounts breaks down pg_stat_activity client backends by state.
// These are gauges, not counters; the sampler prints them as-is.
type ConnectionCounts struct {
	Total             int64 `json:"total"`
	Active            int64 `json:"active"`
	LockWaiting       int64 `json:"lock_waiting"`
	IdleInTransaction int64 `json:"idle_in_transaction"`
	Idle              int64 `json:"idle"`
}

// DatabaseCounters holds pg_stat_database counters, either summed over all
// databases or for a single one. Numbackends is a gauge.
type DatabaseCounters struct {
	Numbackends      int64   `json:"numbackends"`
	XactCommit       int64   `json:"xact_commit"`
	XactRollback     int64   `json:"xact_rollback"`
	BlksRead         int64   `json:"blks_read"`
	BlksHit          int64   `json:"blks_hit"`
	TupReturned      int64   `json:"tup_returned"`
	TupFetched       int64   `json:"tup_fetched"`
	TupInserted      int64   `json:"tup_inserted"`
	TupUpdated       int64   `json:"tup_updated"`
	TupDeleted       int64   `json:"tup_deleted"`
	Conflicts        int64   `json:"conflicts"`
	TempFiles        int64   `json:"temp_files"`
	TempBytes        int64   `json:"temp_bytes"`
	Deadlocks        int64   `json:"deadlocks"`
	ChecksumFailures int64   `json:"checksum_failures"` // v12+
	Sessions         int64   `json:"sessions"`          // v14+
	BlkReadTime      float64 `json:"blk_read_time"`
	BlkWriteTime     float64 `json:"blk_write_time"`
}

// DatabaseConflictCounters holds pg_stat_database_conflicts counters,
// summed over all databases or for a single one.
type DatabaseConflictCounters struct {
	Tablespace        int64 `json:"confl_tablespace"`
	Lock              int64 `json:"confl_lock"`
	Snapshot          int64 `json:"confl_snapshot"`
	Bufferpin         int64 `json:"confl_bufferpin"`
	Deadlock          int64 `json:"confl_deadlock"`
	ActiveLogicalSlot int64 `json:"confl_active_logicalslot"` // v16+
}

// ReplicationGauges summarizes pg_stat_replication: the number of attached
// walsenders and how far behind the current WAL location they are, in
// bytes. All values are instantaneous.
type ReplicationGauges struct {
	Replicas  int64 `json:"replicas"`
	SentLag   int64 `json:"sent_lag"`
	WriteLag  int64 `json:"write_lag"`
	FlushLag  int64 `json:"flush_lag"`
	ReplayLag int64 `json:"replay_lag"`
}

// ReplicationSlotCounters holds pg_stat_replication_slots counters,
// Postgres v14 and above, summed over all slots or for a single one.
type ReplicationSlotCounters struct {
	SpillTxns   int64 `json:"spill_txns"`
	SpillCount  int64 `json:"spill_count"`
	SpillBytes  int64 `json:"spill_bytes"`
	StreamTxns  int64 `json:"stream_txns"`
	StreamCount int64 `json:"stream_count"`
	StreamBytes int64 `json:"stream_bytes"`
	TotalTxns   int64 `json:"total_txns"`
	TotalBytes  int64 `json:"total_bytes"`
}

// SLRUCounters holds pg_stat_slru counters, Postgres v13 and above,
// summed over all caches or for a single one.
type SLRUCounters struct {
	BlksZeroed  int64 `json:"blks_zeroed"`
	BlksHit     int64 `json:"blks_hit"`
	BlksRead    int64 `json:"blks_read"`
	BlksWritten int64 `json:"blks_written"`
	BlksExists  int64 `json:"blks_exists"`
	Flushes     int64 `json:"flushes"`
	Truncates   int64 `json:"truncates"`
}

// SubscriptionCounters holds pg_stat_subscription_stats error counters,
// Postgres v15 and above. Count is a gauge.
type SubscriptionCounters struct {
	Count       int64 `json:"subscriptions"`
	ApplyErrors int64 `json:"apply_error_count"`
	SyncErrors  int64 `json:"sync_error_count"`
}

// WALCounters holds pg_stat_wal counters, Postgres v14 and above. The
// write/sync counters were removed in v18 and are reported as 0 there.
type WALCounters struct {
	Records     int64   `json:"wal_records"`
	FPI         int64   `json:"wal_fpi"`
	Bytes       int64   `json:"wal_bytes"`
	BuffersFull int64   `json:"wal_buffers_full"`
	Write       int64   `json:"wal_write"`
	Sync        int64   `json:"wal_sync"`
	WriteTime   float64 `json:"wal_write_time"`
	SyncTime    float64 `json:"wal_sync_time"`
}

// WALReceiverInfo is the walreceiver state on a standby, from
// pg_stat_wal_receiver, Postgres v9.6 and above. FlushedLSN maps to
// received_lsn before v13. The sampler reports the flushed position delta
// in bytes between samples.
type WALReceiverInfo struct {
	Status     string `json:"status"`
	FlushedLSN string `json:"flushed_lsn"`
	Timeline   int64  `json:"received_tli"`
}

// XLogLocation is the current WAL write (or, in recovery, last received)
// location. The sampler reports the delta in bytes between samples.
type XLogLocation struct {
	Location string `json:"location"`
}

// TempFileGauges is the count and total size of the temporary files
// present at sampling time.
type TempFileGauges struct {
	Files int64 `json:"files"`
	Bytes int64 `json:"bytes"`
}

// TablesIOCounters holds pg_statio_all_tables counters, summed over all
// tables or for a single one.
type TablesIOCounters struct {
	HeapBlksRead  int64 `json:"heap_blks_read"`
	HeapBlksHit   int64 `json:"heap_blks_hit"`
	IdxBlksRead   int64 `json:"idx_blks_read"`
	IdxBlksHit    int64 `json:"idx_blks_hit"`
	ToastBlksRead int64 `json:"toast_blks_read"`
	ToastBlksHit  int64 `json:"toast_blks_hit"`
	TidxBlksRead  int64 `json:"tidx_blks_read"`
	TidxBlksHit   int64 `json:"tidx_blks_hit"`
}

// IndexCounters holds pg_stat_all_indexes counters, summed over all
// indexes or for a single one.
type IndexCounters struct {
	Scan     int64 `json:"idx_scan"`
	TupRead  int64 `json:"idx_tup_read"`
	TupFetch int64 `json:"idx_tup_fetch"`
}

// FunctionCounters holds pg_stat_user_functions counters (needs
// track_functions), summed over all functions or for a single one.
type FunctionCounters struct {
	Calls     int64   `json:"calls"`
	TotalTime float64 `json:"total_time"`
	SelfTime  float64 `json:"self_time"`
}

// StatementCounters holds pg_stat_statements counters summed over all
// statements. TotalTime is total_exec_time + total_plan_time on v13 and
// above; the WAL counters are v13 and above (0 before).
type StatementCounters struct {
	Calls             int64   `json:"calls"`
	TotalTime         float64 `json:"total_time"`
	Rows              int64   `json:"rows"`
	SharedBlksHit     int64   `json:"shared_blks_hit"`
	SharedBlksRead    int64   `json:"shared_blks_read"`
	SharedBlksDirtied int64   `json:"shared_blks_dirtied"`
	SharedBlksWritten int64   `json:"shared_blks_written"`
	LocalBlksHit      int64   `json:"local_blks_hit"`
	LocalBlksRead     int64   `json:"local_blks_read"`
	LocalBlksDirtied  int64   `json:"local_blks_dirtied"`
	LocalBlksWritten  int64   `json:"local_blks_written"`
	TempBlksRead      int64   `json:"temp_blks_read"`
	TempBlksWritten   int64   `json:"temp_blks_written"`
	BlkReadTime       float64 `json:"blk_read_time"`
	BlkWriteTime      float64 `json:"blk_write_time"`
	WALRecords        int64   `json:"wal_records"`
	WALFPI            int64   `json:"wal_fpi"`
	WALBytes          int64   `json:"wal_bytes"`
}

// ProgressAnalyzeGauges aggregates pg_stat_progress_analyze over all
// backends currently running ANALYZE, Postgres v13 and above.
type ProgressAnalyzeGauges struct {
	Backends          int64 `json:"backends"`
	SampleBlksTotal   int64 `json:"sample_blks_total"`
	SampleBlksScanned int64 `json:"sample_blks_scanned"`
	ExtStatsTotal     int64 `json:"ext_stats_total"`
	ExtStatsComputed  int64 `json:"ext_stats_computed"`
	ChildTablesTotal  int64 `json:"child_tables_total"`
	ChildTablesDone   int64 `json:"child_tables_done"`
}

// PgBouncerPoolGauges aggregates PgBouncer's SHOW POOLS output over all
// pools. All values are instantaneous; MaxWait is the longest current
// client wait in (fractional) seconds over any pool.
type PgBouncerPoolGauges struct {
	ClActive  int64   `json:"cl_active"`
	ClWaiting int64   `json:"cl_waiting"`
	SvActive  int64   `json:"sv_active"`
	SvIdle    int64   `json:"sv_idle"`
	SvUsed    int64   `json:"sv_used"`
	SvTested  int64   `json:"sv_tested"`
	SvLogin   int64   `json:"sv_login"`
	MaxWait   float64 `json:"maxwait"`
}

// PgBouncerStatCounters aggregates PgBouncer's SHOW STATS totals over all
// databases. Times are in (fractional) seconds.
type PgBouncerStatCounters struct {
	XactCount  int64   `json:"total_xact_count"`
	QueryCount int64   `json:"total_query_count"`
	Received   int64   `json:"total_received"`
	Sent       int64   `json:"total_sent"`
	XactTime   float64 `json:"total_xact_time"`
	QueryTime  float64 `json:"total_query_time"`
	WaitTime   float64 `json:"total_wait_time"`
}

// WaitEventCount is one row of a wait event histogram as gathered by
// pgwaitevent: how many times a (type, event) pair was observed while
// tracing a query.
type WaitEventCount struct {
	Type        string `json:"wait_event_type"`
	Name        string `json:"wait_event"`
	Occurrences int64  `json:"occurrences"`
}

// FreeSpaceGroup is one group of consecutive blocks of a relation with
// the average free space ratio over the group, as reported by
// pg_freespacemap. AvgFree is in the range 0..1.
type FreeSpaceGroup struct {
	Group   int64   `json:"group"`
	Blocks  int64   `json:"blocks"`
	AvgFree float64 `json:"avg_free"`
}
