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
	"fmt"
	"io"

	pgstats "github.com/gleu/pgstats-sub000"
)

// Per-database and per-object samplers. Most of these sum a multi-row
// view, optionally narrowed by -f to a single object.

type databaseStat struct {
	prev pgstats.DatabaseCounters
	seen bool
}

func (s *databaseStat) header(w io.Writer) {
	fmt.Fprintln(w, "- backends - ------ xacts ------ -------- blocks ------- ------------------- tuples ------------------- ------- temp ------- ------- misc --------")
	fmt.Fprintln(w, "    current   commit  rollback      read       hit      ret    fetch      ins      upd      del conflicts    files     bytes deadlk chksum sess  read_t write_t")
}

func (s *databaseStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.DatabaseCounters
	if err := c.monitorRow(ctx, pgstats.Database,
		&cur.Numbackends, &cur.XactCommit, &cur.XactRollback,
		&cur.BlksRead, &cur.BlksHit, &cur.TupReturned, &cur.TupFetched,
		&cur.TupInserted, &cur.TupUpdated, &cur.TupDeleted, &cur.Conflicts,
		&cur.TempFiles, &cur.TempBytes, &cur.Deadlocks,
		&cur.ChecksumFailures, &cur.Sessions, &cur.BlkReadTime,
		&cur.BlkWriteTime); err != nil {
		return err
	}
	out := cur
	if s.seen {
		// numbackends is a gauge, everything else is a counter
		out.XactCommit -= s.prev.XactCommit
		out.XactRollback -= s.prev.XactRollback
		out.BlksRead -= s.prev.BlksRead
		out.BlksHit -= s.prev.BlksHit
		out.TupReturned -= s.prev.TupReturned
		out.TupFetched -= s.prev.TupFetched
		out.TupInserted -= s.prev.TupInserted
		out.TupUpdated -= s.prev.TupUpdated
		out.TupDeleted -= s.prev.TupDeleted
		out.Conflicts -= s.prev.Conflicts
		out.TempFiles -= s.prev.TempFiles
		out.TempBytes -= s.prev.TempBytes
		out.Deadlocks -= s.prev.Deadlocks
		out.ChecksumFailures -= s.prev.ChecksumFailures
		out.Sessions -= s.prev.Sessions
		out.BlkReadTime -= s.prev.BlkReadTime
		out.BlkWriteTime -= s.prev.BlkWriteTime
	}
	tmpBytes, err := c.sizeCol(ctx, out.TempBytes)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%11d %8d %9d %9d %9d %8d %8d %8d %8d %8d %9d %8d %9s %6d %6d %4d %7.1f %7.1f\n",
		out.Numbackends, out.XactCommit, out.XactRollback, out.BlksRead,
		out.BlksHit, out.TupReturned, out.TupFetched, out.TupInserted,
		out.TupUpdated, out.TupDeleted, out.Conflicts, out.TempFiles,
		tmpBytes, out.Deadlocks, out.ChecksumFailures, out.Sessions,
		out.BlkReadTime, out.BlkWriteTime)
	s.prev, s.seen = cur, true
	return nil
}

type databaseConflictsStat struct {
	prev pgstats.DatabaseConflictCounters
	seen bool
}

func (s *databaseConflictsStat) header(w io.Writer) {
	fmt.Fprintln(w, "------------------- recovery conflicts --------------------")
	fmt.Fprintln(w, " tblspc    lock snapshot bufferpin deadlock logicalslot")
}

func (s *databaseConflictsStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.DatabaseConflictCounters
	if err := c.monitorRow(ctx, pgstats.DatabaseConflicts,
		&cur.Tablespace, &cur.Lock, &cur.Snapshot, &cur.Bufferpin,
		&cur.Deadlock, &cur.ActiveLogicalSlot); err != nil {
		return err
	}
	out := cur
	if s.seen {
		out.Tablespace -= s.prev.Tablespace
		out.Lock -= s.prev.Lock
		out.Snapshot -= s.prev.Snapshot
		out.Bufferpin -= s.prev.Bufferpin
		out.Deadlock -= s.prev.Deadlock
		out.ActiveLogicalSlot -= s.prev.ActiveLogicalSlot
	}
	fmt.Fprintf(w, "%7d %7d %8d %9d %8d %11d\n",
		out.Tablespace, out.Lock, out.Snapshot, out.Bufferpin,
		out.Deadlock, out.ActiveLogicalSlot)
	s.prev, s.seen = cur, true
	return nil
}

type replicationSlotsStat struct {
	prev pgstats.ReplicationSlotCounters
	seen bool
}

func (s *replicationSlotsStat) header(w io.Writer) {
	fmt.Fprintln(w, "------------ spilled ------------- ------------ streamed ------------ -------- total --------")
	fmt.Fprintln(w, "   txns    count       bytes    txns    count       bytes      txns       bytes")
}

func (s *replicationSlotsStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.ReplicationSlotCounters
	if err := c.monitorRow(ctx, pgstats.ReplicationSlots,
		&cur.SpillTxns, &cur.SpillCount, &cur.SpillBytes, &cur.StreamTxns,
		&cur.StreamCount, &cur.StreamBytes, &cur.TotalTxns,
		&cur.TotalBytes); err != nil {
		return err
	}
	out := cur
	if s.seen {
		out.SpillTxns -= s.prev.SpillTxns
		out.SpillCount -= s.prev.SpillCount
		out.SpillBytes -= s.prev.SpillBytes
		out.StreamTxns -= s.prev.StreamTxns
		out.StreamCount -= s.prev.StreamCount
		out.StreamBytes -= s.prev.StreamBytes
		out.TotalTxns -= s.prev.TotalTxns
		out.TotalBytes -= s.prev.TotalBytes
	}
	spillBytes, err := c.sizeCol(ctx, out.SpillBytes)
	if err != nil {
		return err
	}
	streamBytes, err := c.sizeCol(ctx, out.StreamBytes)
	if err != nil {
		return err
	}
	totalBytes, err := c.sizeCol(ctx, out.TotalBytes)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%7d %8d %11s %7d %8d %11s %9d %11s\n",
		out.SpillTxns, out.SpillCount, spillBytes, out.StreamTxns,
		out.StreamCount, streamBytes, out.TotalTxns, totalBytes)
	s.prev, s.seen = cur, true
	return nil
}

type subscriptionStat struct {
	prev pgstats.SubscriptionCounters
	seen bool
}

func (s *subscriptionStat) header(w io.Writer) {
	fmt.Fprintln(w, "------- subscriptions -------")
	fmt.Fprintln(w, "   subs apply_err  sync_err")
}

func (s *subscriptionStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.SubscriptionCounters
	if err := c.monitorRow(ctx, pgstats.Subscription,
		&cur.Count, &cur.ApplyErrors, &cur.SyncErrors); err != nil {
		return err
	}
	out := cur
	if s.seen {
		// the subscription count is a gauge
		out.ApplyErrors -= s.prev.ApplyErrors
		out.SyncErrors -= s.prev.SyncErrors
	}
	fmt.Fprintf(w, "%7d %9d %9d\n", out.Count, out.ApplyErrors, out.SyncErrors)
	s.prev, s.seen = cur, true
	return nil
}

// tempFileStat samples gauges: whatever temporary files exist right now.
type tempFileStat struct{}

func (s *tempFileStat) header(w io.Writer) {
	fmt.Fprintln(w, "------ temp files -------")
	fmt.Fprintln(w, "  files        bytes")
}

func (s *tempFileStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.TempFileGauges
	if err := c.monitorRow(ctx, pgstats.TempFile,
		&cur.Files, &cur.Bytes); err != nil {
		return err
	}
	bytes, err := c.sizeCol(ctx, cur.Bytes)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%7d %12s\n", cur.Files, bytes)
	return nil
}

type tablesIOStat struct {
	prev pgstats.TablesIOCounters
	seen bool
}

func (s *tablesIOStat) header(w io.Writer) {
	fmt.Fprintln(w, "-------- heap -------- ------- index -------- ------- toast -------- ----- toast idx ------")
	fmt.Fprintln(w, "    read       hit        read       hit        read       hit        read       hit")
}

func (s *tablesIOStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.TablesIOCounters
	if err := c.monitorRow(ctx, pgstats.TablesIO,
		&cur.HeapBlksRead, &cur.HeapBlksHit, &cur.IdxBlksRead,
		&cur.IdxBlksHit, &cur.ToastBlksRead, &cur.ToastBlksHit,
		&cur.TidxBlksRead, &cur.TidxBlksHit); err != nil {
		return err
	}
	out := cur
	if s.seen {
		out.HeapBlksRead -= s.prev.HeapBlksRead
		out.HeapBlksHit -= s.prev.HeapBlksHit
		out.IdxBlksRead -= s.prev.IdxBlksRead
		out.IdxBlksHit -= s.prev.IdxBlksHit
		out.ToastBlksRead -= s.prev.ToastBlksRead
		out.ToastBlksHit -= s.prev.ToastBlksHit
		out.TidxBlksRead -= s.prev.TidxBlksRead
		out.TidxBlksHit -= s.prev.TidxBlksHit
	}
	fmt.Fprintf(w, "%8d %9d   %9d %9d   %9d %9d   %9d %9d\n",
		out.HeapBlksRead, out.HeapBlksHit, out.IdxBlksRead, out.IdxBlksHit,
		out.ToastBlksRead, out.ToastBlksHit, out.TidxBlksRead,
		out.TidxBlksHit)
	s.prev, s.seen = cur, true
	return nil
}

type indexStat struct {
	prev pgstats.IndexCounters
	seen bool
}

func (s *indexStat) header(w io.Writer) {
	fmt.Fprintln(w, "--------- index usage ----------")
	fmt.Fprintln(w, "    scan  tup_read tup_fetch")
}

func (s *indexStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.IndexCounters
	if err := c.monitorRow(ctx, pgstats.Index,
		&cur.Scan, &cur.TupRead, &cur.TupFetch); err != nil {
		return err
	}
	out := cur
	if s.seen {
		out.Scan -= s.prev.Scan
		out.TupRead -= s.prev.TupRead
		out.TupFetch -= s.prev.TupFetch
	}
	fmt.Fprintf(w, "%8d %9d %9d\n", out.Scan, out.TupRead, out.TupFetch)
	s.prev, s.seen = cur, true
	return nil
}

type functionStat struct {
	prev pgstats.FunctionCounters
	seen bool
}

func (s *functionStat) header(w io.Writer) {
	fmt.Fprintln(w, "---------- functions -----------")
	fmt.Fprintln(w, "   calls   total_t    self_t")
}

func (s *functionStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.FunctionCounters
	if err := c.monitorRow(ctx, pgstats.Function,
		&cur.Calls, &cur.TotalTime, &cur.SelfTime); err != nil {
		return err
	}
	out := cur
	if s.seen {
		out.Calls -= s.prev.Calls
		out.TotalTime -= s.prev.TotalTime
		out.SelfTime -= s.prev.SelfTime
	}
	fmt.Fprintf(w, "%8d %9.1f %9.1f\n", out.Calls, out.TotalTime, out.SelfTime)
	s.prev, s.seen = cur, true
	return nil
}

type statementStat struct {
	prev    pgstats.StatementCounters
	seen    bool
	checked bool
}

func (s *statementStat) header(w io.Writer) {
	fmt.Fprintln(w, "--------- misc ---------- ------------- shared -------------- -------------- local --------------- ------ temp ------ ------ time ------ --------- wal ----------")
	fmt.Fprintln(w, "  calls    time     rows      hit    read   dirty written      hit    read   dirty written     read  written   read_t  write_t  records     fpi      bytes")
}

func (s *statementStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	if !s.checked {
		ok, err := c.HasPGStatStatements(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("extension pg_stat_statements is not installed in this database")
		}
		s.checked = true
	}
	var cur pgstats.StatementCounters
	if err := c.monitorRow(ctx, pgstats.Statement,
		&cur.Calls, &cur.TotalTime, &cur.Rows, &cur.SharedBlksHit,
		&cur.SharedBlksRead, &cur.SharedBlksDirtied,
		&cur.SharedBlksWritten, &cur.LocalBlksHit, &cur.LocalBlksRead,
		&cur.LocalBlksDirtied, &cur.LocalBlksWritten, &cur.TempBlksRead,
		&cur.TempBlksWritten, &cur.BlkReadTime, &cur.BlkWriteTime,
		&cur.WALRecords, &cur.WALFPI, &cur.WALBytes); err != nil {
		return err
	}
	out := cur
	if s.seen {
		out.Calls -= s.prev.Calls
		out.TotalTime -= s.prev.TotalTime
		out.Rows -= s.prev.Rows
		out.SharedBlksHit -= s.prev.SharedBlksHit
		out.SharedBlksRead -= s.prev.SharedBlksRead
		out.SharedBlksDirtied -= s.prev.SharedBlksDirtied
		out.SharedBlksWritten -= s.prev.SharedBlksWritten
		out.LocalBlksHit -= s.prev.LocalBlksHit
		out.LocalBlksRead -= s.prev.LocalBlksRead
		out.LocalBlksDirtied -= s.prev.LocalBlksDirtied
		out.LocalBlksWritten -= s.prev.LocalBlksWritten
		out.TempBlksRead -= s.prev.TempBlksRead
		out.TempBlksWritten -= s.prev.TempBlksWritten
		out.BlkReadTime -= s.prev.BlkReadTime
		out.BlkWriteTime -= s.prev.BlkWriteTime
		out.WALRecords -= s.prev.WALRecords
		out.WALFPI -= s.prev.WALFPI
		out.WALBytes -= s.prev.WALBytes
	}
	walBytes, err := c.sizeCol(ctx, out.WALBytes)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%7d %7.1f %8d %8d %7d %7d %7d %8d %7d %7d %7d %8d %8d %8.1f %8.1f %8d %7d %10s\n",
		out.Calls, out.TotalTime, out.Rows, out.SharedBlksHit,
		out.SharedBlksRead, out.SharedBlksDirtied, out.SharedBlksWritten,
		out.LocalBlksHit, out.LocalBlksRead, out.LocalBlksDirtied,
		out.LocalBlksWritten, out.TempBlksRead, out.TempBlksWritten,
		out.BlkReadTime, out.BlkWriteTime, out.WALRecords, out.WALFPI,
		walBytes)
	s.prev, s.seen = cur, true
	return nil
}

// progressAnalyzeStat samples progress gauges of the ANALYZEs running at
// that moment.
type progressAnalyzeStat struct{}

func (s *progressAnalyzeStat) header(w io.Writer) {
	fmt.Fprintln(w, "--------------------------- analyze progress ----------------------------")
	fmt.Fprintln(w, " backends  smp_total   smp_done ext_total  ext_done chld_total chld_done")
}

func (s *progressAnalyzeStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.ProgressAnalyzeGauges
	if err := c.monitorRow(ctx, pgstats.ProgressAnalyze,
		&cur.Backends, &cur.SampleBlksTotal, &cur.SampleBlksScanned,
		&cur.ExtStatsTotal, &cur.ExtStatsComputed, &cur.ChildTablesTotal,
		&cur.ChildTablesDone); err != nil {
		return err
	}
	fmt.Fprintf(w, "%9d %10d %10d %9d %9d %10d %9d\n",
		cur.Backends, cur.SampleBlksTotal, cur.SampleBlksScanned,
		cur.ExtStatsTotal, cur.ExtStatsComputed, cur.ChildTablesTotal,
		cur.ChildTablesDone)
	return nil
}
