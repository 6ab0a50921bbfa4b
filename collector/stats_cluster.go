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

// Cluster-wide samplers: WAL archiving, background writer, activity,
// replication, WAL generation and the SLRU caches.

type archiverStat struct {
	prev pgstats.ArchiverCounters
	seen bool
}

func (s *archiverStat) header(w io.Writer) {
	fmt.Fprintln(w, "----- WAL archiving -----")
	fmt.Fprintln(w, "  archived     failed")
}

func (s *archiverStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.ArchiverCounters
	if err := c.monitorRow(ctx, pgstats.Archiver,
		&cur.ArchivedCount, &cur.FailedCount); err != nil {
		return err
	}
	out := cur
	if s.seen {
		out.ArchivedCount -= s.prev.ArchivedCount
		out.FailedCount -= s.prev.FailedCount
	}
	fmt.Fprintf(w, "%10d %10d\n", out.ArchivedCount, out.FailedCount)
	s.prev, s.seen = cur, true
	return nil
}

type bgwriterStat struct {
	prev pgstats.BGWriterCounters
	seen bool
}

func (s *bgwriterStat) header(w io.Writer) {
	fmt.Fprintln(w, "-------------- checkpoints --------------- ---------------------- buffers ----------------------")
	fmt.Fprintln(w, "  timed  requested  write_time   sync_time   checkpoint    clean maxwritten  backend    fsync    alloc")
}

func (s *bgwriterStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.BGWriterCounters
	if err := c.monitorRow(ctx, pgstats.BGWriter,
		&cur.CheckpointsTimed, &cur.CheckpointsRequested,
		&cur.CheckpointWriteTime, &cur.CheckpointSyncTime,
		&cur.BuffersCheckpoint, &cur.BuffersClean, &cur.MaxWrittenClean,
		&cur.BuffersBackend, &cur.BuffersBackendFsync,
		&cur.BuffersAlloc); err != nil {
		return err
	}
	out := cur
	if s.seen {
		out.CheckpointsTimed -= s.prev.CheckpointsTimed
		out.CheckpointsRequested -= s.prev.CheckpointsRequested
		out.CheckpointWriteTime -= s.prev.CheckpointWriteTime
		out.CheckpointSyncTime -= s.prev.CheckpointSyncTime
		out.BuffersCheckpoint -= s.prev.BuffersCheckpoint
		out.BuffersClean -= s.prev.BuffersClean
		out.MaxWrittenClean -= s.prev.MaxWrittenClean
		out.BuffersBackend -= s.prev.BuffersBackend
		out.BuffersBackendFsync -= s.prev.BuffersBackendFsync
		out.BuffersAlloc -= s.prev.BuffersAlloc
	}
	fmt.Fprintf(w, "%7d %10d %11.1f %11.1f %12d %8d %10d %8d %8d %8d\n",
		out.CheckpointsTimed, out.CheckpointsRequested,
		out.CheckpointWriteTime, out.CheckpointSyncTime,
		out.BuffersCheckpoint, out.BuffersClean, out.MaxWrittenClean,
		out.BuffersBackend, out.BuffersBackendFsync, out.BuffersAlloc)
	s.prev, s.seen = cur, true
	return nil
}

// connectionStat samples gauges, so there is no previous record to keep.
type connectionStat struct{}

func (s *connectionStat) header(w io.Writer) {
	fmt.Fprintln(w, "------------------------ connections -------------------------")
	fmt.Fprintln(w, "  total  active lockwait idle_in_xact    idle")
}

func (s *connectionStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.ConnectionCounts
	if err := c.monitorRow(ctx, pgstats.Connection,
		&cur.Total, &cur.Active, &cur.LockWaiting, &cur.IdleInTransaction,
		&cur.Idle); err != nil {
		return err
	}
	fmt.Fprintf(w, "%7d %7d %8d %12d %7d\n",
		cur.Total, cur.Active, cur.LockWaiting, cur.IdleInTransaction,
		cur.Idle)
	return nil
}

// replicationStat samples the standby lag gauges.
type replicationStat struct{}

func (s *replicationStat) header(w io.Writer) {
	fmt.Fprintln(w, "--------------- replication: bytes behind ----------------")
	fmt.Fprintln(w, " replicas       sent      write      flush     replay")
}

func (s *replicationStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.ReplicationGauges
	if err := c.monitorRow(ctx, pgstats.Replication,
		&cur.Replicas, &cur.SentLag, &cur.WriteLag, &cur.FlushLag,
		&cur.ReplayLag); err != nil {
		return err
	}
	sent, err := c.sizeCol(ctx, cur.SentLag)
	if err != nil {
		return err
	}
	write, err := c.sizeCol(ctx, cur.WriteLag)
	if err != nil {
		return err
	}
	flush, err := c.sizeCol(ctx, cur.FlushLag)
	if err != nil {
		return err
	}
	replay, err := c.sizeCol(ctx, cur.ReplayLag)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%9d %10s %10s %10s %10s\n",
		cur.Replicas, sent, write, flush, replay)
	return nil
}

type walStat struct {
	prev pgstats.WALCounters
	seen bool
}

func (s *walStat) header(w io.Writer) {
	fmt.Fprintln(w, "----------------------------- WAL activity ------------------------------")
	fmt.Fprintln(w, " records     fpi       bytes buffers_full   write    sync  write_t  sync_t")
}

func (s *walStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.WALCounters
	if err := c.monitorRow(ctx, pgstats.WAL,
		&cur.Records, &cur.FPI, &cur.Bytes, &cur.BuffersFull, &cur.Write,
		&cur.Sync, &cur.WriteTime, &cur.SyncTime); err != nil {
		return err
	}
	out := cur
	if s.seen {
		out.Records -= s.prev.Records
		out.FPI -= s.prev.FPI
		out.Bytes -= s.prev.Bytes
		out.BuffersFull -= s.prev.BuffersFull
		out.Write -= s.prev.Write
		out.Sync -= s.prev.Sync
		out.WriteTime -= s.prev.WriteTime
		out.SyncTime -= s.prev.SyncTime
	}
	bytes, err := c.sizeCol(ctx, out.Bytes)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%8d %7d %11s %12d %7d %7d %8.1f %7.1f\n",
		out.Records, out.FPI, bytes, out.BuffersFull, out.Write, out.Sync,
		out.WriteTime, out.SyncTime)
	s.prev, s.seen = cur, true
	return nil
}

type walReceiverStat struct {
	prev pgstats.WALReceiverInfo
	seen bool
}

func (s *walReceiverStat) header(w io.Writer) {
	fmt.Fprintln(w, "---------------------- WAL receiver ----------------------")
	fmt.Fprintln(w, "     status        location      received    tli")
}

func (s *walReceiverStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.WALReceiverInfo
	if err := c.monitorRow(ctx, pgstats.WALReceiver,
		&cur.Status, &cur.FlushedLSN, &cur.Timeline); err != nil {
		return err
	}
	var delta int64
	if s.seen {
		delta = lsnDiff(cur.FlushedLSN, s.prev.FlushedLSN)
	}
	received, err := c.sizeCol(ctx, delta)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%11s %15s %13s %6d\n",
		cur.Status, cur.FlushedLSN, received, cur.Timeline)
	s.prev, s.seen = cur, true
	return nil
}

type xlogStat struct {
	prev pgstats.XLogLocation
	seen bool
}

func (s *xlogStat) header(w io.Writer) {
	fmt.Fprintln(w, "---------- WAL writes ----------")
	fmt.Fprintln(w, "       location         bytes")
}

func (s *xlogStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.XLogLocation
	if err := c.monitorRow(ctx, pgstats.XLog, &cur.Location); err != nil {
		return err
	}
	var delta int64
	if s.seen {
		delta = lsnDiff(cur.Location, s.prev.Location)
	}
	bytes, err := c.sizeCol(ctx, delta)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%15s %13s\n", cur.Location, bytes)
	s.prev, s.seen = cur, true
	return nil
}

type slruStat struct {
	prev pgstats.SLRUCounters
	seen bool
}

func (s *slruStat) header(w io.Writer) {
	fmt.Fprintln(w, "------------------------------ SLRU caches -------------------------------")
	fmt.Fprintln(w, "  zeroed      hit     read  written   exists  flushes truncates")
}

func (s *slruStat) sample(ctx context.Context, c *Collector, w io.Writer) error {
	var cur pgstats.SLRUCounters
	if err := c.monitorRow(ctx, pgstats.SLRU,
		&cur.BlksZeroed, &cur.BlksHit, &cur.BlksRead, &cur.BlksWritten,
		&cur.BlksExists, &cur.Flushes, &cur.Truncates); err != nil {
		return err
	}
	out := cur
	if s.seen {
		out.BlksZeroed -= s.prev.BlksZeroed
		out.BlksHit -= s.prev.BlksHit
		out.BlksRead -= s.prev.BlksRead
		out.BlksWritten -= s.prev.BlksWritten
		out.BlksExists -= s.prev.BlksExists
		out.Flushes -= s.prev.Flushes
		out.Truncates -= s.prev.Truncates
	}
	fmt.Fprintf(w, "%8d %8d %8d %8d %8d %8d %9d\n",
		out.BlksZeroed, out.BlksHit, out.BlksRead, out.BlksWritten,
		out.BlksExists, out.Flushes, out.Truncates)
	s.prev, s.seen = cur, true
	return nil
}
