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
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	pgstats "github.com/gleu/pgstats-sub000"
)

// stat is one sampled domain: it knows its header and how to turn the
// current counters into one output row. Implementations keep the previous
// sample internally; the previous sample is only overwritten after the
// row has been written out, so a failed write never loses a baseline.
type stat interface {
	header(w io.Writer)
	sample(ctx context.Context, c *Collector, w io.Writer) error
}

// newStat returns a fresh sampler for the domain. The domain/version
// check happens later, when the first statement is composed.
func newStat(d pgstats.Domain) (stat, error) {
	switch d {
	case pgstats.Archiver:
		return &archiverStat{}, nil
	case pgstats.BGWriter:
		return &bgwriterStat{}, nil
	case pgstats.Connection:
		return &connectionStat{}, nil
	case pgstats.Database:
		return &databaseStat{}, nil
	case pgstats.DatabaseConflicts:
		return &databaseConflictsStat{}, nil
	case pgstats.Replication:
		return &replicationStat{}, nil
	case pgstats.ReplicationSlots:
		return &replicationSlotsStat{}, nil
	case pgstats.SLRU:
		return &slruStat{}, nil
	case pgstats.Subscription:
		return &subscriptionStat{}, nil
	case pgstats.WAL:
		return &walStat{}, nil
	case pgstats.WALReceiver:
		return &walReceiverStat{}, nil
	case pgstats.XLog:
		return &xlogStat{}, nil
	case pgstats.TempFile:
		return &tempFileStat{}, nil
	case pgstats.TablesIO:
		return &tablesIOStat{}, nil
	case pgstats.Index:
		return &indexStat{}, nil
	case pgstats.Function:
		return &functionStat{}, nil
	case pgstats.Statement:
		return &statementStat{}, nil
	case pgstats.ProgressAnalyze:
		return &progressAnalyzeStat{}, nil
	case pgstats.PBPools:
		return &pbPoolsStat{}, nil
	case pgstats.PBStats:
		return &pbStatsStat{}, nil
	}
	return nil, fmt.Errorf("stat %q cannot be sampled by pgstat", d)
}

func (c *Collector) renderOptions() RenderOptions {
	return RenderOptions{Filter: c.Filter != "", Recovery: c.recovery}
}

func (c *Collector) filterArgs() []interface{} {
	if c.Filter != "" {
		return []interface{}{c.Filter}
	}
	return nil
}

// monitorRow composes the domain's statement and scans the single result
// row into dest.
func (c *Collector) monitorRow(ctx context.Context, d pgstats.Domain, dest ...interface{}) error {
	q, err := MonitorSQL(d, c.version, c.renderOptions())
	if err != nil {
		return err
	}
	ctx2, cancel := c.queryCtx(ctx)
	defer cancel()
	c.echo(q)
	if err := c.db.QueryRowContext(ctx2, q, c.filterArgs()...).Scan(dest...); err != nil {
		return queryErr(q, err)
	}
	return nil
}

// sizeCol renders a byte-valued column: the raw number normally, or the
// server's pg_size_pretty rendering under -H. PgBouncer's console cannot
// run pg_size_pretty, so sizes are formatted client-side there.
func (c *Collector) sizeCol(ctx context.Context, n int64) (string, error) {
	if !c.Human {
		return strconv.FormatInt(n, 10), nil
	}
	if c.mode == modePgBouncer {
		if n < 0 {
			return "-" + humanize.IBytes(uint64(-n)), nil
		}
		return humanize.IBytes(uint64(n)), nil
	}
	return c.prettySize(ctx, n)
}

// lsnParse turns a pg_lsn like "16/B374D848" into a byte position.
func lsnParse(s string) (int64, bool) {
	hi, lo, found := strings.Cut(s, "/")
	if !found {
		return 0, false
	}
	h, err := strconv.ParseUint(hi, 16, 32)
	if err != nil {
		return 0, false
	}
	l, err := strconv.ParseUint(lo, 16, 32)
	if err != nil {
		return 0, false
	}
	return int64(h<<32 | l), true
}

// lsnDiff is the byte distance from b to a. Either side failing to parse
// (an empty location on a quiet standby, say) counts as zero.
func lsnDiff(a, b string) int64 {
	x, ok := lsnParse(a)
	if !ok {
		return 0
	}
	y, ok := lsnParse(b)
	if !ok {
		return 0
	}
	return x - y
}
