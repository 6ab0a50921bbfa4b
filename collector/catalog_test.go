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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgstats "github.com/gleu/pgstats-sub000"
)

// probeVersions spans every boundary a template switches on.
var probeVersions = []Version{
	{9, 2}, {9, 4}, {9, 6}, {10, 0}, {11, 0}, {12, 0}, {13, 0},
	{14, 0}, {15, 0}, {16, 0}, {17, 0}, {18, 0},
}

// selectColumns counts the columns of a rendered SELECT: top-level commas
// between SELECT and the first FROM, ignoring anything inside parens or
// string literals.
func selectColumns(t *testing.T, q string) int {
	t.Helper()
	s := strings.TrimSpace(q)
	require.Truef(t, strings.HasPrefix(s, "SELECT"), "not a SELECT: %s", q)
	s = s[len("SELECT"):]
	depth, cols := 0, 1
	inQuote := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case inQuote:
			if ch == '\'' {
				inQuote = false
			}
		case ch == '\'':
			inQuote = true
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		case ch == ',' && depth == 0:
			cols++
		case depth == 0 && ch == 'F' && strings.HasPrefix(s[i:], "FROM") &&
			i > 0 && (s[i-1] == ' ' || s[i-1] == '\n'):
			return cols
		}
	}
	return cols
}

// monitorCols is the number of scan destinations each domain's sampler
// passes to monitorRow; the rendered statement must produce exactly that
// many columns on every supported server version.
var monitorCols = map[pgstats.Domain]int{
	pgstats.Archiver:          2,
	pgstats.BGWriter:          10,
	pgstats.Connection:        5,
	pgstats.Database:          18,
	pgstats.DatabaseConflicts: 6,
	pgstats.Replication:       5,
	pgstats.ReplicationSlots:  8,
	pgstats.SLRU:              7,
	pgstats.Subscription:      3,
	pgstats.WAL:               8,
	pgstats.WALReceiver:       3,
	pgstats.XLog:              1,
	pgstats.TempFile:          2,
	pgstats.TablesIO:          8,
	pgstats.Index:             3,
	pgstats.Function:          3,
	pgstats.Statement:         18,
	pgstats.ProgressAnalyze:   7,
}

var monitorFloors = map[pgstats.Domain]Version{
	pgstats.Archiver:          {9, 4},
	pgstats.BGWriter:          {9, 2},
	pgstats.Connection:        {9, 2},
	pgstats.Database:          {9, 2},
	pgstats.DatabaseConflicts: {9, 2},
	pgstats.Replication:       {9, 2},
	pgstats.ReplicationSlots:  {14, 0},
	pgstats.SLRU:              {13, 0},
	pgstats.Subscription:      {15, 0},
	pgstats.WAL:               {14, 0},
	pgstats.WALReceiver:       {9, 6},
	pgstats.XLog:              {9, 2},
	pgstats.TempFile:          {10, 0},
	pgstats.TablesIO:          {9, 2},
	pgstats.Index:             {9, 2},
	pgstats.Function:          {9, 2},
	pgstats.Statement:         {9, 4},
	pgstats.ProgressAnalyze:   {13, 0},
}

func TestMonitorSQLColumnParity(t *testing.T) {
	for d, want := range monitorCols {
		floor := monitorFloors[d]
		for _, v := range probeVersions {
			if !v.AtLeast(floor.Major, floor.Minor) {
				continue
			}
			q, err := MonitorSQL(d, v, RenderOptions{})
			require.NoErrorf(t, err, "%s at %s", d, v)
			assert.Equalf(t, want, selectColumns(t, q),
				"%s at %s:\n%s", d, v, q)
			assert.NotContainsf(t, q, "@", "unsubstituted marker, %s at %s", d, v)
		}
	}
}

func TestMonitorSQLRecoveryParity(t *testing.T) {
	for _, d := range []pgstats.Domain{pgstats.Replication, pgstats.XLog} {
		for _, v := range probeVersions {
			q, err := MonitorSQL(d, v, RenderOptions{Recovery: true})
			require.NoError(t, err)
			assert.Equal(t, monitorCols[d], selectColumns(t, q))
			assert.NotContains(t, q, "@")
		}
	}
	q, err := MonitorSQL(pgstats.XLog, mkv(14, 0), RenderOptions{Recovery: true})
	require.NoError(t, err)
	assert.Contains(t, q, "pg_last_wal_receive_lsn")
	q, err = MonitorSQL(pgstats.XLog, mkv(9, 6), RenderOptions{Recovery: true})
	require.NoError(t, err)
	assert.Contains(t, q, "pg_last_xlog_receive_location")
}

func TestMonitorSQLVersionFloors(t *testing.T) {
	for d, floor := range monitorFloors {
		below := Version{floor.Major, floor.Minor - 1}
		if floor.Minor == 0 {
			below = Version{floor.Major - 1, 9}
		}
		_, err := MonitorSQL(d, below, RenderOptions{})
		var low *VersionTooLowError
		require.ErrorAsf(t, err, &low, "%s at %s", d, below)
		assert.Equal(t, floor, low.Need)
		assert.Equal(t, below, low.Have)
	}
}

// The filter never lands in the statement text itself; it is always bound
// as $1.
func TestMonitorSQLFilter(t *testing.T) {
	filterable := map[pgstats.Domain]string{
		pgstats.Database:          "datname",
		pgstats.DatabaseConflicts: "datname",
		pgstats.Replication:       "application_name",
		pgstats.ReplicationSlots:  "slot_name",
		pgstats.SLRU:              "name",
		pgstats.Subscription:      "subname",
		pgstats.TablesIO:          "relname",
		pgstats.Index:             "indexrelname",
		pgstats.Function:          "funcname",
	}
	for d, col := range filterable {
		assert.True(t, Filterable(d))
		q, err := MonitorSQL(d, mkv(16, 0), RenderOptions{Filter: true})
		require.NoError(t, err)
		assert.Containsf(t, q, "WHERE "+col+" = $1", "%s:\n%s", d, q)
		assert.NotContains(t, q, "@filter@")
	}
	for _, d := range []pgstats.Domain{
		pgstats.Archiver, pgstats.BGWriter, pgstats.Connection,
		pgstats.WAL, pgstats.XLog, pgstats.TempFile, pgstats.Statement,
	} {
		assert.False(t, Filterable(d))
		_, err := MonitorSQL(d, mkv(16, 0), RenderOptions{Filter: true})
		require.Errorf(t, err, "%s", d)
		assert.Contains(t, err.Error(), "-f")
	}
}

// Rendering is a pure function of (domain, version, options).
func TestMonitorSQLStable(t *testing.T) {
	for d := range monitorCols {
		for _, o := range []RenderOptions{{}, {Recovery: true}} {
			a, err1 := MonitorSQL(d, mkv(17, 0), o)
			b, err2 := MonitorSQL(d, mkv(17, 0), o)
			require.NoError(t, err1)
			require.NoError(t, err2)
			assert.Equal(t, a, b)
		}
	}
}

func TestMonitorSQLBGWriterSplit(t *testing.T) {
	q, err := MonitorSQL(pgstats.BGWriter, mkv(16, 0), RenderOptions{})
	require.NoError(t, err)
	assert.Contains(t, q, "buffers_backend")
	assert.NotContains(t, q, "pg_stat_checkpointer")

	q, err = MonitorSQL(pgstats.BGWriter, mkv(17, 0), RenderOptions{})
	require.NoError(t, err)
	assert.Contains(t, q, "pg_stat_checkpointer")
	assert.Contains(t, q, "0::bigint")
}

func TestMonitorSQLUnknownDomain(t *testing.T) {
	_, err := MonitorSQL(pgstats.AllTables, mkv(14, 0), RenderOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be sampled")
}

var snapshotCols = map[pgstats.Domain]int{
	pgstats.Archiver:          7,
	pgstats.BGWriter:          11,
	pgstats.Database:          20,
	pgstats.DatabaseConflicts: 7,
	pgstats.Replication:       11,
	pgstats.ReplicationSlots:  10,
	pgstats.SLRU:              9,
	pgstats.Subscription:      5,
	pgstats.WAL:               9,
	pgstats.WALReceiver:       14,
	pgstats.AllTables:         22,
	pgstats.AllIndexes:        6,
	pgstats.IOTables:          10,
	pgstats.IOIndexes:         5,
	pgstats.IOSequences:       4,
	pgstats.UserFunctions:     5,
	pgstats.ClassSize:         6,
	pgstats.Statements:        22,
}

var snapshotFloors = map[pgstats.Domain]Version{
	pgstats.Archiver:          {9, 4},
	pgstats.BGWriter:          {9, 2},
	pgstats.Database:          {9, 2},
	pgstats.DatabaseConflicts: {9, 2},
	pgstats.Replication:       {9, 2},
	pgstats.ReplicationSlots:  {14, 0},
	pgstats.SLRU:              {13, 0},
	pgstats.Subscription:      {15, 0},
	pgstats.WAL:               {14, 0},
	pgstats.WALReceiver:       {9, 6},
	pgstats.AllTables:         {9, 4},
	pgstats.AllIndexes:        {9, 2},
	pgstats.IOTables:          {9, 2},
	pgstats.IOIndexes:         {9, 2},
	pgstats.IOSequences:       {9, 2},
	pgstats.UserFunctions:     {9, 2},
	pgstats.ClassSize:         {9, 2},
	pgstats.Statements:        {9, 4},
}

// The CSV header of a view's file must not depend on the server version,
// or appended rows stop lining up with it.
func TestSnapshotSQLColumnParity(t *testing.T) {
	for d, want := range snapshotCols {
		floor := snapshotFloors[d]
		for _, v := range probeVersions {
			if !v.AtLeast(floor.Major, floor.Minor) {
				continue
			}
			q, err := SnapshotSQL(d, v)
			require.NoErrorf(t, err, "%s at %s", d, v)
			assert.Equalf(t, want, selectColumns(t, q),
				"%s at %s:\n%s", d, v, q)
			assert.NotContainsf(t, q, "@", "unsubstituted marker, %s at %s", d, v)
		}
	}
}

func TestSnapshotSQLVersionFloors(t *testing.T) {
	for d, floor := range snapshotFloors {
		below := Version{floor.Major, floor.Minor - 1}
		if floor.Minor == 0 {
			below = Version{floor.Major - 1, 9}
		}
		_, err := SnapshotSQL(d, below)
		var low *VersionTooLowError
		require.ErrorAsf(t, err, &low, "%s at %s", d, below)
		assert.Equal(t, floor, low.Need)
	}
	_, err := SnapshotSQL(pgstats.Connection, mkv(14, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be dumped")
}

func TestCSVName(t *testing.T) {
	assert.Equal(t, "pg_stat_bgwriter.csv", CSVName(pgstats.BGWriter))
	assert.Equal(t, "pg_stat_archiver.csv", CSVName(pgstats.Archiver))
	assert.Equal(t, "pg_class_size.csv", CSVName(pgstats.ClassSize))
	assert.Equal(t, "pg_stat_statements.csv", CSVName(pgstats.Statements))
	assert.Equal(t, "", CSVName(pgstats.Connection))
}

func TestDomainLists(t *testing.T) {
	monitor := MonitorDomains()
	assert.Len(t, monitor, len(monitorCols)+2) // + the two pgbouncer domains
	for _, d := range monitor {
		_, err := MonitorSQL(d, mkv(18, 0), RenderOptions{})
		assert.NoErrorf(t, err, "%s", d)
	}

	snapshot := SnapshotDomains()
	assert.Len(t, snapshot, len(snapshotCols))
	assert.Equal(t, pgstats.Archiver, snapshot[0])
	for _, d := range snapshot {
		_, err := SnapshotSQL(d, mkv(18, 0))
		assert.NoErrorf(t, err, "%s", d)
		assert.NotEmpty(t, CSVName(d))
	}
}

func TestNeedsPGSS(t *testing.T) {
	assert.True(t, needsPGSS(pgstats.Statement))
	assert.True(t, needsPGSS(pgstats.Statements))
	assert.False(t, needsPGSS(pgstats.Database))
}
