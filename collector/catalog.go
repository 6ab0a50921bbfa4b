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
	"fmt"
	"strings"

	pgstats "github.com/gleu/pgstats-sub000"
)

// RenderOptions adjust how a domain's statement is composed.
type RenderOptions struct {
	Filter   bool // restrict to one object, bound as $1
	Recovery bool // server is a standby
}

type monitorEntry struct {
	floor     Version
	what      string // named in version errors
	filterCol string // "" = -f not supported for this domain
	sql       func(Version, RenderOptions) string
}

func fixed(q string) func(Version, RenderOptions) string {
	return func(Version, RenderOptions) string { return q }
}

var monitorTab = map[pgstats.Domain]monitorEntry{
	pgstats.Archiver:          {mkv(9, 4), "pg_stat_archiver", "", fixed(sqlMonArchiver)},
	pgstats.BGWriter:          {mkv(9, 2), "pg_stat_bgwriter", "", bgwriterSQL},
	pgstats.Connection:        {mkv(9, 2), "pg_stat_activity", "", connectionSQL},
	pgstats.Database:          {mkv(9, 2), "pg_stat_database", "datname", databaseSQL},
	pgstats.DatabaseConflicts: {mkv(9, 2), "pg_stat_database_conflicts", "datname", databaseConflictsSQL},
	pgstats.Replication:       {mkv(9, 2), "pg_stat_replication", "application_name", replicationSQL},
	pgstats.ReplicationSlots:  {mkv(14, 0), "pg_stat_replication_slots", "slot_name", fixed(sqlMonReplicationSlots)},
	pgstats.SLRU:              {mkv(13, 0), "pg_stat_slru", "name", fixed(sqlMonSLRU)},
	pgstats.Subscription:      {mkv(15, 0), "pg_stat_subscription_stats", "subname", fixed(sqlMonSubscription)},
	pgstats.WAL:               {mkv(14, 0), "pg_stat_wal", "", walSQL},
	pgstats.WALReceiver:       {mkv(9, 6), "pg_stat_wal_receiver", "", walReceiverSQL},
	pgstats.XLog:              {mkv(9, 2), "WAL location functions", "", xlogSQL},
	pgstats.TempFile:          {mkv(10, 0), "temporary file inspection", "", tempFileSQL},
	pgstats.TablesIO:          {mkv(9, 2), "pg_statio_all_tables", "relname", fixed(sqlMonTablesIO)},
	pgstats.Index:             {mkv(9, 2), "pg_stat_all_indexes", "indexrelname", fixed(sqlMonIndex)},
	pgstats.Function:          {mkv(9, 2), "pg_stat_user_functions", "funcname", fixed(sqlMonFunction)},
	pgstats.Statement:         {mkv(9, 4), "pg_stat_statements", "", statementSQL},
	pgstats.ProgressAnalyze:   {mkv(13, 0), "pg_stat_progress_analyze", "", fixed(sqlMonProgressAnalyze)},
	pgstats.PBPools:           {mkv(0, 0), "SHOW POOLS", "", fixed(sqlShowPools)},
	pgstats.PBStats:           {mkv(0, 0), "SHOW STATS", "", fixed(sqlShowStats)},
}

// MonitorSQL composes the statement pgstat runs once per sample for the
// given domain, server version and options. Asking for a domain the
// server is too old for is a VersionTooLowError.
func MonitorSQL(d pgstats.Domain, v Version, o RenderOptions) (string, error) {
	e, ok := monitorTab[d]
	if !ok {
		return "", fmt.Errorf("stat %q cannot be sampled by pgstat", d)
	}
	if !v.AtLeast(e.floor.Major, e.floor.Minor) {
		return "", &VersionTooLowError{What: e.what, Need: e.floor, Have: v}
	}
	q := e.sql(v, o)
	if o.Filter {
		if e.filterCol == "" {
			return "", fmt.Errorf("-f/--filter is not supported for stat %q", d)
		}
		q = strings.Replace(q, "@filter@", "\n WHERE "+e.filterCol+" = $1", 1)
	} else {
		q = strings.Replace(q, "@filter@", "", 1)
	}
	return q, nil
}

// Filterable reports whether the domain accepts the -f option.
func Filterable(d pgstats.Domain) bool {
	return monitorTab[d].filterCol != ""
}

// MonitorDomains lists the domains pgstat can sample, in --help order.
func MonitorDomains() []pgstats.Domain {
	return []pgstats.Domain{
		pgstats.Archiver, pgstats.BGWriter, pgstats.Connection,
		pgstats.Database, pgstats.DatabaseConflicts, pgstats.Replication,
		pgstats.ReplicationSlots, pgstats.SLRU, pgstats.Subscription,
		pgstats.WAL, pgstats.WALReceiver, pgstats.XLog, pgstats.TempFile,
		pgstats.TablesIO, pgstats.Index, pgstats.Function,
		pgstats.Statement, pgstats.ProgressAnalyze, pgstats.PBPools,
		pgstats.PBStats,
	}
}

type snapshotEntry struct {
	floor Version
	view  string // underlying view, also the CSV file base name
	sql   func(Version) string
}

func fixedRow(q string) func(Version) string {
	return func(Version) string { return q }
}

var snapshotTab = map[pgstats.Domain]snapshotEntry{
	pgstats.Archiver:          {mkv(9, 4), "pg_stat_archiver", fixedRow(sqlRowArchiver)},
	pgstats.BGWriter:          {mkv(9, 2), "pg_stat_bgwriter", bgwriterRowSQL},
	pgstats.Database:          {mkv(9, 2), "pg_stat_database", databaseRowSQL},
	pgstats.DatabaseConflicts: {mkv(9, 2), "pg_stat_database_conflicts", databaseConflictsRowSQL},
	pgstats.Replication:       {mkv(9, 2), "pg_stat_replication", replicationRowSQL},
	pgstats.ReplicationSlots:  {mkv(14, 0), "pg_stat_replication_slots", fixedRow(sqlRowReplicationSlots)},
	pgstats.SLRU:              {mkv(13, 0), "pg_stat_slru", fixedRow(sqlRowSLRU)},
	pgstats.Subscription:      {mkv(15, 0), "pg_stat_subscription_stats", fixedRow(sqlRowSubscription)},
	pgstats.WAL:               {mkv(14, 0), "pg_stat_wal", walRowSQL},
	pgstats.WALReceiver:       {mkv(9, 6), "pg_stat_wal_receiver", walReceiverRowSQL},
	pgstats.AllTables:         {mkv(9, 4), "pg_stat_all_tables", allTablesRowSQL},
	pgstats.AllIndexes:        {mkv(9, 2), "pg_stat_all_indexes", fixedRow(sqlRowAllIndexes)},
	pgstats.IOTables:          {mkv(9, 2), "pg_statio_all_tables", fixedRow(sqlRowIOTables)},
	pgstats.IOIndexes:         {mkv(9, 2), "pg_statio_all_indexes", fixedRow(sqlRowIOIndexes)},
	pgstats.IOSequences:       {mkv(9, 2), "pg_statio_all_sequences", fixedRow(sqlRowIOSequences)},
	pgstats.UserFunctions:     {mkv(9, 2), "pg_stat_user_functions", fixedRow(sqlRowUserFunctions)},
	pgstats.ClassSize:         {mkv(9, 2), "pg_class_size", fixedRow(sqlRowClassSize)},
	pgstats.Statements:        {mkv(9, 4), "pg_stat_statements", statementsRowSQL},
}

// SnapshotSQL composes the dump statement pgcsvstat runs for the given
// domain.
func SnapshotSQL(d pgstats.Domain, v Version) (string, error) {
	e, ok := snapshotTab[d]
	if !ok {
		return "", fmt.Errorf("stat %q cannot be dumped by pgcsvstat", d)
	}
	if !v.AtLeast(e.floor.Major, e.floor.Minor) {
		return "", &VersionTooLowError{What: e.view, Need: e.floor, Have: v}
	}
	return e.sql(v), nil
}

// CSVName returns the name of the CSV file a domain's snapshot is
// appended to ("pg_stat_bgwriter.csv" and so on), or "" if the domain is
// not dumped to CSV.
func CSVName(d pgstats.Domain) string {
	e, ok := snapshotTab[d]
	if !ok {
		return ""
	}
	return e.view + ".csv"
}

// SnapshotDomains lists the domains pgcsvstat dumps, in dump order.
func SnapshotDomains() []pgstats.Domain {
	return []pgstats.Domain{
		pgstats.Archiver, pgstats.BGWriter, pgstats.Database,
		pgstats.DatabaseConflicts, pgstats.Replication,
		pgstats.ReplicationSlots, pgstats.SLRU, pgstats.Subscription,
		pgstats.WAL, pgstats.WALReceiver, pgstats.AllTables,
		pgstats.AllIndexes, pgstats.IOTables, pgstats.IOIndexes,
		pgstats.IOSequences, pgstats.UserFunctions, pgstats.ClassSize,
		pgstats.Statements,
	}
}

// needsPGSS reports whether the domain reads pg_stat_statements and so
// needs the extension installed.
func needsPGSS(d pgstats.Domain) bool {
	return d == pgstats.Statement || d == pgstats.Statements
}
