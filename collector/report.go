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
	"log"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// The report runs inside a throwaway schema so that its helper objects
// can be removed with one statement at the end.

const sqlReportSchemaDDL = `CREATE SCHEMA pgreport`

const sqlReportTeardown = `DROP SCHEMA pgreport CASCADE`

// setting() reads any GUC without blowing up on ones the server does not
// have; sections reference settings that came and went across versions.
const sqlReportSettingFn = `CREATE FUNCTION pgreport.setting(s text)
RETURNS text LANGUAGE sql STABLE
AS $$ SELECT current_setting(s, true) $$`

const sqlCreateBuffercache = `CREATE EXTENSION pg_buffercache`

const sqlCreateBuffercacheScript = `CREATE EXTENSION IF NOT EXISTS pg_buffercache`

const sqlBuffercacheExists = `SELECT COUNT(*) FROM pg_extension
  WHERE extname = 'pg_buffercache'`

const sqlReportBuffercacheView = `CREATE VIEW pgreport.buffercache AS
SELECT CASE WHEN b.reldatabase IS NULL THEN '<free>'
            WHEN b.reldatabase = 0 THEN '<global>'
            ELSE d.datname END AS database,
       count(*) AS buffers,
       pg_size_pretty(count(*) * current_setting('block_size')::bigint) AS buffered
  FROM pg_buffercache b
  LEFT JOIN pg_database d ON d.oid = b.reldatabase
 GROUP BY 1`

//------------------------------------------------------------------------------
// The following query for bloat was taken from the venerable check_postgres
// script (https://bucardo.org/check_postgres/), which is:
//
// Copyright (c) 2007-2017 Greg Sabino Mullane
//------------------------------------------------------------------------------

const sqlReportBloatView = `CREATE VIEW pgreport.bloat AS
SELECT
  current_database() AS db, schemaname, tablename, reltuples::bigint AS tups, relpages::bigint AS pages, otta,
  ROUND(CASE WHEN otta=0 OR sml.relpages=0 OR sml.relpages=otta THEN 0.0 ELSE sml.relpages/otta::numeric END,1) AS tbloat,
  CASE WHEN relpages < otta THEN 0 ELSE relpages::bigint - otta END AS wastedpages,
  CASE WHEN relpages < otta THEN 0 ELSE bs*(sml.relpages-otta)::bigint END AS wastedbytes,
  CASE WHEN relpages < otta THEN '0 bytes'::text ELSE (bs*(relpages-otta))::bigint::text || ' bytes' END AS wastedsize,
  iname, ituples::bigint AS itups, ipages::bigint AS ipages, iotta,
  ROUND(CASE WHEN iotta=0 OR ipages=0 OR ipages=iotta THEN 0.0 ELSE ipages/iotta::numeric END,1) AS ibloat,
  CASE WHEN ipages < iotta THEN 0 ELSE ipages::bigint - iotta END AS wastedipages,
  CASE WHEN ipages < iotta THEN 0 ELSE (bs*(ipages-iotta))::bigint END AS wastedibytes,
  CASE WHEN ipages < iotta THEN '0 bytes' ELSE (bs*(ipages-iotta))::bigint::text || ' bytes' END AS wastedisize,
  CASE WHEN relpages < otta THEN
    CASE WHEN ipages < iotta THEN 0 ELSE bs*(ipages-iotta::bigint) END
    ELSE CASE WHEN ipages < iotta THEN bs*(relpages-otta::bigint)
      ELSE bs*(relpages-otta::bigint + ipages-iotta::bigint) END
  END AS totalwastedbytes
FROM (
  SELECT
    nn.nspname AS schemaname,
    cc.relname AS tablename,
    COALESCE(cc.reltuples,0) AS reltuples,
    COALESCE(cc.relpages,0) AS relpages,
    COALESCE(bs,0) AS bs,
    COALESCE(CEIL((cc.reltuples*((datahdr+ma-
      (CASE WHEN datahdr%ma=0 THEN ma ELSE datahdr%ma END))+nullhdr2+4))/(bs-20::float)),0) AS otta,
    COALESCE(c2.relname,'?') AS iname, COALESCE(c2.reltuples,0) AS ituples, COALESCE(c2.relpages,0) AS ipages,
    COALESCE(CEIL((c2.reltuples*(datahdr-12))/(bs-20::float)),0) AS iotta -- very rough approximation, assumes all cols
  FROM
     pg_class cc
  JOIN pg_namespace nn ON cc.relnamespace = nn.oid AND nn.nspname <> 'information_schema'
  LEFT JOIN
  (
    SELECT
      ma,bs,foo.nspname,foo.relname,
      (datawidth+(hdr+ma-(case when hdr%ma=0 THEN ma ELSE hdr%ma END)))::numeric AS datahdr,
      (maxfracsum*(nullhdr+ma-(case when nullhdr%ma=0 THEN ma ELSE nullhdr%ma END))) AS nullhdr2
    FROM (
      SELECT
        ns.nspname, tbl.relname, hdr, ma, bs,
        SUM((1-coalesce(null_frac,0))*coalesce(avg_width, 2048)) AS datawidth,
        MAX(coalesce(null_frac,0)) AS maxfracsum,
        hdr+(
          SELECT 1+count(*)/8
          FROM pg_stats s2
          WHERE null_frac<>0 AND s2.schemaname = ns.nspname AND s2.tablename = tbl.relname
        ) AS nullhdr
      FROM pg_attribute att
      JOIN pg_class tbl ON att.attrelid = tbl.oid
      JOIN pg_namespace ns ON ns.oid = tbl.relnamespace
      LEFT JOIN pg_stats s ON s.schemaname=ns.nspname
      AND s.tablename = tbl.relname
      AND s.inherited=false
      AND s.attname=att.attname,
      (
        SELECT
          (SELECT current_setting('block_size')::numeric) AS bs,
            CASE WHEN SUBSTRING(SPLIT_PART(v, ' ', 2) FROM '#"[0-9]+.[0-9]+#"%' for '#')
              IN ('8.0','8.1','8.2') THEN 27 ELSE 23 END AS hdr,
          CASE WHEN v ~ 'mingw32' OR v ~ '64-bit' THEN 8 ELSE 4 END AS ma
        FROM (SELECT version() AS v) AS foo
      ) AS constants
      WHERE att.attnum > 0 AND tbl.relkind='r'
      GROUP BY 1,2,3,4,5
    ) AS foo
  ) AS rs
  ON cc.relname = rs.relname AND nn.nspname = rs.nspname
  LEFT JOIN pg_index i ON indrelid = cc.oid
  LEFT JOIN pg_class c2 ON c2.oid = i.indexrelid
) AS sml
 WHERE sml.relpages - otta > 10 OR ipages - iotta > 15`

//------------------------------------------------------------------------------
// section queries

const sqlReportCluster = `SELECT 'version' AS item, version() AS value
UNION ALL SELECT 'server_started', pg_postmaster_start_time()::text
UNION ALL SELECT 'in_recovery', pg_is_in_recovery()::text
UNION ALL SELECT 'data_directory', pgreport.setting('data_directory')
UNION ALL SELECT 'config_file', pgreport.setting('config_file')
UNION ALL SELECT 'hba_file', pgreport.setting('hba_file')
UNION ALL SELECT 'server_encoding', pgreport.setting('server_encoding')
UNION ALL SELECT 'shared_buffers', pgreport.setting('shared_buffers')
UNION ALL SELECT 'max_connections', pgreport.setting('max_connections')`

const sqlReportSettings = `SELECT name, setting, unit, source
  FROM pg_settings
 WHERE source NOT IN ('default', 'override')
 ORDER BY name`

const sqlReportExtensions = `SELECT e.extname, e.extversion,
       n.nspname AS schema
  FROM pg_extension e
  JOIN pg_namespace n ON n.oid = e.extnamespace
 ORDER BY e.extname`

const sqlReportDatabases = `SELECT d.datname,
       pg_get_userbyid(d.datdba) AS owner,
       pg_encoding_to_char(d.encoding) AS encoding,
       d.datcollate, d.datconnlimit,
       pg_size_pretty(pg_database_size(d.oid)) AS size
  FROM pg_database d
 WHERE NOT d.datistemplate
 ORDER BY pg_database_size(d.oid) DESC`

const sqlReportTablespaces = `SELECT spcname,
       pg_get_userbyid(spcowner) AS owner,
       pg_tablespace_location(oid) AS location,
       pg_size_pretty(pg_tablespace_size(oid)) AS size
  FROM pg_tablespace
 ORDER BY spcname`

const sqlReportRoles = `SELECT rolname, rolsuper, rolcreaterole,
       rolcreatedb, rolcanlogin, rolreplication, rolconnlimit,
       coalesce(rolvaliduntil::text, '') AS valid_until
  FROM pg_roles
 ORDER BY rolname`

const sqlReportSchemas = `SELECT n.nspname,
       pg_get_userbyid(n.nspowner) AS owner,
       count(c.oid) AS relations
  FROM pg_namespace n
  LEFT JOIN pg_class c ON c.relnamespace = n.oid
 WHERE n.nspname NOT LIKE 'pg\_%' AND n.nspname <> 'information_schema'
 GROUP BY n.nspname, n.nspowner
 ORDER BY n.nspname`

const sqlReportLargestTables = `SELECT n.nspname AS schema, c.relname AS table,
       pg_size_pretty(pg_table_size(c.oid)) AS table_size,
       pg_size_pretty(pg_indexes_size(c.oid)) AS index_size,
       pg_size_pretty(pg_total_relation_size(c.oid)) AS total_size
  FROM pg_class c
  JOIN pg_namespace n ON n.oid = c.relnamespace
 WHERE c.relkind IN ('r', 'm')
   AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pgreport')
 ORDER BY pg_total_relation_size(c.oid) DESC
 LIMIT 20`

const sqlReportUnusedIndexes = `SELECT s.schemaname AS schema,
       s.relname AS table, s.indexrelname AS index,
       pg_size_pretty(pg_relation_size(s.indexrelid)) AS size
  FROM pg_stat_user_indexes s
  JOIN pg_index i ON i.indexrelid = s.indexrelid
 WHERE s.idx_scan = 0
   AND NOT i.indisunique
   AND NOT i.indisprimary
 ORDER BY pg_relation_size(s.indexrelid) DESC`

const sqlReportDuplicateIndexes = `SELECT pg_size_pretty(sum(pg_relation_size(idx))::bigint) AS size,
       string_agg(idx::text, ', ') AS indexes
  FROM (SELECT indexrelid::regclass AS idx,
               (indrelid::text || E'\n' || indclass::text || E'\n' ||
                indkey::text || E'\n' || coalesce(indexprs::text, '') || E'\n' ||
                coalesce(indpred::text, '')) AS key
          FROM pg_index) sub
 GROUP BY key
HAVING count(*) > 1
 ORDER BY sum(pg_relation_size(idx)) DESC`

const sqlReportNoPK = `SELECT n.nspname AS schema, c.relname AS table
  FROM pg_class c
  JOIN pg_namespace n ON n.oid = c.relnamespace
 WHERE c.relkind = 'r'
   AND n.nspname NOT IN ('pg_catalog', 'information_schema')
   AND NOT EXISTS (SELECT 1 FROM pg_constraint x
                    WHERE x.conrelid = c.oid AND x.contype = 'p')
 ORDER BY n.nspname, c.relname`

const sqlReportTableBloat = `SELECT db, schemaname AS schema,
       tablename AS table, tbloat AS bloat_factor, wastedsize AS wasted
  FROM pgreport.bloat
 WHERE wastedbytes > 0
 ORDER BY wastedbytes DESC
 LIMIT 20`

const sqlReportIndexBloat = `SELECT db, schemaname AS schema,
       iname AS index, ibloat AS bloat_factor, wastedisize AS wasted
  FROM pgreport.bloat
 WHERE iname <> '?' AND wastedibytes > 0
 ORDER BY wastedibytes DESC
 LIMIT 20`

const sqlReportXIDAge = `SELECT datname, age(datfrozenxid) AS xid_age,
       round(100 * age(datfrozenxid)::numeric / 2147483647, 2) AS pct_towards_wraparound
  FROM pg_database
 ORDER BY age(datfrozenxid) DESC`

const sqlReportSlots = `SELECT slot_name, plugin, slot_type, database,
       active@temporary@, restart_lsn
  FROM pg_replication_slots
 ORDER BY slot_name`

func reportSlotsSQL(v Version) string {
	if v.AtLeast(10, 0) {
		return strings.Replace(sqlReportSlots, "@temporary@", ", temporary", 1)
	}
	return strings.Replace(sqlReportSlots, "@temporary@", "", 1)
}

const sqlReportBuffercache = `SELECT database, buffers, buffered
  FROM pgreport.buffercache
 ORDER BY buffers DESC`

type reportEntry struct {
	title       string
	buffercache bool
	sql         func(Version) string
}

// reportTab is the report, in the order it is printed. The database
// statistics, replication, WAL archiving and background writer sections
// share their statements with the pgcsvstat dump forms.
var reportTab = []reportEntry{
	{title: "Cluster information", sql: fixedRow(sqlReportCluster)},
	{title: "Non-default settings", sql: fixedRow(sqlReportSettings)},
	{title: "Installed extensions", sql: fixedRow(sqlReportExtensions)},
	{title: "Databases", sql: fixedRow(sqlReportDatabases)},
	{title: "Database statistics", sql: databaseRowSQL},
	{title: "Tablespaces", sql: fixedRow(sqlReportTablespaces)},
	{title: "Roles", sql: fixedRow(sqlReportRoles)},
	{title: "Schemas", sql: fixedRow(sqlReportSchemas)},
	{title: "Largest tables", sql: fixedRow(sqlReportLargestTables)},
	{title: "Unused indexes", sql: fixedRow(sqlReportUnusedIndexes)},
	{title: "Duplicate indexes", sql: fixedRow(sqlReportDuplicateIndexes)},
	{title: "Tables without primary keys", sql: fixedRow(sqlReportNoPK)},
	{title: "Table bloat", sql: fixedRow(sqlReportTableBloat)},
	{title: "Index bloat", sql: fixedRow(sqlReportIndexBloat)},
	{title: "Transaction ID age", sql: fixedRow(sqlReportXIDAge)},
	{title: "Replication", sql: replicationRowSQL},
	{title: "Replication slots", sql: reportSlotsSQL},
	{title: "WAL archiving", sql: fixedRow(sqlRowArchiver)},
	{title: "Background writer", sql: bgwriterRowSQL},
	{title: "Shared buffers usage by database", buffercache: true,
		sql: fixedRow(sqlReportBuffercache)},
}

// ReportSection is one titled query of the report, composed for a server
// version.
type ReportSection struct {
	Title       string
	SQL         string
	Buffercache bool // section reads the pg_buffercache extension
}

// ReportSections returns the report's sections in print order, with
// statements composed for version v.
func ReportSections(v Version) []ReportSection {
	out := make([]ReportSection, 0, len(reportTab))
	for _, e := range reportTab {
		out = append(out, ReportSection{
			Title:       e.title,
			SQL:         strings.TrimSpace(e.sql(v)),
			Buffercache: e.buffercache,
		})
	}
	return out
}

// ScriptTarget parses and validates pgreport's -s argument, the server
// version a script should be generated for.
func ScriptTarget(s string) (Version, error) {
	if !semver.IsValid("v" + s) {
		return Version{}, fmt.Errorf("bad server version %q", s)
	}
	v, err := ParseVersion(s)
	if err != nil {
		return Version{}, err
	}
	if !v.AtLeast(9, 6) {
		return Version{}, &VersionTooLowError{What: "reporting", Need: mkv(9, 6), Have: v}
	}
	return v, nil
}

// WriteReportScript emits a self-contained psql script for a server of
// version v: schema and helpers first, one \echo'd section per title,
// and a single teardown statement at the end. Nothing touches a server
// here; the script is meant to be carried to one.
func WriteReportScript(w io.Writer, v Version) {
	stmt := func(q string) {
		fmt.Fprintf(w, "%s;\n", strings.TrimSpace(q))
	}
	fmt.Fprintf(w, "-- PostgreSQL activity report, for a server of version %s\n", v)
	fmt.Fprintf(w, "-- run with: psql -d <database> -f <this file>\n\n")
	stmt(sqlReportSchemaDDL)
	stmt(sqlReportSettingFn)
	stmt(sqlReportBloatView)
	stmt(sqlCreateBuffercacheScript)
	stmt(sqlReportBuffercacheView)
	for _, s := range ReportSections(v) {
		fmt.Fprintf(w, "\n\\echo ===== %s =====\n", s.Title)
		stmt(s.SQL)
	}
	fmt.Fprintln(w)
	stmt(sqlReportTeardown)
}

// ReportTable is one executed section of the live report.
type ReportTable struct {
	Title string
	Cols  []string
	Rows  [][]string
}

// Report runs every section against the connected server and returns the
// result sets for rendering. The pgreport schema is dropped again on
// every path out of here. The buffer cache section is skipped when the
// pg_buffercache extension is neither installed nor installable.
func (c *Collector) Report(ctx context.Context) ([]ReportTable, error) {
	if !c.version.AtLeast(9, 6) {
		return nil, &VersionTooLowError{What: "reporting", Need: mkv(9, 6), Have: c.version}
	}

	if err := c.execDDL(ctx, sqlReportSchemaDDL); err != nil {
		return nil, err
	}
	defer c.reportTeardown()
	if err := c.execDDL(ctx, sqlReportSettingFn); err != nil {
		return nil, err
	}
	if err := c.execDDL(ctx, sqlReportBloatView); err != nil {
		return nil, err
	}

	hasBC, err := c.hasBuffercache(ctx)
	if err != nil {
		return nil, err
	}
	if !hasBC {
		// needs superuser or a suitably granted role; not having it only
		// costs the last section
		hasBC = c.execDDL(ctx, sqlCreateBuffercache) == nil
	}
	if hasBC {
		if err := c.execDDL(ctx, sqlReportBuffercacheView); err != nil {
			return nil, err
		}
	}

	var out []ReportTable
	for _, s := range ReportSections(c.version) {
		if s.Buffercache && !hasBC {
			continue
		}
		t, err := c.reportTable(ctx, s.Title, s.SQL)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Collector) execDDL(ctx context.Context, q string) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	c.echo(q)
	if _, err := c.db.ExecContext(qctx, q); err != nil {
		return queryErr(q, err)
	}
	return nil
}

// reportTeardown runs on its own context so the schema goes away even
// when the surrounding run was canceled.
func (c *Collector) reportTeardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.echo(sqlReportTeardown)
	if _, err := c.db.ExecContext(ctx, sqlReportTeardown); err != nil {
		log.Printf("warning: report cleanup failed: %v", err)
	}
}

func (c *Collector) hasBuffercache(ctx context.Context) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	c.echo(sqlBuffercacheExists)
	var n int
	if err := c.db.QueryRowContext(qctx, sqlBuffercacheExists).Scan(&n); err != nil {
		return false, queryErr(sqlBuffercacheExists, err)
	}
	return n > 0, nil
}

func (c *Collector) reportTable(ctx context.Context, title, q string) (ReportTable, error) {
	t := ReportTable{Title: title}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	c.echo(q)
	rows, err := c.db.QueryContext(qctx, q)
	if err != nil {
		return t, queryErr(q, err)
	}
	defer rows.Close()

	t.Cols, err = rows.Columns()
	if err != nil {
		return t, queryErr(q, err)
	}
	vals := make([]sql.NullString, len(t.Cols))
	ptrs := make([]interface{}, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return t, queryErr(q, err)
		}
		row := make([]string, len(vals))
		for i, v := range vals {
			row[i] = v.String
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return t, queryErr(q, err)
	}
	return t, nil
}
