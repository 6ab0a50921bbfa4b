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
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptTarget(t *testing.T) {
	v, err := ScriptTarget("13.2")
	require.NoError(t, err)
	assert.Equal(t, mkv(13, 2), v)

	v, err = ScriptTarget("15")
	require.NoError(t, err)
	assert.Equal(t, mkv(15, 0), v)

	_, err = ScriptTarget("bogus")
	require.Error(t, err)
	_, err = ScriptTarget("13.2.1.9")
	require.Error(t, err)

	_, err = ScriptTarget("9.2")
	var low *VersionTooLowError
	require.ErrorAs(t, err, &low)
	assert.Equal(t, mkv(9, 6), low.Need)
}

// The script must stand on its own: helpers first, every section echoed
// in report order, one teardown at the very end.
func TestWriteReportScript(t *testing.T) {
	var buf bytes.Buffer
	WriteReportScript(&buf, mkv(14, 0))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "-- PostgreSQL activity report"))
	assert.True(t, strings.HasSuffix(out, "DROP SCHEMA pgreport CASCADE;\n"))
	assert.Equal(t, 1, strings.Count(out, "CREATE SCHEMA pgreport;"))
	assert.Equal(t, 1, strings.Count(out, "DROP SCHEMA pgreport CASCADE;"))
	assert.Contains(t, out, "CREATE EXTENSION IF NOT EXISTS pg_buffercache;")

	firstEcho := strings.Index(out, "\\echo")
	require.Greater(t, firstEcho, 0)
	assert.Less(t, strings.Index(out, "CREATE SCHEMA pgreport;"), firstEcho)
	assert.Less(t, strings.Index(out, "CREATE FUNCTION pgreport.setting"), firstEcho)
	assert.Less(t, strings.Index(out, "CREATE VIEW pgreport.bloat"), firstEcho)

	// sections appear exactly in report order
	prev := firstEcho - 1
	for _, s := range ReportSections(mkv(14, 0)) {
		marker := "\\echo ===== " + s.Title + " ====="
		idx := strings.Index(out, marker)
		require.Greaterf(t, idx, prev, "section %q out of order", s.Title)
		prev = idx
	}
	assert.Less(t, prev, strings.Index(out, "DROP SCHEMA pgreport CASCADE;"))
}

func TestReportSectionsByVersion(t *testing.T) {
	sections := ReportSections(mkv(14, 0))
	require.Len(t, sections, 20)
	assert.Equal(t, "Cluster information", sections[0].Title)
	assert.Equal(t, "Shared buffers usage by database", sections[19].Title)
	for _, s := range sections {
		assert.NotContainsf(t, s.SQL, "@", "unsubstituted marker in %q", s.Title)
	}

	bySlot := func(v Version) string {
		for _, s := range ReportSections(v) {
			if s.Title == "Replication slots" {
				return s.SQL
			}
		}
		return ""
	}
	assert.Contains(t, bySlot(mkv(14, 0)), "temporary")
	assert.NotContains(t, bySlot(mkv(9, 6)), "temporary")

	byTitle := func(v Version, title string) string {
		for _, s := range ReportSections(v) {
			if s.Title == title {
				return s.SQL
			}
		}
		return ""
	}
	assert.Contains(t, byTitle(mkv(17, 0), "Background writer"), "pg_stat_checkpointer")
	assert.NotContains(t, byTitle(mkv(14, 0), "Background writer"), "pg_stat_checkpointer")
}

func expectReportSetup(mock sqlmock.Sqlmock, buffercache bool) {
	mock.ExpectExec("CREATE SCHEMA pgreport").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE FUNCTION pgreport.setting").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE VIEW pgreport.bloat").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if buffercache {
		mock.ExpectQuery("FROM pg_extension").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectExec("CREATE VIEW pgreport.buffercache").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func expectReportTeardown(mock sqlmock.Sqlmock) {
	mock.ExpectExec("DROP SCHEMA pgreport CASCADE").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestReport(t *testing.T) {
	c, mock := mockCollector(t)
	expectReportSetup(mock, true)
	sections := ReportSections(c.version)
	for _, s := range sections {
		mock.ExpectQuery(regexp.QuoteMeta(s.SQL)).WillReturnRows(
			sqlmock.NewRows([]string{"item", "value"}).AddRow(s.Title, "x"))
	}
	expectReportTeardown(mock)

	tables, err := c.Report(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, len(sections))
	for i, s := range sections {
		assert.Equal(t, s.Title, tables[i].Title)
		assert.Equal(t, []string{"item", "value"}, tables[i].Cols)
		require.Len(t, tables[i].Rows, 1)
		assert.Equal(t, s.Title, tables[i].Rows[0][0])
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failing section drops the report schema on the way out.
func TestReportTeardownOnError(t *testing.T) {
	c, mock := mockCollector(t)
	expectReportSetup(mock, true)
	mock.ExpectQuery(regexp.QuoteMeta(ReportSections(c.version)[0].SQL)).
		WillReturnError(errors.New("statement timeout"))
	expectReportTeardown(mock)

	_, err := c.Report(context.Background())
	require.Error(t, err)
	var qerr *QueryError
	assert.ErrorAs(t, err, &qerr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Without pg_buffercache (and no right to install it) the last section is
// skipped rather than failing the whole report.
func TestReportWithoutBuffercache(t *testing.T) {
	c, mock := mockCollector(t)
	mock.ExpectExec("CREATE SCHEMA pgreport").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE FUNCTION pgreport.setting").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE VIEW pgreport.bloat").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM pg_extension").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("CREATE EXTENSION pg_buffercache").
		WillReturnError(errors.New("permission denied"))

	sections := ReportSections(c.version)
	for _, s := range sections {
		if s.Buffercache {
			continue
		}
		mock.ExpectQuery(regexp.QuoteMeta(s.SQL)).WillReturnRows(
			sqlmock.NewRows([]string{"item", "value"}).AddRow(s.Title, "x"))
	}
	expectReportTeardown(mock)

	tables, err := c.Report(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, len(sections)-1)
	for _, tab := range tables {
		assert.NotEqual(t, "Shared buffers usage by database", tab.Title)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportVersionGate(t *testing.T) {
	c, mock := mockCollector(t)
	c.version = mkv(9, 4)
	_, err := c.Report(context.Background())
	var low *VersionTooLowError
	require.ErrorAs(t, err, &low)
	assert.Equal(t, mkv(9, 6), low.Need)
	assert.NoError(t, mock.ExpectationsWereMet())
}
