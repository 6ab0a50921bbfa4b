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
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgstats "github.com/gleu/pgstats-sub000"
)

func archiverSnapshotRows(archived int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"archived_count", "last_archived_wal",
		"stats_reset"}).AddRow(archived, "000000010000000000000042", nil)
}

// A fresh file gets the header; appending to a file with content does not
// repeat it.
func TestSnapshotHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	c, mock := mockCollector(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM pg_stat_archiver").
		WillReturnRows(archiverSnapshotRows(42))
	require.NoError(t, c.snapshotOne(ctx, pgstats.Archiver, SnapshotOptions{Dir: dir}))

	path := filepath.Join(dir, "pg_stat_archiver.csv")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"archived_count;last_archived_wal;stats_reset\n"+
			"42;000000010000000000000042;\n",
		string(b))

	mock.ExpectQuery("FROM pg_stat_archiver").
		WillReturnRows(archiverSnapshotRows(43))
	require.NoError(t, c.snapshotOne(ctx, pgstats.Archiver, SnapshotOptions{Dir: dir}))

	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"archived_count;last_archived_wal;stats_reset\n"+
			"42;000000010000000000000042;\n"+
			"43;000000010000000000000042;\n",
		string(b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An existing but empty file counts as fresh.
func TestSnapshotHeaderIntoEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pg_stat_archiver.csv")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	c, mock := mockCollector(t)
	mock.ExpectQuery("FROM pg_stat_archiver").
		WillReturnRows(archiverSnapshotRows(1))
	require.NoError(t, c.snapshotOne(context.Background(), pgstats.Archiver,
		SnapshotOptions{Dir: dir}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "archived_count;last_archived_wal;stats_reset\n1;000000010000000000000042;\n",
		string(b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Rows written by an earlier process suppress the header even when the
// columns would have fit.
func TestSnapshotNoHeaderIntoUsedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pg_stat_archiver.csv")
	require.NoError(t, os.WriteFile(path, []byte("1;x;\n"), 0644))

	c, mock := mockCollector(t)
	mock.ExpectQuery("FROM pg_stat_archiver").
		WillReturnRows(archiverSnapshotRows(2))
	require.NoError(t, c.snapshotOne(context.Background(), pgstats.Archiver,
		SnapshotOptions{Dir: dir}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1;x;\n2;000000010000000000000042;\n", string(b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotQuiet(t *testing.T) {
	dir := t.TempDir()
	c, mock := mockCollector(t)
	mock.ExpectQuery("FROM pg_stat_archiver").
		WillReturnRows(archiverSnapshotRows(7))
	require.NoError(t, c.snapshotOne(context.Background(), pgstats.Archiver,
		SnapshotOptions{Dir: dir, Quiet: true}))

	b, err := os.ReadFile(filepath.Join(dir, "pg_stat_archiver.csv"))
	require.NoError(t, err)
	assert.Equal(t, "7;000000010000000000000042;\n", string(b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotMultiRow(t *testing.T) {
	dir := t.TempDir()
	c, mock := mockCollector(t)
	mock.ExpectQuery("FROM pg_stat_slru").WillReturnRows(
		sqlmock.NewRows([]string{"name", "blks_hit"}).
			AddRow("multixact_member", int64(10)).
			AddRow("notify", nil))
	require.NoError(t, c.snapshotOne(context.Background(), pgstats.SLRU,
		SnapshotOptions{Dir: dir}))

	b, err := os.ReadFile(filepath.Join(dir, "pg_stat_slru.csv"))
	require.NoError(t, err)
	assert.Equal(t, "name;blks_hit\nmultixact_member;10\nnotify;\n", string(b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Views the server does not have yet are skipped without an error and
// without leaving a file behind.
func TestSnapshotSkipsUnsupportedView(t *testing.T) {
	dir := t.TempDir()
	c, mock := mockCollector(t)
	c.version = mkv(9, 6)

	require.NoError(t, c.snapshotOne(context.Background(),
		pgstats.ReplicationSlots, SnapshotOptions{Dir: dir}))
	_, err := os.Stat(filepath.Join(dir, "pg_stat_replication_slots.csv"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotSkipsStatementsWithoutExtension(t *testing.T) {
	dir := t.TempDir()
	c, mock := mockCollector(t)
	mock.ExpectQuery("FROM pg_extension").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	require.NoError(t, c.snapshotOne(context.Background(), pgstats.Statements,
		SnapshotOptions{Dir: dir}))
	_, err := os.Stat(filepath.Join(dir, "pg_stat_statements.csv"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A query failure surfaces as a QueryError and stops the whole dump.
func TestSnapshotPropagatesQueryError(t *testing.T) {
	dir := t.TempDir()
	c, mock := mockCollector(t)
	mock.ExpectQuery("FROM pg_stat_archiver").
		WillReturnError(os.ErrDeadlineExceeded)

	err := c.Snapshot(context.Background(), SnapshotOptions{Dir: dir})
	require.Error(t, err)
	var qerr *QueryError
	assert.ErrorAs(t, err, &qerr)
	assert.NoError(t, mock.ExpectationsWereMet())
}
