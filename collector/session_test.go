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
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectTracerSetup(mock sqlmock.Sqlmock) {
	mock.ExpectExec("CREATE SCHEMA pgwaitevent").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TEMPORARY TABLE pgwaitevent_current").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE FUNCTION pgwaitevent.trace_wait_events_for_pid").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectTracerTeardown(mock sqlmock.Sqlmock) {
	mock.ExpectExec("DROP SCHEMA pgwaitevent CASCADE").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestTracerSetupAndTeardown(t *testing.T) {
	c, mock := mockCollector(t)
	expectTracerSetup(mock)

	tr, err := NewTracer(context.Background(), c, TracerConfig{PID: 12345})
	require.NoError(t, err)

	expectTracerTeardown(mock)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close()) // second close is a no-op
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failure halfway through the setup still drops the schema that made it
// in before the failure.
func TestTracerTeardownAfterSetupFailure(t *testing.T) {
	c, mock := mockCollector(t)
	mock.ExpectExec("CREATE SCHEMA pgwaitevent").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TEMPORARY TABLE pgwaitevent_current").
		WillReturnError(errors.New("out of memory"))
	expectTracerTeardown(mock)

	_, err := NewTracer(context.Background(), c, TracerConfig{PID: 12345})
	require.Error(t, err)
	var qerr *QueryError
	assert.ErrorAs(t, err, &qerr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// If even the schema could not be created there is nothing to drop.
func TestTracerNoTeardownWithoutSchema(t *testing.T) {
	c, mock := mockCollector(t)
	mock.ExpectExec("CREATE SCHEMA pgwaitevent").
		WillReturnError(errors.New("permission denied for database"))

	_, err := NewTracer(context.Background(), c, TracerConfig{PID: 12345})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Version gates fire before any DDL reaches the server.
func TestTracerVersionGates(t *testing.T) {
	c, mock := mockCollector(t)
	c.version = mkv(9, 5)
	_, err := NewTracer(context.Background(), c, TracerConfig{PID: 1})
	var low *VersionTooLowError
	require.ErrorAs(t, err, &low)
	assert.Equal(t, mkv(9, 6), low.Need)

	c.version = mkv(12, 4)
	_, err = NewTracer(context.Background(), c,
		TracerConfig{PID: 1, IncludeLeader: true})
	require.ErrorAs(t, err, &low)
	assert.Equal(t, mkv(13, 0), low.Need)
	assert.Contains(t, err.Error(), "13.0")

	// without -g the same server is fine
	expectTracerSetup(mock)
	tr, err := NewTracer(context.Background(), c, TracerConfig{PID: 1})
	require.NoError(t, err)
	expectTracerTeardown(mock)
	require.NoError(t, tr.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The helper's leader_pid branch only exists from 13.0 on; below 10.0 the
// backend_type check has to go too.
func TestTraceFnSQLByVersion(t *testing.T) {
	q := traceFnSQL(mkv(9, 6))
	assert.NotContains(t, q, "backend_type")
	assert.NotContains(t, q, "@")

	q = traceFnSQL(mkv(14, 0))
	assert.Contains(t, q, "backend_type")
	assert.Contains(t, q, "leader_pid")
	assert.NotContains(t, q, "@")
}

func TestTracerTargetGone(t *testing.T) {
	c, mock := mockCollector(t)
	expectTracerSetup(mock)
	var buf bytes.Buffer
	tr, err := NewTracer(context.Background(), c,
		TracerConfig{PID: 12345, Out: &buf})
	require.NoError(t, err)

	mock.ExpectQuery("FROM pg_stat_activity").WithArgs(12345).
		WillReturnRows(sqlmock.NewRows([]string{"state", "query", "query_start"}))
	err = tr.Run(context.Background())
	assert.ErrorIs(t, err, ErrTargetGone)
	assert.Empty(t, buf.String())

	expectTracerTeardown(mock)
	require.NoError(t, tr.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracerIdleTargetNotTraced(t *testing.T) {
	c, mock := mockCollector(t)
	expectTracerSetup(mock)
	var buf bytes.Buffer
	tr, err := NewTracer(context.Background(), c,
		TracerConfig{PID: 12345, Out: &buf})
	require.NoError(t, err)

	mock.ExpectQuery("FROM pg_stat_activity").WithArgs(12345).
		WillReturnRows(sqlmock.NewRows([]string{"state", "query", "query_start"}).
			AddRow("idle", "SELECT 1", time.Now()))
	mock.ExpectQuery("FROM pg_stat_activity").WithArgs(12345).
		WillReturnRows(sqlmock.NewRows([]string{"state", "query", "query_start"}))

	err = tr.Run(context.Background())
	assert.ErrorIs(t, err, ErrTargetGone)
	assert.Empty(t, buf.String())

	expectTracerTeardown(mock)
	require.NoError(t, tr.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracerHistogram(t *testing.T) {
	c, mock := mockCollector(t)
	expectTracerSetup(mock)
	var buf bytes.Buffer
	tr, err := NewTracer(context.Background(), c,
		TracerConfig{PID: 12345, Interval: 0.5, Out: &buf})
	require.NoError(t, err)

	mock.ExpectQuery("FROM pg_stat_activity").WithArgs(12345).
		WillReturnRows(sqlmock.NewRows([]string{"state", "query", "query_start"}).
			AddRow("active", "UPDATE t SET x = 1", time.Now()))
	mock.ExpectQuery("pgwaitevent.trace_wait_events_for_pid").
		WithArgs(12345, false, 0.5).
		WillReturnRows(sqlmock.NewRows([]string{"wait_event_type",
			"wait_event", "occurrences"}).
			AddRow("IO", "DataFileRead", int64(6)).
			AddRow("CPU", "", int64(4)))
	mock.ExpectQuery("FROM pg_stat_activity").WithArgs(12345).
		WillReturnRows(sqlmock.NewRows([]string{"state", "query", "query_start"}))

	err = tr.Run(context.Background())
	assert.ErrorIs(t, err, ErrTargetGone)

	out := buf.String()
	assert.Contains(t, out, "New query: UPDATE t SET x = 1")
	assert.Contains(t, out, "Query duration:")
	assert.Contains(t, out, "DataFileRead")
	assert.Contains(t, out, "60.00")
	assert.Contains(t, out, "40.00")
	assert.Less(t, strings.Index(out, "DataFileRead"), strings.Index(out, "CPU"),
		"events must come out in descending occurrence order")

	expectTracerTeardown(mock)
	require.NoError(t, tr.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The helper raises when the target went idle between the poll and the
// call; that only means there was nothing to trace this time around.
func TestTracerToleratesHelperRaise(t *testing.T) {
	c, mock := mockCollector(t)
	expectTracerSetup(mock)
	var buf bytes.Buffer
	tr, err := NewTracer(context.Background(), c,
		TracerConfig{PID: 12345, Out: &buf})
	require.NoError(t, err)

	mock.ExpectQuery("FROM pg_stat_activity").WithArgs(12345).
		WillReturnRows(sqlmock.NewRows([]string{"state", "query", "query_start"}).
			AddRow("active", "SELECT 1", time.Now()))
	mock.ExpectQuery("pgwaitevent.trace_wait_events_for_pid").
		WithArgs(12345, false, 1.0).
		WillReturnError(&pgconn.PgError{Code: "P0001",
			Message: "process 12345 is not running a query"})
	mock.ExpectQuery("FROM pg_stat_activity").WithArgs(12345).
		WillReturnRows(sqlmock.NewRows([]string{"state", "query", "query_start"}))

	err = tr.Run(context.Background())
	assert.ErrorIs(t, err, ErrTargetGone)
	assert.Empty(t, buf.String())

	expectTracerTeardown(mock)
	require.NoError(t, tr.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracerStop(t *testing.T) {
	c, mock := mockCollector(t)
	expectTracerSetup(mock)
	tr, err := NewTracer(context.Background(), c, TracerConfig{PID: 12345})
	require.NoError(t, err)

	tr.Stop()
	err = tr.Run(context.Background())
	assert.ErrorIs(t, err, ErrInterrupted)

	expectTracerTeardown(mock)
	require.NoError(t, tr.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
