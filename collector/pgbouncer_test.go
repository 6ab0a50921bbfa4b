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
	"database/sql/driver"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgstats "github.com/gleu/pgstats-sub000"
)

func mockBouncer(t *testing.T) (*Collector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Collector{db: db, mode: modePgBouncer}, mock
}

// The 1.16/1.17 console layout: 13 columns, one cancel counter between
// the client and server blocks.
func poolRows116() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"database", "user", "cl_active",
		"cl_waiting", "cl_cancel_req", "sv_active", "sv_idle", "sv_used",
		"sv_tested", "sv_login", "maxwait", "maxwait_us", "pool_mode"})
}

func TestPBPools(t *testing.T) {
	c, mock := mockBouncer(t)
	st, err := newStat(pgstats.PBPools)
	require.NoError(t, err)

	mock.ExpectQuery("SHOW POOLS").WillReturnRows(poolRows116().
		AddRow("app", "web", int64(4), int64(1), int64(0), int64(3),
			int64(2), int64(5), int64(0), int64(0), int64(0), 250000.0, "transaction").
		AddRow("pgbouncer", "pgbouncer", int64(1), int64(0), int64(0),
			int64(0), int64(0), int64(0), int64(0), int64(0), int64(1), 500000.0, "statement"))

	var buf bytes.Buffer
	require.NoError(t, st.sample(context.Background(), c, &buf))
	assert.Equal(t,
		fmt.Sprintf("%8d %7d %8d %7d %7d %7d %7d %9.3f\n",
			5, 1, 3, 2, 5, 0, 0, 1.5),
		buf.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPBPoolsUnknownLayout(t *testing.T) {
	c, mock := mockBouncer(t)
	st, err := newStat(pgstats.PBPools)
	require.NoError(t, err)

	mock.ExpectQuery("SHOW POOLS").WillReturnRows(
		sqlmock.NewRows([]string{"database", "user", "cl_active"}).
			AddRow("app", "web", int64(1)))
	var buf bytes.Buffer
	err = st.sample(context.Background(), c, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported number of columns")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func statsCols115() []string {
	return []string{"database", "total_xact_count", "total_query_count",
		"total_received", "total_sent", "total_xact_time",
		"total_query_time", "total_wait_time", "avg_xact_count",
		"avg_query_count", "avg_recv", "avg_sent", "avg_xact_time",
		"avg_query_time", "avg_wait_time"}
}

func statsRow(xacts, queries, received, sent, xactT, queryT, waitT int64) []driver.Value {
	row := []driver.Value{"app", xacts, queries, received, sent, xactT,
		queryT, waitT}
	for i := 0; i < 7; i++ {
		row = append(row, 0.0)
	}
	return row
}

func TestPBStatsDelta(t *testing.T) {
	c, mock := mockBouncer(t)
	st, err := newStat(pgstats.PBStats)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectQuery("SHOW STATS").WillReturnRows(
		sqlmock.NewRows(statsCols115()).
			AddRow(statsRow(100, 1000, 4096, 8192, 2000000, 1500000, 500000)...))
	var buf bytes.Buffer
	require.NoError(t, st.sample(ctx, c, &buf))
	assert.Equal(t,
		fmt.Sprintf("%8d %7d %11s %11s %7.1f %7.1f %7.1f\n",
			100, 1000, "4096", "8192", 2.0, 1.5, 0.5),
		buf.String())

	buf.Reset()
	mock.ExpectQuery("SHOW STATS").WillReturnRows(
		sqlmock.NewRows(statsCols115()).
			AddRow(statsRow(150, 1600, 6144, 12288, 3000000, 2100000, 700000)...))
	require.NoError(t, st.sample(ctx, c, &buf))
	assert.Equal(t,
		fmt.Sprintf("%8d %7d %11s %11s %7.1f %7.1f %7.1f\n",
			50, 600, "2048", "4096", 1.0, 0.6, 0.2),
		buf.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
