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

	pgstats "github.com/gleu/pgstats-sub000"
)

const sqlFSMExists = `SELECT COUNT(*) FROM pg_extension
  WHERE extname = 'pg_freespacemap'`

const sqlCreateFSM = `CREATE EXTENSION pg_freespacemap`

const sqlFSMPages = `SELECT pg_relation_size($1::regclass) / current_setting('block_size')::bigint,
       current_setting('block_size')::bigint`

// avail is what the free space map tracks for a page, so avg_free is a
// ratio in 0..1 per group of consecutive blocks.
const sqlFSMGroups = `SELECT blkno / $2 AS grp, count(*) AS blocks,
       avg(avail)::float8 / current_setting('block_size')::float8 AS avg_free
  FROM pg_freespace($1::regclass)
 GROUP BY 1
 ORDER BY 1`

// FreeSpaceMap is a relation's free space map folded into a bounded
// number of block groups, ready for pgdisplay to render.
type FreeSpaceMap struct {
	Table     string
	Pages     int64
	BlockSize int64
	PerGroup  int64 // blocks folded into one group
	Groups    []pgstats.FreeSpaceGroup
}

// AvgFree is the blocks-weighted average free ratio over the whole
// relation, in 0..1.
func (m *FreeSpaceMap) AvgFree() float64 {
	var blocks int64
	var free float64
	for _, g := range m.Groups {
		blocks += g.Blocks
		free += float64(g.Blocks) * g.AvgFree
	}
	if blocks == 0 {
		return 0
	}
	return free / float64(blocks)
}

// FreeSpaceMap reads the free space map of table, folded into at most
// groups groups. The pg_freespacemap extension is required; if it is not
// installed yet an install is attempted first.
func (c *Collector) FreeSpaceMap(ctx context.Context, table string, groups int) (*FreeSpaceMap, error) {
	if !c.version.AtLeast(9, 2) {
		return nil, &VersionTooLowError{What: "free space inspection", Need: mkv(9, 2), Have: c.version}
	}
	if groups < 1 {
		groups = 1
	}

	ok, err := c.hasFreespacemap(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := c.execDDL(ctx, sqlCreateFSM); err != nil {
			return nil, fmt.Errorf("extension pg_freespacemap is not installed and could not be created: %w", err)
		}
	}

	m := &FreeSpaceMap{Table: table}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	c.echo(sqlFSMPages)
	if err := c.db.QueryRowContext(qctx, sqlFSMPages, table).
		Scan(&m.Pages, &m.BlockSize); err != nil {
		return nil, queryErr(sqlFSMPages, err)
	}

	m.PerGroup = (m.Pages + int64(groups) - 1) / int64(groups)
	if m.PerGroup < 1 {
		m.PerGroup = 1
	}

	c.echo(sqlFSMGroups)
	rows, err := c.db.QueryContext(qctx, sqlFSMGroups, table, m.PerGroup)
	if err != nil {
		return nil, queryErr(sqlFSMGroups, err)
	}
	defer rows.Close()
	for rows.Next() {
		var g pgstats.FreeSpaceGroup
		if err := rows.Scan(&g.Group, &g.Blocks, &g.AvgFree); err != nil {
			return nil, queryErr(sqlFSMGroups, err)
		}
		m.Groups = append(m.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(sqlFSMGroups, err)
	}
	return m, nil
}

func (c *Collector) hasFreespacemap(ctx context.Context) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	c.echo(sqlFSMExists)
	var n int
	if err := c.db.QueryRowContext(qctx, sqlFSMExists).Scan(&n); err != nil {
		return false, queryErr(sqlFSMExists, err)
	}
	return n > 0, nil
}

// Shade maps a group's free percentage (0..100) to the green and blue
// components of its cell color; red stays at 255. Full blocks come out
// deep red, empty ones light pink. Clamped into 0..180.
func Shade(freePct float64) int {
	s := int(1.8 * freePct)
	if s < 0 {
		return 0
	}
	if s > 180 {
		return 180
	}
	return s
}
