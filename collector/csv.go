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
	"bufio"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	pgstats "github.com/gleu/pgstats-sub000"
)

// SnapshotOptions is pgcsvstat's command line.
type SnapshotOptions struct {
	Dir   string // -D, default "."
	Quiet bool   // -q: never write header rows
}

// Snapshot appends one sample of every statistics view the connected
// server supports to per-view CSV files under opt.Dir. Views the server
// is too old for are skipped, as is pg_stat_statements when the
// extension is not installed in the current database.
func (c *Collector) Snapshot(ctx context.Context, opt SnapshotOptions) error {
	if opt.Dir == "" {
		opt.Dir = "."
	}
	for _, d := range SnapshotDomains() {
		if err := c.snapshotOne(ctx, d, opt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) snapshotOne(ctx context.Context, d pgstats.Domain, opt SnapshotOptions) error {
	q, err := SnapshotSQL(d, c.version)
	if err != nil {
		var low *VersionTooLowError
		if errors.As(err, &low) {
			return nil // view not present on this server
		}
		return err
	}
	if needsPGSS(d) {
		ok, err := c.HasPGStatStatements(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	// stat before open: the header goes in only when nothing was there
	// before this process touched the file
	path := filepath.Join(opt.Dir, CSVName(d))
	header := false
	if fi, err := os.Stat(path); err == nil {
		header = fi.Size() == 0
	} else if os.IsNotExist(err) {
		header = true
	} else {
		return err
	}
	if opt.Quiet {
		header = false
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	err = c.appendCSV(ctx, f, q, header)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// appendCSV runs q and writes its result set to w, one `;`-separated
// LF-terminated line per row, NULLs as empty fields, values verbatim.
// The dump statements pre-clean the only text column that could carry a
// separator or newline.
func (c *Collector) appendCSV(ctx context.Context, f *os.File, q string, header bool) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	c.echo(q)
	rows, err := c.db.QueryContext(qctx, q)
	if err != nil {
		return queryErr(q, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return queryErr(q, err)
	}

	w := bufio.NewWriter(f)
	if header {
		w.WriteString(strings.Join(cols, ";"))
		w.WriteByte('\n')
	}

	vals := make([]sql.NullString, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return queryErr(q, err)
		}
		for i, v := range vals {
			if i > 0 {
				w.WriteByte(';')
			}
			if v.Valid {
				w.WriteString(v.String)
			}
		}
		w.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		return queryErr(q, err)
	}
	return w.Flush()
}
