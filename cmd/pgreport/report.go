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

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/gleu/pgstats-sub000/collector"
)

func writeReport(fd io.Writer, tables []collector.ReportTable) {
	for _, t := range tables {
		fmt.Fprintf(fd, "\n%s:\n", t.Title)
		if len(t.Rows) == 0 {
			fmt.Fprintln(fd, "    (nothing to report)")
			continue
		}
		if isKeyValue(t) {
			writeKeyValue(fd, t)
			continue
		}
		var tw tableWriter
		hdr := make([]interface{}, len(t.Cols))
		for i, c := range t.Cols {
			hdr[i] = c
		}
		tw.add(hdr...)
		for _, row := range t.Rows {
			vals := make([]interface{}, len(row))
			for i, v := range row {
				vals[i] = v
			}
			tw.add(vals...)
		}
		tw.write(fd, "    ")
	}
}

// isKeyValue spots the sections shaped as (item, value) pairs; those read
// better as plain aligned lines than as a bordered table.
func isKeyValue(t collector.ReportTable) bool {
	return len(t.Cols) == 2 && t.Cols[0] == "item" && t.Cols[1] == "value"
}

func writeKeyValue(fd io.Writer, t collector.ReportTable) {
	width := 0
	for _, row := range t.Rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}
	for _, row := range t.Rows {
		fmt.Fprintf(fd, "    %-*s  %s\n", width+1, row[0]+":", row[1])
	}
}

//------------------------------------------------------------------------------

type tableWriter struct {
	data [][]string
}

func (t *tableWriter) add(cols ...interface{}) {
	row := make([]string, len(cols))
	for i, c := range cols {
		row[i] = fmt.Sprintf("%v", c)
	}
	t.data = append(t.data, row)
}

func (t *tableWriter) cols() int {
	n := 0
	for _, row := range t.data {
		if n < len(row) {
			n = len(row)
		}
	}
	return n
}

func (t *tableWriter) write(fd io.Writer, pfx string) {
	if len(t.data) == 0 {
		return
	}
	ncols := t.cols()
	if ncols == 0 {
		return
	}
	// calculate widths
	widths := make([]int, ncols)
	for _, row := range t.data {
		for c, col := range row {
			if widths[c] < len(col) {
				widths[c] = len(col)
			}
		}
	}
	// print line
	line := func() {
		fmt.Fprintf(fd, "%s+", pfx)
		for _, w := range widths {
			fmt.Fprint(fd, strings.Repeat("-", w+2))
			fmt.Fprintf(fd, "+")
		}
		fmt.Fprintln(fd)
	}
	line()
	for i, row := range t.data {
		if i == 1 {
			line()
		}
		fmt.Fprintf(fd, "%s|", pfx)
		for c, col := range row {
			fmt.Fprintf(fd, " %*s |", widths[c], col)
		}
		fmt.Fprintln(fd)
	}
	line()
}
