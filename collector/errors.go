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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTargetGone is returned by the tracer when the backend it is watching
// no longer appears in pg_stat_activity. pgwaitevent exits with status 2
// on this one.
var ErrTargetGone = errors.New("target backend is gone")

// ErrInterrupted is returned by the sampler loop when a SIGINT was seen
// between samples.
var ErrInterrupted = errors.New("interrupted")

// QueryError wraps a failed statement together with its text, so the
// operator can see exactly what was sent to the server.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	msg := e.Err.Error()
	if pgerr, ok := e.Err.(*pgconn.PgError); ok {
		msg = pgerr.Message
	}
	return fmt.Sprintf("query failed: %s\nquery was: %s", msg, e.SQL)
}

func (e *QueryError) Unwrap() error { return e.Err }

func queryErr(q string, err error) error {
	return &QueryError{SQL: q, Err: err}
}

// VersionTooLowError reports that the server is older than what a
// requested domain or option needs.
type VersionTooLowError struct {
	What string
	Need Version
	Have Version
}

func (e *VersionTooLowError) Error() string {
	return fmt.Sprintf("%s requires PostgreSQL %s or later, server is %s",
		e.What, e.Need, e.Have)
}

// VersionUnavailableError reports that the server's version string could
// not be understood.
type VersionUnavailableError struct {
	Raw string
}

func (e *VersionUnavailableError) Error() string {
	return fmt.Sprintf("cannot make sense of server version %q", e.Raw)
}
