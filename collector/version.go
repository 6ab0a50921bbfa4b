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
	"strconv"
	"strings"
)

// Version is a Postgres server version reduced to the pair that matters
// for feature gating. For servers before v10 the pair is the two-part
// major ("9.6"); v10 onwards Minor is the release ("14.5" gates the same
// as "14.0").
type Version struct {
	Major int
	Minor int
}

// ParseVersion extracts a Version from the server_version setting.
// Development and beta versions ("13beta1", "16devel") gate like the .0
// release. Anything without a leading number is a VersionUnavailableError.
func ParseVersion(raw string) (Version, error) {
	s := strings.TrimSpace(raw)
	major, rest, ok := leadingInt(s)
	if !ok {
		return Version{}, &VersionUnavailableError{Raw: raw}
	}
	var minor int
	if strings.HasPrefix(rest, ".") {
		minor, _, _ = leadingInt(rest[1:])
	}
	return Version{Major: major, Minor: minor}, nil
}

func leadingInt(s string) (n int, rest string, ok bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s, false
	}
	return n, s[i:], true
}

// AtLeast reports whether the server is at or above the given version.
// This is the single predicate every version-dependent query template
// hangs off.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// mkv is a convenience for literals in the catalog tables.
func mkv(major, minor int) Version {
	return Version{Major: major, Minor: minor}
}
