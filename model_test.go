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

package pgstats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainString(t *testing.T) {
	cases := map[Domain]string{
		Archiver:          "archiver",
		BGWriter:          "bgwriter",
		DatabaseConflicts: "databaseconflicts",
		XLog:              "xlog",
		PBPools:           "pbpools",
		Statements:        "statements",
		FSM:               "fsm",
		Domain(-1):        "invalid",
		domainCount:       "invalid",
		domainCount + 10:  "invalid",
	}
	for d, want := range cases {
		assert.Equal(t, want, d.String())
	}
}

func TestParseDomain(t *testing.T) {
	d, ok := ParseDomain("bgwriter")
	assert.True(t, ok)
	assert.Equal(t, BGWriter, d)

	for _, s := range []string{"", "BGWriter", "bgwriter ", "nosuchdomain"} {
		_, ok := ParseDomain(s)
		assert.False(t, ok, "%q should not parse", s)
	}
}

func TestDomainRoundTrip(t *testing.T) {
	for d := Domain(0); d < domainCount; d++ {
		name := d.String()
		assert.NotEmpty(t, name)
		assert.NotEqual(t, "invalid", name)
		got, ok := ParseDomain(name)
		assert.True(t, ok, "%s should parse", name)
		assert.Equal(t, d, got)
	}
}
