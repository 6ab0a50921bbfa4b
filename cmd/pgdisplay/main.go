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
	"context"
	"fmt"
	"log"
	"os"

	humanize "github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/howeyc/gopass"
	"github.com/pborman/getopt"

	"github.com/gleu/pgstats-sub000/collector"
)

const usage = `pgdisplay draws a colored map of the free space of a PostgreSQL
relation, one cell per group of consecutive blocks: deep red cells are
full, light pink ones mostly empty.

Usage:
  pgdisplay -t TABLE [OPTION]...

Options:
  -t, --table=TABLE            relation to inspect (required)
  -G, --groups=N               number of block groups to fold the
                                   relation into (default: 20)
  -v, --verbose                print each query before it runs
  -V, --version                output version information, then exit
  -?, --help[=variables]       show this help, then exit

Connection options:
  -h, --host=HOSTNAME          database server host or socket directory
                                   (default: "%s")
  -p, --port=PORT              database server port (default: %d)
  -U, --username=USERNAME      database user name (default: "%s")
  -d, --dbname=DBNAME          database to connect to, or a full
                                   connection string
  -W, --password               prompt for a password

The pg_freespacemap extension is required; pgdisplay installs it if it
is missing and the connected role may do so.
`

const variables = `Environment variables:
Usage:
  NAME=VALUE [NAME=VALUE] pgdisplay ...

  PGDATABASE         the dbname connection parameter
  PGHOST             the host connection parameter
  PGPORT             the port connection parameter
  PGUSER             the user connection parameter
  PGPASSWORD         connection password (not recommended)
  PGPASSFILE         path to the pgpass password file
  PGSSLMODE          "disable", "require", "verify-ca", "verify-full"
  PGCONNECT_TIMEOUT  connection timeout in seconds
`

var version string // set during build

var ignoreEnvs = []string{
	"PGHOSTADDR", "PGSERVICE", "PGSERVICEFILE", "PGREALM", "PGREQUIRESSL",
	"PGSSLCRL", "PGREQUIREPEER", "PGKRBSRVNAME", "PGGSSLIB", "PGSYSCONFDIR",
	"PGLOCALEDIR",
}

type options struct {
	collector.ConnConfig
	table      string
	groups     int
	verbose    bool
	passPrompt bool
	help       string
	helpShort  bool
	version    bool
}

func (o *options) defaults() {
	o.ConnConfig = collector.DefaultConnConfig("pgdisplay")
	o.groups = 20
}

func (o *options) usage(code int) {
	fp := os.Stdout
	if code != 0 {
		fp = os.Stderr
	}
	if o.helpShort || code != 0 || o.help == "short" {
		fmt.Fprintf(fp, usage, o.Host, o.Port, o.User)
	} else if o.help == "variables" {
		fmt.Fprint(fp, variables)
	}
	os.Exit(code)
}

func printTry() {
	fmt.Fprintf(os.Stderr, "Try \"pgdisplay --help\" for more information.\n")
}

func badUsage(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	printTry()
	os.Exit(1)
}

func (o *options) parse() {
	s := getopt.New()
	s.SetUsage(printTry)
	s.SetProgram("pgdisplay")
	s.StringVarLong(&o.table, "table", 't', "")
	s.IntVarLong(&o.groups, "groups", 'G', "")
	s.BoolVarLong(&o.verbose, "verbose", 'v', "").SetFlag()
	help := s.StringVarLong(&o.help, "help", '?', "").SetOptional()
	s.BoolVarLong(&o.version, "version", 'V', "").SetFlag()
	s.StringVarLong(&o.Host, "host", 'h', "")
	s.Uint16VarLong(&o.Port, "port", 'p', "")
	s.StringVarLong(&o.User, "username", 'U', "")
	s.StringVarLong(&o.DBName, "dbname", 'd', "")
	s.BoolVarLong(&o.passPrompt, "password", 'W', "").SetFlag()
	s.Parse(os.Args)
	if help.Seen() && o.help == "" {
		o.help = "short"
	}

	if o.help != "" && o.help != "short" && o.help != "variables" {
		printTry()
		os.Exit(1)
	}
	if o.helpShort || o.help == "short" || o.help == "variables" {
		o.usage(0)
	}
	if o.version {
		if len(version) == 0 {
			version = "devel"
		}
		fmt.Println("pgdisplay", version)
		os.Exit(0)
	}

	if o.Port == 0 {
		badUsage("port must be between 1 and 65535")
	}
	if len(o.table) == 0 {
		badUsage("option -t/--table is required")
	}
	if o.groups < 1 {
		badUsage("option -G/--groups must be at least 1")
	}
	if len(s.Args()) > 0 {
		badUsage("too many arguments")
	}
}

func main() {
	for _, e := range ignoreEnvs {
		os.Unsetenv(e)
	}

	var o options
	o.defaults()
	o.parse()
	if o.passPrompt {
		fmt.Print("Password: ")
		p, err := gopass.GetPasswd()
		if err != nil {
			os.Exit(1)
		}
		o.Password = string(p)
	}

	log.SetFlags(0)
	log.SetPrefix("pgdisplay: ")

	o.Verbose = o.verbose
	c, err := collector.Open(o.ConnConfig)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()
	if c.PgBouncer() {
		log.Fatal("pgdisplay needs a PostgreSQL server, not PgBouncer")
	}

	m, err := c.FreeSpaceMap(context.Background(), o.table, o.groups)
	c.Close()
	if err != nil {
		log.Fatal(err)
	}
	display(m)
}

// display paints one background-colored cell per block group: red at 255
// throughout, green and blue scaled by how much free space the group has.
func display(m *collector.FreeSpaceMap) {
	fmt.Printf("Free space map of %q: %d pages, %s, block size %s\n",
		m.Table, m.Pages,
		humanize.IBytes(uint64(m.Pages*m.BlockSize)),
		humanize.IBytes(uint64(m.BlockSize)))
	if m.Pages == 0 {
		fmt.Println("(empty relation)")
		return
	}

	cell := make(map[int64]string, len(m.Groups))
	for _, g := range m.Groups {
		shade := collector.Shade(100 * g.AvgFree)
		cell[g.Group] = color.BgRGB(255, shade, shade).Sprint("   ")
	}
	// groups with no pg_freespace rows have no free space recorded at all
	full := color.BgRGB(255, 0, 0).Sprint("   ")

	ngroups := (m.Pages + m.PerGroup - 1) / m.PerGroup
	for i := int64(0); i < ngroups; i++ {
		if s, ok := cell[i]; ok {
			fmt.Print(s)
		} else {
			fmt.Print(full)
		}
	}
	fmt.Println()

	fmt.Printf("%d groups of %d blocks (%s each), average free space %.1f%%\n",
		ngroups, m.PerGroup,
		humanize.IBytes(uint64(m.PerGroup*m.BlockSize)),
		100*m.AvgFree())
}
