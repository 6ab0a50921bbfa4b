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
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/howeyc/gopass"
	"github.com/pborman/getopt"

	"github.com/gleu/pgstats-sub000/collector"
)

const usage = `pgcsvstat appends the current values of the PostgreSQL statistics
views to per-view CSV files, one data row per run.

Usage:
  pgcsvstat [OPTION]...

Options:
  -D, --directory=DIR          write the CSV files into DIR (default: ".")
  -q, --quiet                  never write CSV header rows
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

Each run appends one sample. Schedule it from cron and point your
favorite spreadsheet or plotting tool at the files.
`

const variables = `Environment variables:
Usage:
  NAME=VALUE [NAME=VALUE] pgcsvstat ...

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
	dir        string
	quiet      bool
	verbose    bool
	passPrompt bool
	help       string
	helpShort  bool
	version    bool
}

func (o *options) defaults() {
	o.ConnConfig = collector.DefaultConnConfig("pgcsvstat")
	o.dir = "."
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
	fmt.Fprintf(os.Stderr, "Try \"pgcsvstat --help\" for more information.\n")
}

func badUsage(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	printTry()
	os.Exit(1)
}

func (o *options) parse() {
	s := getopt.New()
	s.SetUsage(printTry)
	s.SetProgram("pgcsvstat")
	s.StringVarLong(&o.dir, "directory", 'D', "")
	s.BoolVarLong(&o.quiet, "quiet", 'q', "").SetFlag()
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
		fmt.Println("pgcsvstat", version)
		os.Exit(0)
	}

	if o.Port == 0 {
		badUsage("port must be between 1 and 65535")
	}
	if len(o.dir) == 0 {
		badUsage("option -D/--directory needs a value")
	}
	if fi, err := os.Stat(o.dir); err != nil || !fi.IsDir() {
		badUsage("%q is not a directory", o.dir)
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
	log.SetPrefix("pgcsvstat: ")

	o.Verbose = o.verbose
	c, err := collector.Open(o.ConnConfig)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()
	if c.PgBouncer() {
		log.Fatal("pgcsvstat needs a PostgreSQL server, not PgBouncer")
	}

	err = c.Snapshot(context.Background(), collector.SnapshotOptions{
		Dir:   o.dir,
		Quiet: o.quiet,
	})
	c.Close()
	if err != nil {
		log.Print(err)
		var qerr *collector.QueryError
		if errors.As(err, &qerr) {
			os.Exit(-1)
		}
		os.Exit(1)
	}
}
