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
	"os/exec"

	"github.com/howeyc/gopass"
	"github.com/pborman/getopt"
	"golang.org/x/term"

	"github.com/gleu/pgstats-sub000/collector"
)

const usage = `pgreport renders a report of the cluster, database and schema state
of a PostgreSQL server.

Usage:
  pgreport [OPTION]...

Options:
  -s, --script=VERSION         don't connect; write an SQL script for a
                                   server of the given version (e.g. 13.0)
                                   to stdout, to be replayed with psql -f
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
`

const variables = `Environment variables:
Usage:
  NAME=VALUE [NAME=VALUE] pgreport ...

  PAGER              name of external pager program
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
	script     string
	verbose    bool
	passPrompt bool
	help       string
	helpShort  bool
	version    bool
}

func (o *options) defaults() {
	o.ConnConfig = collector.DefaultConnConfig("pgreport")
	// the bloat and size queries can be slow on big catalogs
	o.TimeoutSec = 300
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
	fmt.Fprintf(os.Stderr, "Try \"pgreport --help\" for more information.\n")
}

func badUsage(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	printTry()
	os.Exit(1)
}

func (o *options) parse() {
	s := getopt.New()
	s.SetUsage(printTry)
	s.SetProgram("pgreport")
	s.StringVarLong(&o.script, "script", 's', "")
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
		fmt.Println("pgreport", version)
		os.Exit(0)
	}

	if o.Port == 0 {
		badUsage("port must be between 1 and 65535")
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

	log.SetFlags(0)
	log.SetPrefix("pgreport: ")

	// script mode runs without a server; the -s argument stands in for
	// the version the gate would have fetched
	if len(o.script) > 0 {
		v, err := collector.ScriptTarget(o.script)
		if err != nil {
			log.Print(err)
			printTry()
			os.Exit(1)
		}
		collector.WriteReportScript(os.Stdout, v)
		return
	}

	if o.passPrompt {
		fmt.Print("Password: ")
		p, err := gopass.GetPasswd()
		if err != nil {
			os.Exit(1)
		}
		o.Password = string(p)
	}

	o.Verbose = o.verbose
	c, err := collector.Open(o.ConnConfig)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()
	if c.PgBouncer() {
		log.Fatal("pgreport needs a PostgreSQL server, not PgBouncer")
	}

	tables, err := c.Report(context.Background())
	c.Close()
	if err != nil {
		log.Fatal(err)
	}
	render(tables)
}

// render writes the report through $PAGER (or less/more) when stdout is
// a terminal, straight to stdout otherwise.
func render(tables []collector.ReportTable) {
	pager := os.Getenv("PAGER")
	if pager == "" {
		if _, err := exec.LookPath("less"); err == nil {
			pager = "less"
		} else if _, err := exec.LookPath("more"); err == nil {
			pager = "more"
		}
	}
	if pager == "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		writeReport(os.Stdout, tables)
		return
	}

	cmd := exec.Command(pager)
	pagerStdin, err := cmd.StdinPipe()
	if err != nil {
		log.Fatal(err)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
	writeReport(pagerStdin, tables)
	pagerStdin.Close()
	cmd.Wait()
}
