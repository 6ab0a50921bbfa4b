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
	"os/signal"
	"strconv"
	"syscall"

	"github.com/howeyc/gopass"
	"github.com/pborman/getopt"

	"github.com/gleu/pgstats-sub000/collector"
)

const usage = `pgwaitevent watches one PostgreSQL backend and prints, for every
query it runs, a histogram of the wait events seen while the query was
executing.

Usage:
  pgwaitevent [OPTION]... PID

Options:
  -g, --group-leader           also count the parallel workers of PID
                                   (needs PostgreSQL 13 or later)
  -i, --interval=SECS          sampling interval in seconds, fractions
                                   allowed (default: 1.0)
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

PID is the process id of the backend to watch, as reported by
pg_stat_activity or pg_backend_pid(). pgwaitevent installs a small
tracing function on the server and removes it again on exit, ^C
included. Exits with status 2 once PID is gone.
`

const variables = `Environment variables:
Usage:
  NAME=VALUE [NAME=VALUE] pgwaitevent ...

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
	leader     bool
	interval   float64
	verbose    bool
	passPrompt bool
	help       string
	helpShort  bool
	version    bool

	pid int
}

func (o *options) defaults() {
	o.ConnConfig = collector.DefaultConnConfig("pgwaitevent")
	// the tracing function runs for as long as the traced query does, so
	// no statement timeout here
	o.TimeoutSec = 0
	o.interval = 1.0
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
	fmt.Fprintf(os.Stderr, "Try \"pgwaitevent --help\" for more information.\n")
}

func badUsage(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	printTry()
	os.Exit(1)
}

func (o *options) parse() {
	s := getopt.New()
	s.SetUsage(printTry)
	s.SetProgram("pgwaitevent")
	s.BoolVarLong(&o.leader, "group-leader", 'g', "").SetFlag()
	interval := s.StringLong("interval", 'i', "")
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
		fmt.Println("pgwaitevent", version)
		os.Exit(0)
	}

	if o.Port == 0 {
		badUsage("port must be between 1 and 65535")
	}
	if len(*interval) > 0 {
		f, err := strconv.ParseFloat(*interval, 64)
		if err != nil || f <= 0 {
			badUsage("bad interval %q", *interval)
		}
		o.interval = f
	}

	args := s.Args()
	if len(args) == 0 {
		badUsage("the PID to watch is required")
	}
	if len(args) > 1 {
		badUsage("too many arguments")
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil || pid <= 0 {
		badUsage("bad PID %q", args[0])
	}
	o.pid = pid
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
	log.SetPrefix("pgwaitevent: ")

	o.Verbose = o.verbose
	c, err := collector.Open(o.ConnConfig)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()
	if c.PgBouncer() {
		log.Fatal("pgwaitevent needs a PostgreSQL server, not PgBouncer")
	}

	ctx := context.Background()
	t, err := collector.NewTracer(ctx, c, collector.TracerConfig{
		PID:           o.pid,
		IncludeLeader: o.leader,
		Interval:      o.interval,
		Out:           os.Stdout,
	})
	if err != nil {
		c.Close()
		log.Fatal(err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		t.Stop()
	}()

	fmt.Printf("Tracing wait events for PID %d, ^C to quit\n", o.pid)
	err = t.Run(ctx)

	// the schema and the helper function must not outlive the run,
	// whichever way it ended
	if cerr := t.Close(); cerr != nil {
		log.Print(cerr)
	}
	c.Close()

	switch {
	case errors.Is(err, collector.ErrTargetGone):
		log.Printf("process %d is gone, exiting", o.pid)
		os.Exit(2)
	case errors.Is(err, collector.ErrInterrupted):
		os.Exit(1)
	case err != nil:
		log.Print(err)
		os.Exit(1)
	}
}
