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
	"strings"
	"syscall"
	"time"

	"github.com/howeyc/gopass"
	"github.com/pborman/getopt"

	pgstats "github.com/gleu/pgstats-sub000"
	"github.com/gleu/pgstats-sub000/collector"
)

const usage = `pgstat samples one PostgreSQL statistics domain at a fixed interval
and prints per-interval deltas, vmstat style.

Usage:
  pgstat -s STAT [OPTION]... [delay [count]]

Options:
  -s, --stat=STAT              statistics domain to sample, one of:
                                   %s
  -f, --filter=NAME            restrict the domain to one named object
  -H, --human-readable         report sizes through pg_size_pretty()
  -n, --no-header-redisplay    print the column header only once
  -v, --verbose                print each query before it runs
  -V, --version                output version information, then exit
  -?, --help[=variables]       show this help, then exit

Connection options:
  -h, --host=HOSTNAME          database server host or socket directory
                                   (default: "%s")
  -p, --port=PORT              database server port (default: %d)
  -U, --username=USERNAME      database user name (default: "%s")
  -d, --dbname=DBNAME          database to connect to, or a full
                                   connection string; "pgbouncer" targets
                                   the PgBouncer admin console
  -W, --password               prompt for a password

delay is the number of seconds between samples (default: 1), count the
number of samples to print before exiting (default: run until ^C).
`

const variables = `Environment variables:
Usage:
  NAME=VALUE [NAME=VALUE] pgstat ...

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
	stat        string
	filter      string
	human       bool
	noRedisplay bool
	verbose     bool
	passPrompt  bool
	help        string
	helpShort   bool
	version     bool

	domain   pgstats.Domain
	interval time.Duration
	count    uint
}

func (o *options) defaults() {
	o.ConnConfig = collector.DefaultConnConfig("pgstat")
	o.interval = time.Second
}

func domainList() string {
	names := make([]string, 0, len(collector.MonitorDomains()))
	for _, d := range collector.MonitorDomains() {
		names = append(names, d.String())
	}
	return strings.Join(names, ", ")
}

func (o *options) usage(code int) {
	fp := os.Stdout
	if code != 0 {
		fp = os.Stderr
	}
	if o.helpShort || code != 0 || o.help == "short" {
		fmt.Fprintf(fp, usage, domainList(), o.Host, o.Port, o.User)
	} else if o.help == "variables" {
		fmt.Fprint(fp, variables)
	}
	os.Exit(code)
}

func printTry() {
	fmt.Fprintf(os.Stderr, "Try \"pgstat --help\" for more information.\n")
}

func badUsage(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	printTry()
	os.Exit(1)
}

func (o *options) parse() {
	s := getopt.New()
	s.SetUsage(printTry)
	s.SetProgram("pgstat")
	s.StringVarLong(&o.stat, "stat", 's', "")
	s.StringVarLong(&o.filter, "filter", 'f', "")
	s.BoolVarLong(&o.human, "human-readable", 'H', "").SetFlag()
	s.BoolVarLong(&o.noRedisplay, "no-header-redisplay", 'n', "").SetFlag()
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
		fmt.Println("pgstat", version)
		os.Exit(0)
	}

	if o.Port == 0 {
		badUsage("port must be between 1 and 65535")
	}
	if len(o.stat) == 0 {
		badUsage("option -s/--stat is required")
	}
	d, ok := pgstats.ParseDomain(o.stat)
	if !ok || !monitorable(d) {
		badUsage("unknown stat %q", o.stat)
	}
	o.domain = d
	if len(o.filter) > 0 && !collector.Filterable(d) {
		badUsage("option -f/--filter is not supported for stat %q", o.stat)
	}

	// positional delay [count]
	args := s.Args()
	if len(args) > 2 {
		badUsage("too many arguments")
	}
	if len(args) >= 1 {
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs < 1 {
			badUsage("bad delay %q", args[0])
		}
		o.interval = time.Duration(secs) * time.Second
	}
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			badUsage("bad count %q", args[1])
		}
		o.count = uint(n)
	}
}

func monitorable(d pgstats.Domain) bool {
	for _, m := range collector.MonitorDomains() {
		if m == d {
			return true
		}
	}
	return false
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
	log.SetPrefix("pgstat: ")

	o.Verbose = o.verbose
	c, err := collector.Open(o.ConnConfig)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()
	c.Human = o.human
	c.Filter = o.filter

	// the pgbouncer console only answers SHOW commands, and a Postgres
	// server does not answer those at all
	if c.PgBouncer() && o.domain != pgstats.PBPools && o.domain != pgstats.PBStats {
		log.Fatalf("stat %q cannot be sampled from PgBouncer; use pbpools or pbstats", o.stat)
	}
	if !c.PgBouncer() && (o.domain == pgstats.PBPools || o.domain == pgstats.PBStats) {
		log.Fatalf("stat %q needs -d pgbouncer", o.stat)
	}

	smp, err := collector.NewSampler(c, o.domain, collector.SamplerConfig{
		Interval:          o.interval,
		Count:             o.count,
		NoHeaderRedisplay: o.noRedisplay,
		Out:               os.Stdout,
	})
	if err != nil {
		log.Fatal(err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGWINCH,
		syscall.SIGCONT)
	go func() {
		for sig := range sigc {
			switch sig {
			case syscall.SIGWINCH:
				smp.Resize()
			case syscall.SIGCONT:
				smp.Redisplay()
			default:
				smp.Stop()
			}
		}
	}()

	err = smp.Run(context.Background())
	c.Close()
	if err != nil {
		if errors.Is(err, collector.ErrInterrupted) {
			os.Exit(1)
		}
		log.Print(err)
		os.Exit(1)
	}
}
