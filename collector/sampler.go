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
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pgstats "github.com/gleu/pgstats-sub000"
	"golang.org/x/term"
)

// defaultWinLines is how many samples go between header reprints when the
// terminal height is unknown or small.
const defaultWinLines = 20

// SamplerConfig is the loop part of pgstat's command line.
type SamplerConfig struct {
	Interval          time.Duration
	Count             uint // 0 = run until interrupted
	NoHeaderRedisplay bool // -n
	Out               io.Writer
}

// Sampler runs the header/sample/sleep cycle of pgstat for one domain.
// Stop, Resize and Redisplay only set flags and are safe to call from
// signal handler goroutines; the loop acts on them at the top of each
// cycle.
type Sampler struct {
	c   *Collector
	st  stat
	cfg SamplerConfig

	resize    atomic.Bool
	redisplay atomic.Bool
	stopOnce  sync.Once
	stopped   chan struct{}

	winlines int
	hdrcnt   int
	printed  bool // at least one header went out already

	// rows reports the terminal height; tests substitute their own.
	rows func() (int, bool)
}

// NewSampler validates the domain against the connected server and
// prepares the loop. Domain/version mismatches surface here, before any
// sample is taken.
func NewSampler(c *Collector, d pgstats.Domain, cfg SamplerConfig) (*Sampler, error) {
	if _, err := MonitorSQL(d, c.version, c.renderOptions()); err != nil {
		return nil, err
	}
	st, err := newStat(d)
	if err != nil {
		return nil, err
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	s := &Sampler{
		c:        c,
		st:       st,
		cfg:      cfg,
		stopped:  make(chan struct{}),
		winlines: defaultWinLines,
		rows:     termRows,
	}
	s.updateWinLines()
	return s, nil
}

func termRows() (int, bool) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0, false
	}
	_, rows, err := term.GetSize(fd)
	if err != nil {
		return 0, false
	}
	return rows, true
}

// updateWinLines recomputes how many samples fit under one header: the
// terminal height minus the header and a spare line, but never fewer than
// defaultWinLines.
func (s *Sampler) updateWinLines() {
	rows, ok := s.rows()
	if !ok {
		return
	}
	if wl := rows - 3; wl > defaultWinLines {
		s.winlines = wl
	} else {
		s.winlines = defaultWinLines
	}
}

// Stop makes Run return ErrInterrupted before the next sample.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Resize makes the loop re-read the terminal size and reprint the header
// before the next sample.
func (s *Sampler) Resize() {
	s.resize.Store(true)
}

// Redisplay makes the loop reprint the header before the next sample
// (sent on SIGCONT, so the header comes back after a shell suspend).
func (s *Sampler) Redisplay() {
	s.redisplay.Store(true)
}

func (s *Sampler) stopRequested() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// Run samples until the count is exhausted (nil), Stop is called
// (ErrInterrupted), or a sample fails. The first header always prints;
// with NoHeaderRedisplay set it is also the last one.
func (s *Sampler) Run(ctx context.Context) error {
	var emitted uint
	for {
		if s.stopRequested() {
			return ErrInterrupted
		}
		if s.resize.Swap(false) {
			s.updateWinLines()
			s.hdrcnt = 0
		}
		if s.redisplay.Swap(false) {
			s.hdrcnt = 0
		}
		if s.hdrcnt <= 0 {
			if !s.printed || !s.cfg.NoHeaderRedisplay {
				s.st.header(s.cfg.Out)
				s.printed = true
			}
			s.hdrcnt = s.winlines
		}
		if err := s.st.sample(ctx, s.c, s.cfg.Out); err != nil {
			return err
		}
		s.hdrcnt--
		emitted++
		if s.cfg.Count > 0 && emitted >= s.cfg.Count {
			return nil
		}
		select {
		case <-time.After(s.cfg.Interval):
		case <-s.stopped:
			return ErrInterrupted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
