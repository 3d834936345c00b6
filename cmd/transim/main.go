// transim runs the demo sequence through the transition engine on the
// simulated bus and prints the face as ASCII.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/wordclock/internal/brightness"
	"github.com/coreman2200/wordclock/internal/curve"
	"github.com/coreman2200/wordclock/internal/demo"
	"github.com/coreman2200/wordclock/internal/grid"
	"github.com/coreman2200/wordclock/internal/led"
	"github.com/coreman2200/wordclock/internal/transition"
)

const ramp = " .:-=+*#%@"

func main() {
	var (
		script   string
		interval time.Duration
		duration time.Duration
		runFor   time.Duration
		fps      int
		fadeIn   string
		fadeOut  string
		capacity int
		verbose  bool
	)
	flag.StringVar(&script, "script", "", "Lua demo script; empty uses the built-in frames")
	flag.DurationVar(&interval, "interval", 3*time.Second, "time between demo frames")
	flag.DurationVar(&duration, "duration", transition.DefaultDuration, "transition duration")
	flag.DurationVar(&runFor, "for", 30*time.Second, "stop after this long")
	flag.IntVar(&fps, "fps", 10, "print rate")
	flag.StringVar(&fadeIn, "fade-in", "ease_in", "fade in curve")
	flag.StringVar(&fadeOut, "fade-out", "ease_out", "fade out curve")
	flag.IntVar(&capacity, "capacity", transition.DefaultCapacity, "concurrent transitions")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	in, err := curve.Parse(fadeIn)
	if err != nil {
		log.Fatal().Err(err).Msg("fade-in")
	}
	out, err := curve.Parse(fadeOut)
	if err != nil {
		log.Fatal().Err(err).Msg("fade-out")
	}

	frames := demo.Frames(demo.DefaultFrames())
	if script != "" {
		b, err := os.ReadFile(script)
		if err != nil {
			log.Fatal().Err(err).Msg("read script")
		}
		seq, err := demo.LuaFrames(string(b))
		if err != nil {
			log.Fatal().Err(err).Str("script", script).Msg("load script")
		}
		frames = seq
	}

	bus := led.NewSimBus()
	wo := led.DefaultWriterOptions()
	wo.Spacing = 0
	opts := transition.DefaultOptions()
	opts.Capacity = capacity
	opts.Settings = transition.Settings{Duration: duration, FadeIn: in, FadeOut: out}
	bright := brightness.New(brightness.Default())
	eng, err := transition.NewEngine(bright, led.NewWriter(bus, wo), opts)
	if err != nil {
		log.Fatal().Err(err).Msg("engine")
	}

	ctx, cancel := context.WithTimeout(context.Background(), runFor)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	for !eng.Running() {
		time.Sleep(time.Millisecond)
	}

	d := demo.NewDriver(eng, frames, interval)
	if err := d.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("demo")
	}

	w := bufio.NewWriter(os.Stdout)
	t := time.NewTicker(time.Second / time.Duration(max(1, fps)))
	defer t.Stop()
	start := time.Now()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-t.C:
			draw(w, bus, bright.Individual(), time.Since(start), eng.Stats())
		}
	}
	d.Stop()
	<-done
	st := eng.Stats()
	log.Info().
		Uint64("ticks", st.Ticks).
		Uint64("animated", st.Animated).
		Uint64("retargeted", st.Retargeted).
		Uint64("instant", st.Instant).
		Int("writes", bus.Writes()).
		Msg("done")
}

// draw prints one frame, moving the cursor home first.
func draw(w *bufio.Writer, bus *led.SimBus, level uint8, at time.Duration, st transition.Stats) {
	fmt.Fprint(w, "\x1b[H\x1b[2J")
	fmt.Fprintf(w, "t=%6.2fs active=%2d/%d\n", at.Seconds(), st.Active, st.Capacity)
	for r := 0; r < grid.Rows; r++ {
		for c := 0; c < grid.Cols; c++ {
			v := int(bus.Value(grid.Cell{Row: r, Col: c}))
			i := v * (len(ramp) - 1) / max(1, int(level))
			if i >= len(ramp) {
				i = len(ramp) - 1
			}
			w.WriteByte(ramp[i])
			w.WriteByte(' ')
		}
		w.WriteByte('\n')
	}
	w.Flush()
}
