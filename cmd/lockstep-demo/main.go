package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/ByteMirror/lockstep/config"
	"github.com/ByteMirror/lockstep/log"
	"github.com/ByteMirror/lockstep/sched"
	"github.com/ByteMirror/lockstep/store"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagWorkers  int
	flagFrames   int
	flagEntities int
	flagInline   bool
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// vec2 is the demo's component payload.
type vec2 struct{ X, Y float64 }

// world is the shared frame state handed to every system.
type world struct {
	positions  *store.Array[vec2]
	velocities *store.Array[vec2]
	entities   int
	rendered   int
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "lockstep-demo",
		Short: "Run a simulated frame loop on the lockstep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize()
			defer log.Close()
			return run()
		},
	}
	rootCmd.Flags().IntVar(&flagWorkers, "workers", 0, "worker count (0 = logical CPUs)")
	rootCmd.Flags().IntVar(&flagFrames, "frames", 60, "frames to simulate")
	rootCmd.Flags().IntVar(&flagEntities, "entities", 4096, "entity count")
	rootCmd.Flags().BoolVar(&flagInline, "inline", false, "run single-threaded (inline policy)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadConfig()
	if flagWorkers > 0 {
		cfg.Workers = flagWorkers
	}
	if flagInline {
		cfg.Inline = true
	}

	var policy sched.ExecutionPolicy
	var pool *sched.WorkerPool
	if cfg.Inline {
		policy = sched.NewInlinePolicy()
	} else {
		pool = sched.NewWorkerPool(sched.PoolConfig{
			Workers:       cfg.Workers,
			QueueCapacity: cfg.QueueCapacity,
		})
		if err := pool.Start(); err != nil {
			return err
		}
		policy = pool
	}
	defer policy.Shutdown()

	w := &world{
		positions:  store.NewArray[vec2](flagEntities),
		velocities: store.NewArray[vec2](flagEntities),
		entities:   flagEntities,
	}
	for i := 0; i < flagEntities; i++ {
		angle := float64(i) * 0.01
		w.velocities.Set(i, vec2{X: math.Cos(angle), Y: math.Sin(angle)})
		w.positions.Set(i, vec2{})
	}

	graph := sched.NewGraph()
	if err := registerSystems(graph, w); err != nil {
		return err
	}

	coord, token, err := sched.NewFrameCoordinator(sched.CoordinatorConfig{
		Policy:         policy,
		Graph:          graph,
		ProfileAlpha:   cfg.ProfileAlpha,
		SplitThreshold: time.Duration(cfg.SplitThresholdMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	coord.OnExclusive(func(state interface{}, delta time.Duration) {
		// Stand-in for the rendering context: only this goroutine, only in
		// this phase.
		state.(*world).rendered++
	})

	start := time.Now()
	g, ctx := errgroup.WithContext(context.Background())

	// Ad hoc background work submitted alongside the frame loop.
	g.Go(func() error {
		for i := 0; i < flagFrames; i++ {
			_, err := sched.SubmitFuture(ctx, policy, "checksum", func(context.Context) error {
				sum := 0.0
				w.positions.ForEach(func(_ int, v vec2) { sum += v.X + v.Y })
				return nil
			})
			if err != nil && err != sched.ErrQueueFull {
				return err
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	})

	g.Go(func() error {
		delta := 16 * time.Millisecond
		for frame := 0; frame < flagFrames; frame++ {
			if err := coord.ExecuteFrame(token, w, delta); err != nil {
				return err
			}
		}
		policy.WaitForDrain()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	printReport(coord, pool, w, time.Since(start))
	return nil
}

func registerSystems(graph *sched.Graph, w *world) error {
	type entry struct {
		name string
		sys  sched.System
	}
	systems := []entry{
		{"integrate", &integrateSystem{w: w}},
		{"friction", sched.SystemFunc{
			Req: sched.Requirement{Reads: []string{"velocity"}, Writes: []string{"velocity"}},
			Fn: func(state interface{}, delta time.Duration) error {
				ww := state.(*world)
				for i := 0; i < ww.entities; i++ {
					if v, ok := ww.velocities.Get(i); ok {
						ww.velocities.Set(i, vec2{X: v.X * 0.999, Y: v.Y * 0.999})
					}
				}
				return nil
			},
		}},
		{"bounds", sched.SystemFunc{
			Req: sched.Requirement{
				Reads: []string{"position"},
				Phase: sched.PhasePostUpdate,
				After: []string{"integrate"},
			},
			Fn: func(state interface{}, delta time.Duration) error {
				return nil
			},
		}},
		{"present", sched.SystemFunc{
			Req: sched.Requirement{Reads: []string{"position"}, Exclusive: true},
			Fn: func(state interface{}, delta time.Duration) error {
				return nil
			},
		}},
	}
	for _, e := range systems {
		if err := graph.Register(e.name, e.sys); err != nil {
			return err
		}
	}
	return nil
}

// integrateSystem advances positions by velocities; chunkable so the
// coordinator can split it across workers once its profile warrants it.
type integrateSystem struct {
	w *world
}

func (s *integrateSystem) Requirements() sched.Requirement {
	return sched.Requirement{Reads: []string{"velocity"}, Writes: []string{"position"}, After: []string{"friction"}}
}

func (s *integrateSystem) Invoke(state interface{}, delta time.Duration) error {
	return s.InvokeRange(state, delta, 0, s.w.entities)
}

func (s *integrateSystem) ElementCount() int { return s.w.entities }

func (s *integrateSystem) InvokeRange(state interface{}, delta time.Duration, start, end int) error {
	dt := delta.Seconds()
	for i := start; i < end; i++ {
		v, ok := s.w.velocities.Get(i)
		if !ok {
			continue
		}
		p, _ := s.w.positions.Get(i)
		s.w.positions.Set(i, vec2{X: p.X + v.X*dt, Y: p.Y + v.Y*dt})
	}
	return nil
}

func printReport(coord *sched.FrameCoordinator, pool *sched.WorkerPool, w *world, elapsed time.Duration) {
	stats := coord.Stats()

	lines := []string{
		titleStyle.Render("lockstep frame report"),
		fmt.Sprintf("%s %d", labelStyle.Render("frames:"), stats.Frame),
		fmt.Sprintf("%s %d", labelStyle.Render("entities:"), w.entities),
		fmt.Sprintf("%s %d", labelStyle.Render("exclusive passes:"), w.rendered),
		fmt.Sprintf("%s %d", labelStyle.Render("batches/frame:"), stats.BatchesRun),
		fmt.Sprintf("%s %v", labelStyle.Render("last frame:"), stats.LastFrameDuration),
		fmt.Sprintf("%s %v", labelStyle.Render("total:"), elapsed),
	}
	if pool != nil {
		lines = append(lines, fmt.Sprintf("%s %s", labelStyle.Render("pool:"), pool.Metrics()))
		for _, ws := range pool.WorkerStats() {
			lines = append(lines, fmt.Sprintf("%s worker %d ran %d, stole %d",
				labelStyle.Render("  -"), ws.ID, ws.ItemsRun, ws.Steals))
		}
	}
	if len(stats.FailedSystems) > 0 {
		lines = append(lines, fmt.Sprintf("%s %v", labelStyle.Render("failed:"), stats.FailedSystems))
	}

	fmt.Println(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
}
