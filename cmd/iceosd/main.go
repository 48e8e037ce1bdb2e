// Command iceosd is the composition root: it wires config, the Registry's
// manifest loader, the blueprint/run stores, the Compiler, Scheduler, node
// Executors, and the reference HTTP transport together, then serves.
// The command tree has a single "serve" subcommand; its cobra texture is
// grounded on
// alexisbeaulieu97-Streamy's cobra-based CLI.
package main

import (
	"fmt"
	"net/http"
	"os"

	bpmemory "github.com/iceos/core/blueprint/store/memory"
	"github.com/iceos/core/compiler"
	"github.com/iceos/core/config"
	"github.com/iceos/core/eventbus"
	"github.com/iceos/core/executor"
	"github.com/iceos/core/executor/sandbox"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/llmprovider"
	"github.com/iceos/core/memory"
	"github.com/iceos/core/registry"
	regstore "github.com/iceos/core/registry/store"
	"github.com/iceos/core/runner"
	"github.com/iceos/core/scheduler"
	"github.com/iceos/core/telemetry"
	transporthttp "github.com/iceos/core/transport/http"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	root := &cobra.Command{
		Use:   "iceosd",
		Short: "iceOS core: blueprint validation, compilation, and run orchestration",
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = zerolog.InfoLevel
			}
			logger := telemetry.NewZerologLogger(zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger())

			// A local, exporter-less TracerProvider gives every node execution
			// a real span (visible to anything that registers a
			// SpanProcessor later) without forcing an OTLP/Jaeger endpoint on
			// every deployment. Swap in sdktrace.WithBatcher(exporter) once a
			// collector endpoint is configured.
			tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
			otel.SetTracerProvider(tp)
			tracer := telemetry.NewOtelTracer(otel.Tracer("iceosd"))
			metrics := telemetry.NewOtelMetrics(otel.Meter("iceosd"))

			reg := registry.New()
			if cfg.ComponentManifestPaths != "" {
				if err := regstore.LoadPaths(reg, cfg.ComponentManifestPaths); err != nil {
					return fmt.Errorf("loading component manifests: %w", err)
				}
			}

			partials := bpmemory.NewPartialStore(nil)
			blueprints := bpmemory.NewBlueprintStore()
			comp := compiler.New(reg)
			runs := runner.NewInMemoryStore()

			providers := llmprovider.NewStaticFactory(map[string]llmprovider.Provider{})
			sandboxRunner := sandbox.New()

			// subPlanExec is forward-declared so newScheduler's closure can
			// capture its pointer before the Controller it depends on exists;
			// Controller is filled in once ctl is constructed below. Safe
			// because newScheduler is never invoked until a run is submitted,
			// by which point subPlanExec.Controller is set.
			subPlanExec := &runner.SubPlanExecutor{Blueprints: blueprints}

			// ctl is forward-declared for the same reason subPlanExec is above:
			// newScheduler's closure reads ctl.Budget, but ctl isn't constructed
			// until after newScheduler is built.
			var ctl *runner.Controller

			newScheduler := func(bus *eventbus.Bus) *scheduler.Scheduler {
				deps := executor.Dependencies{
					Registry:  reg,
					Bus:       bus,
					Providers: providers,
					Sandbox:   sandboxRunner,
					SubPlans:  subPlanExec,
					Logger:    logger,
					Metrics:   metrics,
					CostRates: ctl.Budget.Rate,
				}
				execs := executor.ForKind(deps)
				sched := scheduler.New(execs, bus)
				sched.Tracer = tracer
				return sched
			}
			subPlanExec.NewScheduler = newScheduler

			ctl = runner.New(comp, runs, cfg.OrgBudgetUSD, newScheduler)
			ctl.MemoryFactory = func(ice.RunID) any { return memory.NewInMemoryHandles() }
			subPlanExec.Controller = ctl
			srv := transporthttp.New(partials, blueprints, comp, ctl)

			fmt.Printf("iceosd listening on %s\n", addr)
			return http.ListenAndServe(addr, srv.Echo)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
