// Command octosim is the host simulator: it boots the kernel core
// (fs, syscall dispatch, console) against a disk image built by
// cmd/mkfs, drives the built-in scenarios (S1, S2, S4-S7) or a YAML boot
// script against it, and optionally exposes a FUSE debug mount, a
// Prometheus metrics endpoint, or a pprof CPU/accounting profile.
// Grounded on biscuit/src/ufs/ufs.go's BootFS/ShutdownFS pairing for
// the boot/run/shutdown shape and gcsfuse's cmd/root.go for the
// cobra/pflag/viper CLI layout.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "octosim:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var harts int
	var metricsAddr string

	root := &cobra.Command{
		Use:   "octosim",
		Short: "Host simulator for the octopos kernel core",
	}
	root.PersistentFlags().IntVar(&harts, "harts", 1, "number of simulated harts")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	viper.BindPFlag("harts", root.PersistentFlags().Lookup("harts"))
	viper.BindPFlag("metrics-addr", root.PersistentFlags().Lookup("metrics-addr"))

	root.AddCommand(newRunCmd())
	root.AddCommand(newMountCmd())
	root.AddCommand(newProfileCmd())
	return root
}

// newLogger builds the slog logger every subcommand shares, tagging
// every record with this invocation's run ID per SPEC_FULL.md's
// domain-stack placement of google/uuid.
func newLogger(runID string) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, nil)
	return slog.New(h).With("run", runID)
}

func newRunCmd() *cobra.Command {
	var script string
	var harts int
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Boot an image and run the built-in scenarios or a YAML script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			harts = viper.GetInt("harts")
			if f := cmd.Flags().Lookup("harts"); f != nil && f.Changed {
				harts, _ = cmd.Flags().GetInt("harts")
			}
			metricsAddr = viper.GetString("metrics-addr")

			runID := uuid.NewString()
			log := newLogger(runID)

			sim, err := Boot(args[0], runID, log)
			if err != nil {
				return err
			}
			defer sim.Shutdown()

			pool := StartHartPool(harts)
			defer pool.Stop()
			hartsConfigured.Set(float64(harts))

			var stopMetrics func()
			if metricsAddr != "" {
				stopMetrics, err = ServeMetrics(metricsAddr, log)
				if err != nil {
					return err
				}
				defer stopMetrics()
			}

			if script != "" {
				sc, err := LoadScript(script)
				if err != nil {
					return err
				}
				if err := sc.Run(sim, log); err != nil {
					return err
				}
				log.Info("script passed", "name", sc.Name)
				return nil
			}

			for _, sc := range builtinScenarios {
				if _, err := sc.Run(sim); err != nil {
					scenariosTotal.WithLabelValues("fail").Inc()
					log.Error("scenario failed", "scenario", sc.Name, "err", err)
					return fmt.Errorf("%s: %w", sc.Name, err)
				}
				scenariosTotal.WithLabelValues("pass").Inc()
				log.Info("scenario passed", "scenario", sc.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "YAML boot script to replay instead of the built-in scenarios")
	cmd.Flags().IntVar(&harts, "harts", 1, "number of simulated harts")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on")
	return cmd
}
