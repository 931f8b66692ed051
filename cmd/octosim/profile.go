package main

import (
	"fmt"
	"os"

	"github.com/google/pprof/profile"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"limits"
)

// newProfileCmd boots an image, runs the built-in scenarios, and
// writes each scenario process's user/system time (limits.Accnt) out
// as a pprof profile.proto file, per SPEC_FULL.md's domain-stack
// placement of google/pprof/profile.
func newProfileCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "profile <image>",
		Short: "Run the built-in scenarios and emit a pprof accounting profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(args[0], out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "octosim.pprof", "output profile path")
	return cmd
}

func runProfile(image, out string) error {
	runID := uuid.NewString()
	log := newLogger(runID)

	sim, err := Boot(image, runID, log)
	if err != nil {
		return err
	}
	defer sim.Shutdown()

	pool := StartHartPool(1)
	defer pool.Stop()

	samples := []*profile.Sample{}
	valueTypes := []*profile.ValueType{
		{Type: "user_time", Unit: "nanoseconds"},
		{Type: "system_time", Unit: "nanoseconds"},
	}
	loc := &profile.Location{ID: 1}
	fn := &profile.Function{ID: 1, Name: "scenario"}
	loc.Line = []profile.Line{{Function: fn, Line: 1}}

	for _, sc := range builtinScenarios {
		sp, err := sc.Run(sim)
		if err != nil {
			log.Error("scenario failed during profiling", "scenario", sc.Name, "err", err)
			continue
		}
		userns, sysns := sp.P.Data.Accnt.Snapshot()
		samples = append(samples, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{userns, sysns},
			Label:    map[string][]string{"scenario": {sc.Name}, "run": {runID}},
		})
	}

	p := &profile.Profile{
		SampleType: valueTypes,
		Sample:     samples,
		Location:   []*profile.Location{loc},
		Function:   []*profile.Function{fn},
		Comments:   []string{fmt.Sprintf("octosim run %s", runID)},
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := p.Write(f); err != nil {
		return err
	}
	log.Info("profile written", "path", out, "samples", len(samples))
	return nil
}
