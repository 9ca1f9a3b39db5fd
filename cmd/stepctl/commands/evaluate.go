package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HatiCode/stepscaler/pkg/policyfile"
)

func NewEvaluateCommand() *cobra.Command {
	var (
		metric  float64
		current int
	)

	command := &cobra.Command{
		Use:   "evaluate <policy-file>",
		Short: "Compute the desired capacity for a metric value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if current < 0 {
				return fmt.Errorf("--current must not be negative")
			}
			p, err := policyfile.Load(args[0])
			if err != nil {
				return err
			}
			d := p.Decide(metric, current)
			fmt.Fprintf(cmd.OutOrStdout(), "metric %g in step %s: %d -> %d\n",
				metric, d.Step, current, d.DesiredCapacity)
			return nil
		},
	}
	command.Flags().Float64Var(&metric, "metric", 0, "Metric value, e.g. the queue depth")
	command.Flags().IntVar(&current, "current", 0, "Current capacity")
	_ = command.MarkFlagRequired("metric")
	_ = command.MarkFlagRequired("current")
	return command
}
