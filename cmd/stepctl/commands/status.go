package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatiCode/stepscaler/pkg/client"
)

func NewStatusCommand() *cobra.Command {
	var (
		server  string
		service string
		timeout time.Duration
	)

	command := &cobra.Command{
		Use:   "status",
		Short: "Show the latest decision of a running scaler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if service == "" {
				return fmt.Errorf("--service is required")
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			c := client.NewScalerClientWithTimeout(server, timeout)
			res, err := c.GetDecision(ctx, service)
			if errors.Is(err, client.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "no decision recorded yet")
				return nil
			}
			if err != nil {
				return err
			}

			d := res.Decision
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "service:   %s\n", d.Service)
			fmt.Fprintf(out, "metric:    %s = %g\n", d.Metric, d.MetricValue)
			fmt.Fprintf(out, "capacity:  %d -> %d\n", d.CurrentCapacity, d.DesiredCapacity)
			fmt.Fprintf(out, "applied:   %t\n", d.Applied)
			fmt.Fprintf(out, "suppressed: %t\n", d.Suppressed)
			fmt.Fprintf(out, "at:        %s\n", d.Timestamp.Format(time.RFC3339))
			if res.CooldownRemaining > 0 {
				fmt.Fprintf(out, "cooldown:  %s remaining\n", res.CooldownRemaining)
			}
			return nil
		},
	}
	command.Flags().StringVar(&server, "server", "http://localhost:8082", "Scaler HTTP address")
	command.Flags().StringVar(&service, "service", "", "Service name")
	command.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return command
}
