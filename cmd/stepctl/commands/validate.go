package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HatiCode/stepscaler/pkg/policyfile"
)

func NewValidateCommand() *cobra.Command {
	var normalized bool

	command := &cobra.Command{
		Use:   "validate <policy-file>",
		Short: "Check a policy file and print its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policyfile.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if normalized {
				data, err := policyfile.Marshal(p)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}
			fmt.Fprintf(out, "policy ok: %s, cooldown %s, capacity %d..%d\n",
				p.AdjustmentType(), p.Cooldown(), p.MinCapacity(), p.MaxCapacity())
			for _, s := range p.Steps() {
				fmt.Fprintf(out, "  %s\n", s)
			}
			return nil
		},
	}
	command.Flags().BoolVar(&normalized, "normalized", false, "Print the policy with every step bound filled in")
	return command
}
