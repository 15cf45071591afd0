package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCasesCmd() *cobra.Command {
	casesCmd := &cobra.Command{
		Use:   "cases",
		Short: "List investigation cases and attach entities to them",
	}
	casesCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List investigation cases",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, client, err := newClient(cmd, nil)
				if err != nil {
					return err
				}
				cases, err := client.ListCases(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list cases: %w", err)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tPRIORITY\tENTITIES")
				for _, c := range cases {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", c.ID, c.Title, c.Status, c.Priority, c.EntityCount)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "attach <job-id> <entity> <case-id>",
			Short: "Attach an email, domain or IP entity to a case",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, ent, err := selectEntity(cmd, args[0], args[1])
				if err != nil {
					return err
				}
				defer s.Close()
				if err := s.AttachSelection(cmd.Context(), args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "attached %s %s to case %s\n", ent.Kind, ent.Caption(), args[2])
				return nil
			},
		},
	)
	return casesCmd
}
