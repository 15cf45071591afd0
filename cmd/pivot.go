package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/workspace"
)

func newPivotCmd() *cobra.Command {
	var (
		kind  string
		depth int
		list  bool
	)
	pivotCmd := &cobra.Command{
		Use:   "pivot <job-id> <entity>",
		Short: "Expand the graph from one entity",
		Long: `Expands the job's graph from an entity, given by node id or caption
(address, domain name). Use --list to see the pivots the entity supports.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, args[0], nil)
			if err != nil {
				return err
			}
			defer s.Close()

			id := resolveEntityID(s, args[1])
			source, ok := s.Graph().Node(id)
			if !ok {
				return fmt.Errorf("%w: %s", workspace.ErrEntityNotFound, args[1])
			}
			out := cmd.OutOrStdout()
			if list {
				for _, p := range schemas.AvailablePivots(source.Kind) {
					fmt.Fprintln(out, p)
				}
				return nil
			}
			if kind == "" {
				return fmt.Errorf("--kind is required (one of %s)", joinPivots(schemas.AvailablePivots(source.Kind)))
			}

			outcome, err := s.PivotFrom(cmd.Context(), id, schemas.PivotKind(kind), depth)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s from %s (depth %d): %d returned, %d merged, %d already present\n",
				outcome.Request.Kind, source.Caption(), outcome.Request.Depth,
				len(outcome.Result.Entities), len(outcome.Change.AddedNodes), len(outcome.Filtered))
			for _, nodeID := range outcome.Change.AddedNodes {
				if n, ok := s.Graph().Node(nodeID); ok {
					a, _ := s.Assess(nodeID)
					fmt.Fprintf(out, "  + %-12s %-40s %s\n", n.Kind, n.Caption(), a.Display)
				}
			}
			return nil
		},
	}
	pivotCmd.Flags().StringVarP(&kind, "kind", "k", "", "pivot kind, e.g. same_registrar")
	pivotCmd.Flags().IntVarP(&depth, "depth", "d", 0, "pivot depth 1-3 (default from config)")
	pivotCmd.Flags().BoolVar(&list, "list", false, "list the pivots available for the entity")
	return pivotCmd
}

func joinPivots(kinds []schemas.PivotKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
