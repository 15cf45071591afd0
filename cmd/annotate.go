package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/htrap1211/GraphX-OSINT/internal/annotations"
	"github.com/htrap1211/GraphX-OSINT/internal/workspace"
)

func newTagCmd() *cobra.Command {
	tagCmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage the tags of an entity",
	}
	tagCmd.AddCommand(
		newTagMutationCmd("add", "Add a tag to an entity (no-op when present)", func(cmd *cobra.Command, tag string, s *workspace.Session) error {
			return s.AddTag(cmd.Context(), tag)
		}),
		newTagMutationCmd("remove", "Remove a tag from an entity (no-op when absent)", func(cmd *cobra.Command, tag string, s *workspace.Session) error {
			return s.RemoveTag(cmd.Context(), tag)
		}),
		&cobra.Command{
			Use:   "list <job-id> <entity>",
			Short: "List the tags of an entity",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, _, err := selectEntity(cmd, args[0], args[1])
				if err != nil {
					return err
				}
				defer s.Close()
				printTags(cmd.OutOrStdout(), s.Annotations())
				return nil
			},
		},
		&cobra.Command{
			Use:   "predefined",
			Short: "List the tag vocabulary",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, client, err := newClient(cmd, nil)
				if err != nil {
					return err
				}
				for _, t := range annotations.NewStore(client, nil).PredefinedTags(cmd.Context()) {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			},
		},
	)
	return tagCmd
}

func newTagMutationCmd(use, short string, mutate func(*cobra.Command, string, *workspace.Session) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id> <entity> <tag>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := selectEntity(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			defer s.Close()
			if err := mutate(cmd, args[2], s); err != nil {
				return err
			}
			printTags(cmd.OutOrStdout(), s.Annotations())
			return nil
		},
	}
}

func newNoteCmd() *cobra.Command {
	noteCmd := &cobra.Command{
		Use:   "note",
		Short: "Manage the notes of an entity",
	}
	noteCmd.AddCommand(
		&cobra.Command{
			Use:   "add <job-id> <entity> <content...>",
			Short: "Attach a note to an entity",
			Args:  cobra.MinimumNArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, _, err := selectEntity(cmd, args[0], args[1])
				if err != nil {
					return err
				}
				defer s.Close()
				if err := s.AddNote(cmd.Context(), strings.Join(args[2:], " ")); err != nil {
					return err
				}
				printNotes(cmd.OutOrStdout(), s.Annotations())
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <job-id> <entity> <note-id>",
			Short: "Delete a note",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, _, err := selectEntity(cmd, args[0], args[1])
				if err != nil {
					return err
				}
				defer s.Close()
				if err := s.DeleteNote(cmd.Context(), args[2]); err != nil {
					return err
				}
				printNotes(cmd.OutOrStdout(), s.Annotations())
				return nil
			},
		},
		&cobra.Command{
			Use:   "list <job-id> <entity>",
			Short: "List the notes of an entity",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, _, err := selectEntity(cmd, args[0], args[1])
				if err != nil {
					return err
				}
				defer s.Close()
				printNotes(cmd.OutOrStdout(), s.Annotations())
				return nil
			},
		},
	)
	return noteCmd
}

func printTags(w io.Writer, v annotations.View) {
	fmt.Fprintf(w, "%s: [%s]\n", v.Key, strings.Join(v.Tags, ", "))
}

func printNotes(w io.Writer, v annotations.View) {
	fmt.Fprintf(w, "%s: %d notes\n", v.Key, len(v.Notes))
	for _, n := range v.Notes {
		created := "-"
		if !n.CreatedAt.IsZero() {
			created = n.CreatedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "  %s  %s  %s\n", n.ID, created, n.Content)
	}
}
