package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
	"github.com/htrap1211/GraphX-OSINT/internal/knowledgegraph"
	"github.com/htrap1211/GraphX-OSINT/internal/observability"
	"github.com/htrap1211/GraphX-OSINT/internal/risk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// createOutput opens the export destination. Tests replace it.
var createOutput = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// exportDocument is the on-disk form of one exported snapshot.
type exportDocument struct {
	JobID      string               `json:"job_id" yaml:"job_id"`
	ExportedAt time.Time            `json:"exported_at" yaml:"exported_at"`
	Job        *exportJob           `json:"job,omitempty" yaml:"job,omitempty"`
	Stats      knowledgegraph.Stats `json:"stats" yaml:"stats"`
	Nodes      []exportNode         `json:"nodes" yaml:"nodes"`
	Edges      []exportEdge         `json:"edges" yaml:"edges"`
}

type exportJob struct {
	Status         schemas.JobStatus `json:"status" yaml:"status"`
	Query          string            `json:"query" yaml:"query"`
	TotalTasks     int               `json:"total_tasks" yaml:"total_tasks"`
	CompletedTasks int               `json:"completed_tasks" yaml:"completed_tasks"`
	Progress       float64           `json:"progress" yaml:"progress"`
	Errors         []string          `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type exportNode struct {
	ID         string             `json:"id" yaml:"id"`
	Kind       schemas.EntityKind `json:"label" yaml:"label"`
	Key        string             `json:"key" yaml:"key"`
	Caption    string             `json:"caption" yaml:"caption"`
	Risk       risk.Assessment    `json:"risk" yaml:"risk"`
	Properties schemas.Properties `json:"properties" yaml:"properties"`
}

type exportEdge struct {
	Source     string             `json:"source" yaml:"source"`
	Target     string             `json:"target" yaml:"target"`
	Type       string             `json:"type" yaml:"type"`
	Properties schemas.Properties `json:"properties,omitempty" yaml:"properties,omitempty"`
}

func newExportCmd() *cobra.Command {
	var (
		format string
		output string
	)
	exportCmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Write the job's graph with a risk assessment for every node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported export format '%s' (use json or yaml)", format)
			}
			_, client, err := newClient(cmd, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := observability.GetLogger()
			jobID := args[0]

			snap, err := client.GetGraph(ctx, jobID)
			if err != nil {
				return fmt.Errorf("failed to fetch graph for job '%s': %w", jobID, err)
			}
			doc := buildExport(jobID, snap, time.Now().UTC())
			if job, err := client.GetJob(ctx, jobID); err == nil {
				doc.Job = &exportJob{
					Status:         job.Status,
					Query:          job.Query,
					TotalTasks:     job.TotalTasks,
					CompletedTasks: job.CompletedTasks,
					Progress:       job.Progress(),
					Errors:         job.Errors,
				}
			} else {
				logger.Warn("Exporting without job status", zap.String("job_id", jobID), zap.Error(err))
			}

			if output == "" {
				return writeExport(cmd.OutOrStdout(), format, doc)
			}
			f, err := createOutput(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			if err := writeExport(f, format, doc); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to close output file '%s': %w", output, err)
			}
			logger.Info("Graph exported", zap.String("path", output), zap.Int("nodes", len(doc.Nodes)), zap.Int("edges", len(doc.Edges)))
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return exportCmd
}

// buildExport deduplicates the snapshot the same way the workspace does and
// annotates every node.
func buildExport(jobID string, snap schemas.Snapshot, now time.Time) exportDocument {
	g := knowledgegraph.NewGraph(nil)
	g.ReplaceSnapshot(snap)
	clean := g.Snapshot()

	doc := exportDocument{
		JobID:      jobID,
		ExportedAt: now,
		Stats:      g.Stats(),
		Nodes:      make([]exportNode, 0, len(clean.Nodes)),
		Edges:      make([]exportEdge, 0, len(clean.Edges)),
	}
	for _, n := range clean.Nodes {
		doc.Nodes = append(doc.Nodes, exportNode{
			ID:         n.ID,
			Kind:       n.Kind,
			Key:        identity.Resolve(n),
			Caption:    n.Caption(),
			Risk:       risk.Classify(n),
			Properties: n.Properties,
		})
	}
	for _, e := range clean.Edges {
		doc.Edges = append(doc.Edges, exportEdge{Source: e.Source, Target: e.Target, Type: e.Type, Properties: e.Properties})
	}
	return doc
}

func writeExport(w io.Writer, format string, doc exportDocument) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode yaml export: %w", err)
		}
		return enc.Close()
	default:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode json export: %w", err)
		}
		_, err = w.Write(append(data, '\n'))
		return err
	}
}
