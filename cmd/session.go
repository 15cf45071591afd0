package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/bus"
	"github.com/htrap1211/GraphX-OSINT/internal/metrics"
	"github.com/htrap1211/GraphX-OSINT/internal/observability"
	"github.com/htrap1211/GraphX-OSINT/internal/workspace"
)

const defaultWaitTimeout = 30 * time.Second

// openSession opens a workspace for jobID and waits for its first graph
// snapshot. A failed first fetch closes the session and returns the error.
func openSession(cmd *cobra.Command, jobID string, reg *metrics.Registry, opts ...workspace.Option) (*workspace.Session, error) {
	cfg, client, err := newClient(cmd, reg)
	if err != nil {
		return nil, err
	}
	opts = append([]workspace.Option{workspace.WithLogger(observability.GetLogger())}, opts...)
	s, err := workspace.Open(cmd.Context(), client, jobID, cfg, opts...)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Backend.Timeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := waitForSnapshot(ctx, s); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func waitForSnapshot(ctx context.Context, s *workspace.Session) error {
	events, unsubscribe := s.Events(bus.EventSnapshotReplaced, bus.EventTransientError)
	defer unsubscribe()
	if s.Graph().Revision() > 0 {
		return nil
	}
	// The first tick may have failed before the subscription existed.
	s.Trigger(workspace.LoopGraph)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for graph of job '%s': %w", s.JobID(), ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return workspace.ErrSessionClosed
			}
			switch ev.Type {
			case bus.EventSnapshotReplaced:
				return nil
			case bus.EventTransientError:
				if terr, ok := ev.Payload.(*bus.TransientError); ok && terr.Source == "graph_poll" {
					return terr
				}
			}
		}
	}
}

// selectEntity opens a session and selects entityRef, which is either a node id
// or a caption such as an address or domain name.
func selectEntity(cmd *cobra.Command, jobID, entityRef string) (*workspace.Session, schemas.Entity, error) {
	s, err := openSession(cmd, jobID, nil)
	if err != nil {
		return nil, schemas.Entity{}, err
	}
	id := resolveEntityID(s, entityRef)
	ent, err := s.Select(cmd.Context(), id)
	if err != nil {
		s.Close()
		return nil, schemas.Entity{}, err
	}
	return s, ent, nil
}

func resolveEntityID(s *workspace.Session, ref string) string {
	if s.Graph().Has(ref) {
		return ref
	}
	for _, n := range s.Graph().Snapshot().Nodes {
		if strings.EqualFold(n.Caption(), ref) {
			return n.ID
		}
	}
	return ref
}
