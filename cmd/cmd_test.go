package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/backend"
	"github.com/htrap1211/GraphX-OSINT/internal/config"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
	"github.com/htrap1211/GraphX-OSINT/internal/knowledgegraph"
	"github.com/htrap1211/GraphX-OSINT/internal/metrics"
	"github.com/htrap1211/GraphX-OSINT/internal/mocks"
	"github.com/htrap1211/GraphX-OSINT/internal/observability"
	"github.com/htrap1211/GraphX-OSINT/internal/store"
	"github.com/htrap1211/GraphX-OSINT/internal/workspace"
)

const testJobID = "job-1"

func TestMain(m *testing.M) {
	observability.Initialize(config.LoggerConfig{Level: "error", Format: "json"}, zapcore.AddSync(io.Discard))
	os.Exit(m.Run())
}

// runCommand executes the root command against client and returns stdout.
func runCommand(t *testing.T, client backend.Backend, args ...string) (string, error) {
	t.Helper()
	original := newBackendClient
	newBackendClient = func(*config.Config, *zap.Logger, backend.Recorder) (backend.Backend, error) {
		return client, nil
	}
	defer func() { newBackendClient = original }()

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func emailNode(id, address string, breaches float64) schemas.Entity {
	return schemas.Entity{ID: id, Kind: schemas.KindEmail, Properties: schemas.Properties{"address": address, "breach_count": breaches}}
}

func domainNode(id, name string) schemas.Entity {
	return schemas.Entity{ID: id, Kind: schemas.KindDomain, Properties: schemas.Properties{"name": name}}
}

// workspaceBackend answers the calls every session makes on open.
func workspaceBackend(job schemas.Job, snap schemas.Snapshot) *mocks.MockBackend {
	client := new(mocks.MockBackend)
	client.On("GetJob", mock.Anything, testJobID).Return(job, nil)
	client.On("GetGraph", mock.Anything, testJobID).Return(snap, nil)
	return client
}

func runningJob() schemas.Job {
	return schemas.Job{ID: testJobID, Query: "a@x.test", Status: schemas.JobRunning, TotalTasks: 4, CompletedTasks: 2}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, new(mocks.MockBackend), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graphx dev ("), out)

	out, err = runCommand(t, new(mocks.MockBackend), "--version")
	require.NoError(t, err)
	assert.Equal(t, "graphx version dev\n", out)
}

func TestInitializeConfig(t *testing.T) {
	t.Run("should read an explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "graphx.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
backend:
  base_url: https://osint.example.test/api
poller:
  job_interval: 5s
`), 0o600))

		v := viper.New()
		config.SetDefaults(v)
		require.NoError(t, initializeConfig(v, path))
		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "https://osint.example.test/api", cfg.Backend.BaseURL)
		assert.Equal(t, 5*time.Second, cfg.Poller.JobInterval)
		assert.Equal(t, 3*time.Second, cfg.Poller.GraphInterval)
	})

	t.Run("should apply environment overrides", func(t *testing.T) {
		t.Setenv("GRAPHX_POLLER_GRAPH_INTERVAL", "7s")
		t.Setenv("GRAPHX_BACKEND_TOKEN", "secret")

		v := viper.New()
		config.SetDefaults(v)
		require.NoError(t, initializeConfig(v, ""))
		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 7*time.Second, cfg.Poller.GraphInterval)
		assert.Equal(t, "secret", cfg.Backend.Token)
	})

	t.Run("should fail on a missing explicit file", func(t *testing.T) {
		v := viper.New()
		err := initializeConfig(v, filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "error reading config file")
	})
}

func TestRootCommand_Config(t *testing.T) {
	t.Run("should pass the backend flag to the client", func(t *testing.T) {
		var seen string
		original := newBackendClient
		newBackendClient = func(cfg *config.Config, _ *zap.Logger, _ backend.Recorder) (backend.Backend, error) {
			seen = cfg.Backend.BaseURL
			client := new(mocks.MockBackend)
			client.On("ListCases", mock.Anything).Return([]schemas.Case{}, nil)
			return client, nil
		}
		defer func() { newBackendClient = original }()

		root := NewRootCommand()
		root.SetOut(io.Discard)
		root.SetArgs([]string{"cases", "list", "--backend", "http://other.test:9000/api"})
		require.NoError(t, root.ExecuteContext(context.Background()))
		assert.Equal(t, "http://other.test:9000/api", seen)
	})

	t.Run("should reject an invalid configuration", func(t *testing.T) {
		_, err := runCommand(t, new(mocks.MockBackend), "cases", "list", "--backend", "not-a-url")
		assert.ErrorContains(t, err, "failed to load or validate config")
	})
}

type failingCloser struct {
	bytes.Buffer
	err error
}

func (f *failingCloser) Close() error { return f.err }

func TestExportCommand(t *testing.T) {
	snap := schemas.Snapshot{
		Nodes: []schemas.Entity{
			emailNode("e1", "a@x.test", 3),
			domainNode("d1", "x.test"),
			emailNode("e1", "shadow@x.test", 0),
		},
		Edges: []schemas.Relationship{{Source: "e1", Target: "d1", Type: schemas.RelationshipHasEmail}},
	}

	t.Run("json", func(t *testing.T) {
		client := workspaceBackend(runningJob(), snap)
		out, err := runCommand(t, client, "export", testJobID)
		require.NoError(t, err)

		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out), &doc))
		assert.Equal(t, testJobID, doc["job_id"])
		nodes := doc["nodes"].([]interface{})
		require.Len(t, nodes, 2)
		byID := make(map[string]map[string]interface{}, len(nodes))
		for _, n := range nodes {
			node := n.(map[string]interface{})
			byID[node["id"].(string)] = node
		}
		require.Contains(t, byID, "e1")
		assert.Equal(t, "a@x.test", byID["e1"]["caption"], "first occurrence of a repeated id wins")
		assert.Equal(t, "HIGH", byID["e1"]["risk"].(map[string]interface{})["level"])
		assert.Equal(t, "LOW", byID["d1"]["risk"].(map[string]interface{})["level"])
		assert.Equal(t, "running", doc["job"].(map[string]interface{})["status"])
		assert.Len(t, doc["edges"], 1)
	})

	t.Run("yaml without job status", func(t *testing.T) {
		client := new(mocks.MockBackend)
		client.On("GetGraph", mock.Anything, testJobID).Return(snap, nil)
		client.On("GetJob", mock.Anything, testJobID).Return(nil, errors.New("job not found"))

		out, err := runCommand(t, client, "export", testJobID, "-f", "YAML")
		require.NoError(t, err)
		assert.Contains(t, out, "job_id: job-1")
		assert.Contains(t, out, "caption: x.test")
		assert.NotContains(t, out, "status:")
	})

	t.Run("to file", func(t *testing.T) {
		client := workspaceBackend(runningJob(), snap)
		path := filepath.Join(t.TempDir(), "export.json")
		out, err := runCommand(t, client, "export", testJobID, "-o", path)
		require.NoError(t, err)
		assert.Empty(t, out)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"label": "Email"`)
	})

	t.Run("close failure", func(t *testing.T) {
		original := createOutput
		sink := &failingCloser{err: errors.New("disk quota exceeded")}
		createOutput = func(string) (io.WriteCloser, error) { return sink, nil }
		defer func() { createOutput = original }()

		client := workspaceBackend(runningJob(), snap)
		_, err := runCommand(t, client, "export", testJobID, "-o", "export.json")
		assert.ErrorContains(t, err, "failed to close output file 'export.json'")
		assert.ErrorContains(t, err, "disk quota exceeded")
		assert.Contains(t, sink.String(), `"job_id": "job-1"`)
	})

	t.Run("unsupported format", func(t *testing.T) {
		client := new(mocks.MockBackend)
		_, err := runCommand(t, client, "export", testJobID, "--format", "csv")
		assert.ErrorContains(t, err, "unsupported export format 'csv'")
		client.AssertNotCalled(t, "GetGraph", mock.Anything, mock.Anything)
	})

	t.Run("graph failure", func(t *testing.T) {
		client := new(mocks.MockBackend)
		client.On("GetGraph", mock.Anything, testJobID).Return(nil, errors.New("connection refused"))
		_, err := runCommand(t, client, "export", testJobID)
		assert.ErrorContains(t, err, "failed to fetch graph for job 'job-1'")
	})
}

func TestBuildExport(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := buildExport(testJobID, schemas.Snapshot{
		Nodes: []schemas.Entity{domainNode("d1", "x.test"), domainNode("d1", "dupe.test"), emailNode("e1", "a@x.test", 0)},
		Edges: []schemas.Relationship{
			{Source: "e1", Target: "d1", Type: "HAS_EMAIL"},
			{Source: "e1", Target: "d1", Type: "HAS_EMAIL"},
			{Source: "e1", Target: "gone", Type: "HAS_EMAIL"},
		},
	}, now)

	assert.Equal(t, now, doc.ExportedAt)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, "x.test", doc.Nodes[0].Caption, "first occurrence wins")
	assert.Equal(t, "x.test", doc.Nodes[0].Key)
	assert.Equal(t, 2, doc.Stats.Nodes)
	assert.Equal(t, doc.Stats.Edges, len(doc.Edges))
}

func TestPivotCommand(t *testing.T) {
	snap := schemas.Snapshot{Nodes: []schemas.Entity{domainNode("dom-1", "good.test")}}

	t.Run("list", func(t *testing.T) {
		out, err := runCommand(t, workspaceBackend(runningJob(), snap), "pivot", testJobID, "good.test", "--list")
		require.NoError(t, err)
		assert.Equal(t, "related_domains\nrelated_ips\nrelated_emails\nhosted_by_same_ip\nsame_registrar\n", out)
	})

	t.Run("requires a kind", func(t *testing.T) {
		_, err := runCommand(t, workspaceBackend(runningJob(), snap), "pivot", testJobID, "dom-1")
		assert.ErrorContains(t, err, "--kind is required")
	})

	t.Run("unknown entity", func(t *testing.T) {
		_, err := runCommand(t, workspaceBackend(runningJob(), snap), "pivot", testJobID, "nope.test", "-k", "same_registrar")
		assert.ErrorIs(t, err, workspace.ErrEntityNotFound)
	})

	t.Run("merges new entities", func(t *testing.T) {
		client := workspaceBackend(runningJob(), snap)
		client.On("Pivot", mock.Anything, schemas.PivotRequest{
			EntityType: schemas.KindDomain,
			EntityKey:  "good.test",
			Kind:       schemas.PivotSameRegistrar,
			Depth:      2,
		}).Return(schemas.PivotResult{
			Success:     true,
			PivotType:   schemas.PivotSameRegistrar,
			EntityCount: 2,
			Entities: []schemas.PivotEntity{
				{Entity: domainNode("dom-1", "good.test")},
				{Entity: domainNode("dom-2", "evil.test"), Relationship: "SAME_REGISTRAR"},
			},
		}, nil).Once()

		out, err := runCommand(t, client, "pivot", testJobID, "good.test", "-k", "same_registrar", "-d", "2")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "same_registrar from good.test (depth 2): 2 returned, 1 merged, 1 already present", lines[0])
		assert.Contains(t, lines[1], "evil.test")
		client.AssertExpectations(t)
	})

	t.Run("invalid for kind", func(t *testing.T) {
		client := workspaceBackend(runningJob(), snap)
		_, err := runCommand(t, client, "pivot", testJobID, "dom-1", "-k", "same_asn")
		assert.Error(t, err)
		client.AssertNotCalled(t, "Pivot", mock.Anything, mock.Anything)
	})
}

func TestTagCommands(t *testing.T) {
	key := identity.Qualified{Key: "x.test", Kind: schemas.KindDomain}
	client := workspaceBackend(runningJob(), schemas.Snapshot{Nodes: []schemas.Entity{domainNode("d1", "x.test")}})
	client.On("ListNotes", mock.Anything, key).Return([]schemas.Note{}, nil)
	client.On("ListTags", mock.Anything, key).Return([]string{}, nil).Once()
	client.On("ListTags", mock.Anything, key).Return([]string{"malicious"}, nil)
	client.On("AddTag", mock.Anything, schemas.Tag{EntityKey: "x.test", EntityType: "domain", Tag: "malicious"}).Return(nil).Once()

	out, err := runCommand(t, client, "tag", "add", testJobID, "X.TEST", " malicious ")
	require.NoError(t, err)
	assert.Equal(t, "domain:x.test: [malicious]\n", out)
	client.AssertExpectations(t)

	_, err = runCommand(t, client, "tag", "add", testJobID, "d1", "  ")
	assert.Error(t, err)
	client.AssertNumberOfCalls(t, "AddTag", 1)
}

func TestTagPredefined(t *testing.T) {
	client := new(mocks.MockBackend)
	client.On("PredefinedTags", mock.Anything).Return([]string{"c2", "phishing"}, nil)

	out, err := runCommand(t, client, "tag", "predefined")
	require.NoError(t, err)
	assert.Equal(t, "c2\nphishing\n", out)
}

func TestNoteCommands(t *testing.T) {
	key := identity.Qualified{Key: "a@x.test", Kind: schemas.KindEmail}
	client := workspaceBackend(runningJob(), schemas.Snapshot{Nodes: []schemas.Entity{emailNode("e1", "a@x.test", 0)}})
	client.On("ListTags", mock.Anything, key).Return([]string{}, nil)
	client.On("ListNotes", mock.Anything, key).Return([]schemas.Note{}, nil).Once()
	client.On("ListNotes", mock.Anything, key).Return([]schemas.Note{{ID: "note-1", Content: "seen in paste"}}, nil)
	client.On("CreateNote", mock.Anything, schemas.NoteCreate{EntityKey: "a@x.test", EntityType: "email", Content: "seen in paste"}).
		Return(schemas.Note{ID: "note-1", Content: "seen in paste"}, nil).Once()

	out, err := runCommand(t, client, "note", "add", testJobID, "e1", "seen", "in", "paste")
	require.NoError(t, err)
	assert.Equal(t, "email:a@x.test: 1 notes\n  note-1  -  seen in paste\n", out)
	client.AssertExpectations(t)
}

func TestCasesCommands(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		client := new(mocks.MockBackend)
		client.On("ListCases", mock.Anything).Return([]schemas.Case{
			{ID: "case-7", Title: "Phishing kit", Status: schemas.CaseOpen, Priority: schemas.PriorityHigh, EntityCount: 3},
		}, nil)

		out, err := runCommand(t, client, "cases", "list")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, []string{"ID", "TITLE", "STATUS", "PRIORITY", "ENTITIES"}, strings.Fields(lines[0]))
		assert.Equal(t, []string{"case-7", "Phishing", "kit", "open", "high", "3"}, strings.Fields(lines[1]))
	})

	t.Run("attach", func(t *testing.T) {
		person := schemas.Entity{ID: "p1", Kind: schemas.KindPerson, Properties: schemas.Properties{"name": "J. Doe"}}
		client := workspaceBackend(runningJob(), schemas.Snapshot{Nodes: []schemas.Entity{domainNode("d1", "x.test"), person}})
		client.On("ListNotes", mock.Anything, mock.Anything).Return([]schemas.Note{}, nil)
		client.On("ListTags", mock.Anything, mock.Anything).Return([]string{}, nil)
		client.On("AttachEntity", mock.Anything, "case-7", schemas.EntityRef{EntityID: "x.test", EntityType: "domain"}).Return(nil).Once()

		out, err := runCommand(t, client, "cases", "attach", testJobID, "x.test", "case-7")
		require.NoError(t, err)
		assert.Equal(t, "attached Domain x.test to case case-7\n", out)

		_, err = runCommand(t, client, "cases", "attach", testJobID, "J. Doe", "case-7")
		assert.ErrorIs(t, err, workspace.ErrNotAttachable)
		client.AssertNumberOfCalls(t, "AttachEntity", 1)
	})
}

func TestWatchCommand_ExitOnComplete(t *testing.T) {
	done := schemas.Job{ID: testJobID, Status: schemas.JobCompleted, TotalTasks: 4, CompletedTasks: 4}
	client := workspaceBackend(done, schemas.Snapshot{
		Nodes: []schemas.Entity{emailNode("e1", "a@x.test", 3), domainNode("d1", "x.test")},
	})

	out, err := runCommand(t, client, "watch", testJobID, "--exit-on-complete")
	require.NoError(t, err)
	assert.Contains(t, out, "graph  2 nodes, 0 edges risk[high=1")
	assert.Contains(t, out, "completed 4/4 tasks (100%)")
}

func TestWatchCommand_GraphUnavailable(t *testing.T) {
	client := new(mocks.MockBackend)
	client.On("GetJob", mock.Anything, testJobID).Return(runningJob(), nil)
	client.On("GetGraph", mock.Anything, testJobID).Return(nil, errors.New("backend down"))

	_, err := runCommand(t, client, "watch", testJobID)
	assert.ErrorContains(t, err, "backend down")
}

func TestFormatStats(t *testing.T) {
	g := knowledgegraph.NewGraph(nil)
	g.ReplaceSnapshot(schemas.Snapshot{
		Nodes: []schemas.Entity{emailNode("e1", "a@x.test", 3), emailNode("e2", "b@x.test", 0), domainNode("d1", "x.test")},
		Edges: []schemas.Relationship{{Source: "e1", Target: "missing", Type: "HAS_EMAIL"}},
	})

	assert.Equal(t, "3 nodes, 1 edges (1 dangling) risk[high=1 low=2] kinds[Domain=1 Email=2]", formatStats(g.Stats()))
	assert.Equal(t, "0 nodes, 0 edges", formatStats(knowledgegraph.Stats{}))
}

func TestFormatJob(t *testing.T) {
	assert.Equal(t, "running   1/4 tasks (25%)", formatJob("running", 1, 4, 0.25))
}

func TestMetricsMux(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.RecordRequest("get_graph", nil, 20*time.Millisecond)

	srv := httptest.NewServer(metricsMux(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "graphx_backend_requests_total")
}

func TestOpenArchive(t *testing.T) {
	withPool := func(t *testing.T, pool pgxmock.PgxPoolIface, connErr error) {
		original := newArchivePool
		newArchivePool = func(context.Context, string) (store.DBPool, func(), error) {
			if connErr != nil {
				return nil, nil, connErr
			}
			return pool, pool.Close, nil
		}
		t.Cleanup(func() { newArchivePool = original })
	}
	cfg := config.ArchiveConfig{Enabled: true, DatabaseURL: "postgres://graphx@localhost/graphx"}

	t.Run("should ping and create the schema", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		withPool(t, pool, nil)
		pool.ExpectPing()
		pool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS graph_snapshots")).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))

		archive, closeArchive, err := openArchive(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)
		assert.NotNil(t, archive)
		assert.NoError(t, pool.ExpectationsWereMet())
		closeArchive()
	})

	t.Run("should close the pool when the ping fails", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		withPool(t, pool, nil)
		pool.ExpectPing().WillReturnError(errors.New("connection refused"))

		_, _, err = openArchive(context.Background(), cfg, zap.NewNop())
		assert.ErrorContains(t, err, "failed to initialize snapshot archive")
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("should report a connection failure", func(t *testing.T) {
		withPool(t, nil, errors.New("bad dsn"))
		_, _, err := openArchive(context.Background(), cfg, zap.NewNop())
		assert.ErrorContains(t, err, "failed to connect to archive database")
	})
}
