package devserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/pipedash/pkg/client"
	"github.com/ravi-parthasarathy/pipedash/pkg/devserver"
	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
)

// ─── Store ────────────────────────────────────────────────────────────────────

func seeded(t *testing.T) (*devserver.Store, pipeline.Pipeline, pipeline.Node, pipeline.Node) {
	t.Helper()
	s := devserver.NewStore(devserver.NewCatalog())
	p := s.Create("demo", "")
	cam, err := s.AddNode(p.ID, pipeline.Node{RegistryName: "Webcam"})
	require.NoError(t, err)
	show, err := s.AddNode(p.ID, pipeline.Node{RegistryName: "ShowWindow"})
	require.NoError(t, err)
	return s, p, cam, show
}

func TestStore_AddNodeFillsFromTemplate(t *testing.T) {
	_, _, cam, _ := seeded(t)
	assert.NotEmpty(t, cam.ID)
	assert.Equal(t, pipeline.NodeTypeSource, cam.Type)
	assert.Equal(t, "Webcam", cam.Name)
	assert.Equal(t, "chimerapy-pipelines", cam.Package)
}

func TestStore_AddNodeUnknownTemplate(t *testing.T) {
	s := devserver.NewStore(devserver.NewCatalog())
	p := s.Create("demo", "")
	_, err := s.AddNode(p.ID, pipeline.Node{RegistryName: "Teleporter"})
	assert.ErrorIs(t, err, devserver.ErrUnknownTemplate)
}

func TestStore_ListKeepsCreationOrder(t *testing.T) {
	s := devserver.NewStore(devserver.NewCatalog())
	a := s.Create("a", "")
	b := s.Create("b", "")
	c := s.Create("c", "")
	_, err := s.Remove(b.ID)
	require.NoError(t, err)

	got := s.List()
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, c.ID, got[1].ID)
}

func TestStore_EdgeLifecycle(t *testing.T) {
	s, p, cam, show := seeded(t)

	e, err := s.AddEdge(p.ID, cam, show, "e1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.Edge{ID: "e1", Source: cam.ID, Sink: show.ID}, e)

	_, err = s.AddEdge(p.ID, cam, show, "e1")
	assert.ErrorIs(t, err, devserver.ErrDuplicateEdge)

	_, err = s.AddEdge(p.ID, show, cam, "")
	assert.ErrorIs(t, err, pipeline.ErrInvalidLink)

	removed, err := s.RemoveEdge(p.ID, cam, show, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", removed.ID)

	_, err = s.RemoveEdge(p.ID, cam, show, "e1")
	assert.ErrorIs(t, err, devserver.ErrEdgeNotFound)
}

func TestStore_AddEdgeUsesStoredTypes(t *testing.T) {
	s, p, cam, show := seeded(t)
	// The request claims show is a STEP; the stored SINK type wins.
	lying := show
	lying.Type = pipeline.NodeTypeStep
	_, err := s.AddEdge(p.ID, lying, cam, "")
	assert.ErrorIs(t, err, pipeline.ErrInvalidLink)
}

func TestStore_RetypeLinkedNodeRejected(t *testing.T) {
	s, p, cam, show := seeded(t)
	_, err := s.AddEdge(p.ID, cam, show, "")
	require.NoError(t, err)

	show.Type = pipeline.NodeTypeStep
	_, err = s.AddNode(p.ID, show)
	assert.ErrorIs(t, err, pipeline.ErrNodeLinked)
}

func TestStore_RemoveNodeDropsIncidentEdges(t *testing.T) {
	s, p, cam, show := seeded(t)
	_, err := s.AddEdge(p.ID, cam, show, "")
	require.NoError(t, err)

	_, err = s.RemoveNode(p.ID, cam)
	require.NoError(t, err)

	got, err := s.Get(p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)
	assert.Empty(t, got.Edges)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s, p, _, _ := seeded(t)
	got, err := s.Get(p.ID)
	require.NoError(t, err)
	got.Nodes[0].Name = "mutated"

	again, err := s.Get(p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Nodes[0].Name)
}

func TestStore_Import(t *testing.T) {
	s := devserver.NewStore(devserver.NewCatalog())
	p, err := s.Import(&pipeline.ImportConfig{
		Nodes: []string{"Webcam", "MPPoseDetector", "ShowWindow"},
		Adj:   [][2]string{{"Webcam", "MPPoseDetector"}, {"MPPoseDetector", "ShowWindow"}},
	})
	require.NoError(t, err)
	assert.Len(t, p.Nodes, 3)
	assert.Len(t, p.Edges, 2)
	assert.NoError(t, pipeline.ValidateErr(&p))
}

func TestStore_ImportRejectsDisallowedLink(t *testing.T) {
	s := devserver.NewStore(devserver.NewCatalog())
	_, err := s.Import(&pipeline.ImportConfig{
		Nodes: []string{"ShowWindow", "Webcam"},
		Adj:   [][2]string{{"ShowWindow", "Webcam"}},
	})
	assert.ErrorIs(t, err, devserver.ErrInvalidImport)
	assert.Empty(t, s.List())
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

func TestCatalog_InstallPlugin(t *testing.T) {
	c := devserver.NewCatalog()
	plugins := c.Plugins()
	require.NotEmpty(t, plugins)
	assert.False(t, plugins[0].Installed)

	nodes, err := c.Install(plugins[0].Name)
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	assert.True(t, c.Plugins()[0].Installed)

	_, err = c.Template(nodes[0].RegistryName)
	assert.NoError(t, err)

	_, err = c.Install("no-such-plugin")
	assert.True(t, errors.Is(err, devserver.ErrUnknownPlugin))
}

func TestCatalog_Source(t *testing.T) {
	c := devserver.NewCatalog()
	src, err := c.Source("Webcam", "chimerapy-pipelines")
	require.NoError(t, err)
	assert.Contains(t, src, "class Webcam")

	_, err = c.Source("Webcam", "other")
	assert.ErrorIs(t, err, devserver.ErrNoSource)
}

// ─── HTTP routes ──────────────────────────────────────────────────────────────

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_CreateDiscriminatesOnConfig(t *testing.T) {
	h := devserver.New().Handler()

	rec := do(t, h, http.MethodPut, "/pipeline/create", map[string]string{"name": "plain"})
	require.Equal(t, http.StatusOK, rec.Code)
	var created pipeline.Pipeline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "plain", created.Name)
	assert.Empty(t, created.Nodes)

	cfg := `{"nodes":["Webcam","ShowWindow"],"adj":[["Webcam","ShowWindow"]]}`
	rec = do(t, h, http.MethodPut, "/pipeline/create", map[string]string{"config": cfg})
	require.Equal(t, http.StatusOK, rec.Code)
	var imported pipeline.Pipeline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &imported))
	assert.Len(t, imported.Nodes, 2)
	assert.Len(t, imported.Edges, 1)

	rec = do(t, h, http.MethodPut, "/pipeline/create", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StatusCodes(t *testing.T) {
	srv := devserver.New()
	h := srv.Handler()
	p := srv.Store().Create("demo", "")
	cam, err := srv.Store().AddNode(p.ID, pipeline.Node{RegistryName: "Webcam"})
	require.NoError(t, err)
	show, err := srv.Store().AddNode(p.ID, pipeline.Node{RegistryName: "ShowWindow"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing pipeline", http.MethodGet, "/pipeline/get/nope", nil, http.StatusNotFound},
		{"unknown edge node", http.MethodPost, "/pipeline/add-edge/" + p.ID,
			map[string]any{"source": cam, "sink": pipeline.Node{ID: "ghost"}}, http.StatusNotFound},
		{"disallowed link", http.MethodPost, "/pipeline/add-edge/" + p.ID,
			map[string]any{"source": show, "sink": cam}, http.StatusBadRequest},
		{"edge without endpoints", http.MethodPost, "/pipeline/add-edge/" + p.ID,
			map[string]any{"id": "x"}, http.StatusBadRequest},
		{"bad node type", http.MethodPost, "/pipeline/add-node/" + p.ID,
			map[string]any{"registry_name": "Webcam", "type": "FILTER"}, http.StatusBadRequest},
		{"unknown plugin", http.MethodPost, "/pipeline/install-plugin/nope", nil, http.StatusNotFound},
		{"allowed link", http.MethodPost, "/pipeline/add-edge/" + p.ID,
			map[string]any{"source": cam, "sink": show, "id": "e1"}, http.StatusOK},
		{"duplicate edge", http.MethodPost, "/pipeline/add-edge/" + p.ID,
			map[string]any{"source": cam, "sink": show, "id": "e1"}, http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_ErrorBody(t *testing.T) {
	rec := do(t, devserver.New().Handler(), http.MethodGet, "/pipeline/get/nope", nil)
	var body struct {
		Error   bool   `json:"error"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Error)
	assert.Equal(t, http.StatusNotFound, body.Code)
	assert.Contains(t, body.Message, "pipeline not found")
}

func TestServer_EscapedSlashIsOneParam(t *testing.T) {
	rec := do(t, devserver.New().Handler(), http.MethodGet, "/pipeline/get/x%2Fy", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	// The handler ran, so the route matched with the id unescaped.
	assert.Contains(t, rec.Body.String(), `\"x/y\"`)
}

func TestServer_PercentInIDRoundTrips(t *testing.T) {
	srv := devserver.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()
	pc := client.NewPipelineClient(ts.URL, "")

	for _, id := range []string{"50%", "x%41", "a/b", "100%/x%2F"} {
		t.Run(id, func(t *testing.T) {
			_, err := srv.Store().CreateWithID(id, "pct", "")
			require.NoError(t, err)

			got, ok := pc.GetPipeline(context.Background(), id).Value()
			require.True(t, ok, "get %q failed", id)
			assert.Equal(t, id, got.ID)
		})
	}
}

func TestServer_PercentIsNotDecodedTwice(t *testing.T) {
	h := devserver.New().Handler()

	rec := do(t, h, http.MethodGet, "/pipeline/get/50%25", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `\"50%\"`)

	rec = do(t, h, http.MethodGet, "/pipeline/get/x%2541", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `\"x%41\"`)
}

func TestStore_CreateWithIDRejectsDuplicate(t *testing.T) {
	s := devserver.NewStore(devserver.NewCatalog())
	_, err := s.CreateWithID("fixed", "a", "")
	require.NoError(t, err)
	_, err = s.CreateWithID("fixed", "b", "")
	assert.ErrorIs(t, err, devserver.ErrDuplicatePipeline)
	_, err = s.CreateWithID("", "c", "")
	assert.Error(t, err)
}

func TestServer_SourceCodeQuery(t *testing.T) {
	h := devserver.New().Handler()
	rec := do(t, h, http.MethodGet, "/pipeline/node/source-code/?registry_name=ShowWindow&package=chimerapy-pipelines", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var src string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &src))
	assert.True(t, strings.HasPrefix(src, "class ShowWindow"))
}

func TestServer_NetworkMap(t *testing.T) {
	srv := devserver.New()
	rec := do(t, srv.Handler(), http.MethodGet, "/mocks/networkMap.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, json.Valid(rec.Body.Bytes()))

	srv.SetNetwork(pipeline.ClusterState(`{"workers":{}}`))
	rec = do(t, srv.Handler(), http.MethodGet, "/network", nil)
	assert.JSONEq(t, `{"workers":{}}`, rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := devserver.New(devserver.WithRegistry(reg))
	h := srv.Handler()

	do(t, h, http.MethodPut, "/pipeline/create", map[string]string{"name": "a"})
	do(t, h, http.MethodGet, "/pipeline/get/nope", nil)

	n, err := testutil.GatherAndCount(reg, "pipedash_devserver_mutations_total", "pipedash_devserver_rejected_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Contains(t, rec.Body.String(), "pipedash_devserver_pipelines 1")
}

// ─── Streams ──────────────────────────────────────────────────────────────────

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func TestServer_ClusterUpdatesGreetsWithSnapshot(t *testing.T) {
	srv := devserver.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/cluster-updates"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.True(t, json.Valid(msg))
	assert.Contains(t, string(msg), `"workers"`)
}

func TestServer_LogsStreamMutations(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := devserver.New(devserver.WithRegistry(reg))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/logs"), nil)
	require.NoError(t, err)
	defer conn.Close()

	attached := `
# HELP pipedash_devserver_stream_peers Websocket peers attached to a stream.
# TYPE pipedash_devserver_stream_peers gauge
pipedash_devserver_stream_peers{stream="cluster-updates"} 0
pipedash_devserver_stream_peers{stream="logs"} 1
`
	require.Eventually(t, func() bool {
		return testutil.GatherAndCompare(reg, strings.NewReader(attached), "pipedash_devserver_stream_peers") == nil
	}, 2*time.Second, 10*time.Millisecond)

	rec := do(t, srv.Handler(), http.MethodPut, "/pipeline/create", map[string]string{"name": "streamed"})
	require.Equal(t, http.StatusOK, rec.Code)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev struct {
		Operation string `json:"operation"`
		Message   string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "create_pipeline", ev.Operation)
	assert.Contains(t, ev.Message, "streamed")
}
