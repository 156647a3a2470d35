package pipeline_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
)

func samplePipeline() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		ID:   "p1",
		Name: "demo",
		Nodes: []pipeline.Node{
			{ID: "cam", Name: "Webcam", Type: pipeline.NodeTypeSource, RegistryName: "Webcam", Package: "chimerapy-pipelines"},
			{ID: "pose", Name: "Pose", Type: pipeline.NodeTypeStep, RegistryName: "MPPoseDetector", Package: "chimerapy-pipelines"},
			{ID: "show", Name: "Show", Type: pipeline.NodeTypeSink, RegistryName: "ShowWindow", Package: "chimerapy-pipelines"},
		},
		Edges: []pipeline.Edge{
			{ID: "e1", Source: "cam", Sink: "pose"},
			{ID: "e2", Source: "pose", Sink: "show"},
		},
	}
}

// ─── Validity rules ───────────────────────────────────────────────────────────

func TestIsValidLink(t *testing.T) {
	types := []pipeline.NodeType{pipeline.NodeTypeSource, pipeline.NodeTypeStep, pipeline.NodeTypeSink}
	allowed := map[[2]pipeline.NodeType]bool{
		{pipeline.NodeTypeSource, pipeline.NodeTypeStep}: true,
		{pipeline.NodeTypeStep, pipeline.NodeTypeSink}:   true,
		{pipeline.NodeTypeSource, pipeline.NodeTypeSink}: true,
	}
	for _, src := range types {
		for _, tgt := range types {
			want := allowed[[2]pipeline.NodeType{src, tgt}]
			if got := pipeline.IsValidLink(src, tgt); got != want {
				t.Errorf("IsValidLink(%s, %s) = %v, want %v", src, tgt, got, want)
			}
		}
	}
}

func TestIsValidLink_NoWildcards(t *testing.T) {
	if pipeline.IsValidLink("", pipeline.NodeTypeStep) {
		t.Error("empty source type must not match")
	}
	if pipeline.IsValidLink(pipeline.NodeTypeSource, "step") {
		t.Error("matching is case-sensitive")
	}
}

func TestLinkRules_IsACopy(t *testing.T) {
	rules := pipeline.LinkRules()
	if len(rules) != 3 {
		t.Fatalf("rules = %d, want 3", len(rules))
	}
	rules[0] = pipeline.LinkRule{Source: pipeline.NodeTypeSink, Target: pipeline.NodeTypeSink}
	if pipeline.IsValidLink(pipeline.NodeTypeSink, pipeline.NodeTypeSink) {
		t.Error("mutating the returned table must not change the rules")
	}
}

func TestCheckLink(t *testing.T) {
	p := samplePipeline()
	show, _ := p.Node("show")
	cam, _ := p.Node("cam")
	if err := pipeline.CheckLink(cam, show); err != nil {
		t.Errorf("SOURCE -> SINK: unexpected error %v", err)
	}
	err := pipeline.CheckLink(show, cam)
	if !errors.Is(err, pipeline.ErrInvalidLink) {
		t.Fatalf("SINK -> SOURCE: err = %v, want ErrInvalidLink", err)
	}
	if !strings.Contains(err.Error(), "SINK") {
		t.Errorf("error should name the types: %v", err)
	}
}

// ─── Model helpers ────────────────────────────────────────────────────────────

func TestPipelineEdges(t *testing.T) {
	p := samplePipeline()
	if got := len(p.OutgoingEdges("cam")); got != 1 {
		t.Errorf("outgoing(cam) = %d, want 1", got)
	}
	if got := len(p.IncomingEdges("show")); got != 1 {
		t.Errorf("incoming(show) = %d, want 1", got)
	}
	if got := p.Degree("pose"); got != 2 {
		t.Errorf("degree(pose) = %d, want 2", got)
	}
	if _, ok := p.Edge("e2"); !ok {
		t.Error("edge e2 not found")
	}
}

func TestRetype(t *testing.T) {
	p := samplePipeline()
	p.Nodes = append(p.Nodes, pipeline.Node{ID: "loose", Type: pipeline.NodeTypeStep})

	if err := p.Retype("pose", pipeline.NodeTypeSink); !errors.Is(err, pipeline.ErrNodeLinked) {
		t.Errorf("linked node: err = %v, want ErrNodeLinked", err)
	}
	if err := p.Retype("pose", pipeline.NodeTypeStep); err != nil {
		t.Errorf("same type should be a no-op, got %v", err)
	}
	if err := p.Retype("loose", pipeline.NodeTypeSink); err != nil {
		t.Fatalf("unlinked node: %v", err)
	}
	if n, _ := p.Node("loose"); n.Type != pipeline.NodeTypeSink {
		t.Errorf("type = %s, want SINK", n.Type)
	}
	if err := p.Retype("ghost", pipeline.NodeTypeSink); !errors.Is(err, pipeline.ErrUnknownNode) {
		t.Errorf("missing node: err = %v", err)
	}
	if err := p.Retype("loose", "FILTER"); !errors.Is(err, pipeline.ErrUnknownNodeType) {
		t.Errorf("bad type: err = %v", err)
	}
}

func TestResponseErrorMessage(t *testing.T) {
	e := pipeline.ResponseError{Message: "Not Found", Code: 404}
	if e.Error() != "404 Not Found" {
		t.Errorf("Error() = %q", e.Error())
	}
	if (pipeline.ResponseError{Message: "dial failed"}).Error() != "dial failed" {
		t.Error("zero code should print the bare message")
	}
}

func TestClusterStatePassThrough(t *testing.T) {
	raw := `{"workers":{"w1":{"nodes":{}}},"running":true}`
	var wrapper struct {
		State pipeline.ClusterState `json:"state"`
	}
	if err := json.Unmarshal([]byte(`{"state":`+raw+`}`), &wrapper); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(wrapper.State) != raw {
		t.Errorf("state = %s, want verbatim %s", wrapper.State, raw)
	}
	out, err := json.Marshal(wrapper)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"state":`+raw+`}` {
		t.Errorf("marshal = %s", out)
	}
}

// ─── Validator tests ──────────────────────────────────────────────────────────

func TestValidate_Valid(t *testing.T) {
	if err := pipeline.ValidateErr(samplePipeline()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidate_DanglingEdge(t *testing.T) {
	p := samplePipeline()
	p.Edges = append(p.Edges, pipeline.Edge{ID: "e3", Source: "cam", Sink: "gone"})
	errs := pipeline.Validate(p)
	if len(errs) != 1 || errs[0].EdgeID != "e3" {
		t.Fatalf("errs = %v, want one error on e3", errs)
	}
}

func TestValidate_DisallowedLink(t *testing.T) {
	p := samplePipeline()
	p.Edges = append(p.Edges, pipeline.Edge{ID: "back", Source: "show", Sink: "cam"})
	err := pipeline.ValidateErr(p)
	if err == nil || !strings.Contains(err.Error(), "SINK -> SOURCE") {
		t.Errorf("expected disallowed link error, got %v", err)
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	p := samplePipeline()
	p.Nodes = append(p.Nodes,
		pipeline.Node{ID: "cam", Type: pipeline.NodeTypeSource},
		pipeline.Node{ID: "odd", Type: "FILTER"},
	)
	p.Edges = append(p.Edges, pipeline.Edge{ID: "e1", Source: "pose", Sink: "pose"})
	errs := pipeline.Validate(p)
	// duplicate node, unknown type, duplicate edge id, STEP -> STEP
	if len(errs) != 4 {
		t.Errorf("errs = %d (%v), want 4", len(errs), errs)
	}
}

// ─── Import config / DOT ──────────────────────────────────────────────────────

func TestParseDOT(t *testing.T) {
	src := `digraph demo {
		logdir="runs"
		Webcam     [worker=w1]
		Pose       [worker=w2]
		ShowWindow [worker=w1]
		Webcam -> Pose
		Pose -> ShowWindow
	}`
	cfg, err := pipeline.ParseDOT(src)
	if err != nil {
		t.Fatalf("ParseDOT: %v", err)
	}
	if len(cfg.Nodes) != 3 {
		t.Errorf("nodes = %v, want 3", cfg.Nodes)
	}
	if len(cfg.Adj) != 2 || cfg.Adj[0] != [2]string{"Webcam", "Pose"} {
		t.Errorf("adj = %v", cfg.Adj)
	}
	if cfg.ManagerConfig.Logdir != "runs" {
		t.Errorf("logdir = %q", cfg.ManagerConfig.Logdir)
	}
	if got := cfg.Mappings["w1"]; len(got) != 2 {
		t.Errorf("w1 mapping = %v", got)
	}
	if len(cfg.Workers) != 2 || cfg.Workers[0].Name != "w1" {
		t.Errorf("workers = %v", cfg.Workers)
	}
}

func TestParseDOT_UndeclaredEdgeNodes(t *testing.T) {
	cfg, err := pipeline.ParseDOT(`digraph g { A -> B }`)
	if err != nil {
		t.Fatalf("ParseDOT: %v", err)
	}
	if len(cfg.Nodes) != 2 {
		t.Errorf("nodes = %v, want [A B]", cfg.Nodes)
	}
	if cfg.ManagerConfig.Logdir != "logs" {
		t.Errorf("default logdir = %q", cfg.ManagerConfig.Logdir)
	}
}

func TestParseDOT_RegistryNameAttr(t *testing.T) {
	cfg, err := pipeline.ParseDOT(`digraph g {
		cam [registry_name=Webcam, worker=w1]
		win [registry_name="ShowWindow"]
		cam -> win
	}`)
	if err != nil {
		t.Fatalf("ParseDOT: %v", err)
	}
	if len(cfg.Nodes) != 2 || cfg.Nodes[0] != "Webcam" || cfg.Nodes[1] != "ShowWindow" {
		t.Errorf("nodes = %v", cfg.Nodes)
	}
	if len(cfg.Adj) != 1 || cfg.Adj[0] != [2]string{"Webcam", "ShowWindow"} {
		t.Errorf("adj = %v", cfg.Adj)
	}
	if got := cfg.Mappings["w1"]; len(got) != 1 || got[0] != "Webcam" {
		t.Errorf("w1 mapping = %v", got)
	}
}

func TestParseDOT_DuplicateRegistryName(t *testing.T) {
	_, err := pipeline.ParseDOT(`digraph g {
		a [registry_name=Webcam]
		b [registry_name=Webcam]
	}`)
	if err == nil {
		t.Error("expected error for two nodes with one registry name")
	}
}

func TestParseDOT_Invalid(t *testing.T) {
	if _, err := pipeline.ParseDOT(`digraph {`); err == nil {
		t.Error("expected parse error")
	}
}

func TestImportConfigRoundTrip(t *testing.T) {
	cfg, err := pipeline.ParseDOT(`digraph g { A -> B }`)
	if err != nil {
		t.Fatalf("ParseDOT: %v", err)
	}
	blob, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := pipeline.DecodeImportConfig(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(back.Adj) != 1 || back.Adj[0][1] != "B" {
		t.Errorf("adj = %v", back.Adj)
	}
}

func TestDecodeImportConfig_UnknownAdjNode(t *testing.T) {
	_, err := pipeline.DecodeImportConfig(`{"nodes":["A"],"adj":[["A","B"]]}`)
	if err == nil {
		t.Error("expected error for adjacency to unknown node")
	}
}
