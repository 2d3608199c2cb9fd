package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zeroloop/zeroloop/config"
	"github.com/zeroloop/zeroloop/internal/tools/knowledge"
)

func newTestInvoker(t *testing.T, cfg config.ToolsConfig) *Invoker {
	t.Helper()
	kidx, err := knowledge.NewIndex()
	if err != nil {
		t.Fatalf("knowledge index: %v", err)
	}
	inv, err := NewInvoker(cfg, kidx, nil)
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}
	return inv
}

func TestInvokeUnknownTool(t *testing.T) {
	inv := newTestInvoker(t, config.ToolsConfig{})
	_, err := inv.Invoke(context.Background(), "no-such-tool", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
}

func TestInvokeSynthesisRejected(t *testing.T) {
	inv := newTestInvoker(t, config.ToolsConfig{})
	if _, err := inv.Invoke(context.Background(), ToolSynthesis, nil); err == nil {
		t.Fatal("synthesis must not dispatch as an external tool")
	}
}

func TestInvokeWebSearchMissingCredential(t *testing.T) {
	inv := newTestInvoker(t, config.ToolsConfig{})
	_, err := inv.Invoke(context.Background(), ToolWebSearch, map[string]interface{}{"query": "go"})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
}

func TestInvokeJiraMissingCredential(t *testing.T) {
	inv := newTestInvoker(t, config.ToolsConfig{})
	_, err := inv.Invoke(context.Background(), ToolJira, map[string]interface{}{"query": "bug"})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
}

func TestInvokeEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("Authorization = %q", got)
		}
		var params map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Errorf("decoding params: %v", err)
		}
		if params["query"] != "release notes" {
			t.Errorf("params = %v", params)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    []map[string]string{{"title": "A", "snippet": "B"}},
		})
	}))
	defer srv.Close()

	inv := newTestInvoker(t, config.ToolsConfig{
		Endpoints: map[string]config.EndpointConfig{
			"release-tool": {URL: srv.URL, Token: "sekrit"},
		},
	})
	out, err := inv.Invoke(context.Background(), "release-tool", map[string]interface{}{"query": "release notes"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !out.Success {
		t.Fatalf("invocation failed: %s", out.Error)
	}
	if got := out.Payload.ExtractText(); got != "A: B" {
		t.Fatalf("ExtractText = %q", got)
	}
}

func TestInvokeEndpointReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "quota exceeded"})
	}))
	defer srv.Close()

	inv := newTestInvoker(t, config.ToolsConfig{
		Endpoints: map[string]config.EndpointConfig{"quota-tool": {URL: srv.URL}},
	})
	out, err := inv.Invoke(context.Background(), "quota-tool", nil)
	if err != nil {
		t.Fatalf("tool-level failure must not be a Go error: %v", err)
	}
	if out.Success || out.Error != "quota exceeded" {
		t.Fatalf("invocation = %+v", out)
	}
}

func TestInvokeKnowledgeSearch(t *testing.T) {
	inv := newTestInvoker(t, config.ToolsConfig{})
	if err := inv.KnowledgeIndex().Add(knowledge.Entry{
		ID:      "n1",
		Title:   "Deploy checklist",
		Content: "rotate credentials before the deploy window opens",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	out, err := inv.Invoke(context.Background(), ToolKnowledge, map[string]interface{}{"query": "deploy"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !out.Success || out.Payload.Kind != KindItems || len(out.Payload.Items) == 0 {
		t.Fatalf("invocation = %+v", out)
	}
	if out.Payload.Items[0].Title != "Deploy checklist" {
		t.Fatalf("hit = %+v", out.Payload.Items[0])
	}
}
