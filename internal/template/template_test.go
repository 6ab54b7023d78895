package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() Context {
	return Context{
		Steps: map[string]map[string]any{
			"fetch": {"status": 200, "body": map[string]any{"id": "inv-7"}},
		},
		Workflow: map[string]any{"id": "wf-1", "name": "invoices", "version": 3},
		Run:      map[string]any{"id": "run-1"},
		Trigger:  "manual",
		Now:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRenderParams_Plain(t *testing.T) {
	params := map[string]any{"path": "/tmp/in", "count": 3, "flag": true}
	out, err := RenderParams(params, testContext())
	require.NoError(t, err)
	assert.Equal(t, params, out)
}

func TestRenderParams_References(t *testing.T) {
	params := map[string]any{
		"status":  "{{ .steps.fetch.status }}",
		"message": "invoice {{ .steps.fetch.body.id }} for {{ .workflow.name }}",
		"nested": map[string]any{
			"run":  "{{ .run.id }}",
			"list": []any{"{{ .trigger }}", 5},
		},
		"when": "{{ now }}",
	}
	out, err := RenderParams(params, testContext())
	require.NoError(t, err)

	assert.Equal(t, 200, out["status"])
	assert.Equal(t, "invoice inv-7 for invoices", out["message"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "run-1", nested["run"])
	assert.Equal(t, []any{"manual", 5}, nested["list"])
	assert.Equal(t, "2025-01-02T03:04:05Z", out["when"])

	assert.Equal(t, "{{ .steps.fetch.status }}", params["status"])
}

func TestRenderParams_JSONAndDefault(t *testing.T) {
	out, err := RenderParams(map[string]any{
		"body":  "{{ json .steps.fetch.body }}",
		"label": `{{ default "none" .trigger }}`,
	}, testContext())
	require.NoError(t, err)
	assert.Equal(t, `{"id":"inv-7"}`, out["body"])
	assert.Equal(t, "manual", out["label"])
}

func TestRenderParams_MissingReference(t *testing.T) {
	_, err := RenderParams(map[string]any{"x": "{{ .steps.nope.status }}"}, testContext())
	assert.Error(t, err)

	_, err = RenderParams(map[string]any{"x": "{{ .steps.fetch"}, testContext())
	assert.ErrorContains(t, err, "param x")
}

func TestRenderParams_Nil(t *testing.T) {
	out, err := RenderParams(nil, Context{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRenderParams_KeepsNativeTypes(t *testing.T) {
	ctx := testContext()
	ctx.Steps["scan"] = map[string]any{"code": "0042", "flag": "T", "name": "NaN", "size": 12.5, "ok": true}
	out, err := RenderParams(map[string]any{
		"code":    "{{ .steps.scan.code }}",
		"flag":    "{{.steps.scan.flag}}",
		"name":    " {{ .steps.scan.name }} ",
		"size":    "{{ .steps.scan.size }}",
		"ok":      "{{ .steps.scan.ok }}",
		"body":    "{{ .steps.fetch.body }}",
		"mixed":   "{{ .steps.scan.size }}kb",
		"counted": "{{ .steps.fetch.status }}0",
	}, ctx)
	require.NoError(t, err)

	assert.Equal(t, "0042", out["code"])
	assert.Equal(t, "T", out["flag"])
	assert.Equal(t, "NaN", out["name"])
	assert.Equal(t, 12.5, out["size"])
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, map[string]any{"id": "inv-7"}, out["body"])
	assert.Equal(t, "12.5kb", out["mixed"])
	assert.Equal(t, "2000", out["counted"])
}

func TestRenderParams_TriggerData(t *testing.T) {
	ctx := testContext()
	ctx.Trigger = "file"
	ctx.TriggerData = map[string]any{"path": "/in/invoice.pdf", "event": "create"}
	out, err := RenderParams(map[string]any{
		"kind":   "{{ .trigger }}",
		"path":   "{{ .trigger.path }}",
		"banner": "{{ .trigger }} {{ .trigger.event }}",
	}, ctx)
	require.NoError(t, err)
	assert.Equal(t, "file", out["kind"])
	assert.Equal(t, "/in/invoice.pdf", out["path"])
	assert.Equal(t, "file create", out["banner"])

	_, err = RenderParams(map[string]any{"x": "{{ .trigger.path }}"}, testContext())
	assert.Error(t, err)
}
