package comfy

import (
	"reflect"
	"testing"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
)

const uiWorkflowDoc = `{
	"nodes": [
		{
			"id": 1,
			"type": "LoadAudio",
			"inputs": [
				{"name": "audio", "type": "STRING", "link": null, "widget": {"name": "audio"}}
			],
			"widgets_values": ["speech.wav"]
		},
		{
			"id": 2,
			"type": "PreviewAudio",
			"inputs": [
				{"name": "audio", "type": "AUDIO", "link": 7}
			]
		},
		{
			"id": 3,
			"inputs": [],
			"widgets_values": []
		}
	],
	"links": [
		[7, 1, 0, 2, 0, "AUDIO"],
		[9, 1]
	]
}`

func TestWorkflowToPrompt(t *testing.T) {
	prompt, err := WorkflowToPrompt([]byte(uiWorkflowDoc))
	if err != nil {
		t.Fatalf("WorkflowToPrompt: %v", err)
	}

	if len(prompt) != 2 {
		t.Fatalf("expected 2 nodes (typeless node skipped), got %d", len(prompt))
	}

	load, ok := prompt["1"]
	if !ok {
		t.Fatal("node 1 missing from prompt")
	}
	if load.ClassType != "LoadAudio" {
		t.Errorf("node 1 class_type = %s", load.ClassType)
	}
	if got := load.Inputs["audio"]; got != "speech.wav" {
		t.Errorf("node 1 widget value = %v, want speech.wav", got)
	}
	if load.Meta.Title != "LoadAudio" {
		t.Errorf("node 1 title = %s", load.Meta.Title)
	}

	preview, ok := prompt["2"]
	if !ok {
		t.Fatal("node 2 missing from prompt")
	}
	want := []any{"1", int64(0)}
	if !reflect.DeepEqual(preview.Inputs["audio"], want) {
		t.Errorf("node 2 linked input = %v, want %v", preview.Inputs["audio"], want)
	}
}

func TestWorkflowToPrompt_WidgetsValuesMapForm(t *testing.T) {
	doc := `{
		"nodes": [
			{
				"id": 10,
				"type": "TextNode",
				"inputs": [{"name": "text", "widget": {"name": "text"}}],
				"widgets_values": {"text": "hello", "seed": 42}
			}
		],
		"links": []
	}`

	prompt, err := WorkflowToPrompt([]byte(doc))
	if err != nil {
		t.Fatalf("WorkflowToPrompt: %v", err)
	}
	if got := prompt["10"].Inputs["text"]; got != "hello" {
		t.Errorf("text input = %v, want hello", got)
	}
}

func TestWorkflowToPrompt_EmptyPromptIsError(t *testing.T) {
	_, err := WorkflowToPrompt([]byte(`{"nodes": [], "links": []}`))
	if apperr.CodeOf(err, "") != CodeWorkflowError {
		t.Fatalf("expected %s, got %v", CodeWorkflowError, err)
	}
}

func TestIsAPIPrompt(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want bool
	}{
		{"api format", `{"1": {"class_type": "LoadAudio", "inputs": {}}}`, true},
		{"ui format", `{"nodes": [], "links": []}`, false},
		{"empty object", `{}`, false},
		{"no class_type", `{"1": {"inputs": {}}}`, false},
		{"not json", `nope`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAPIPrompt([]byte(tt.doc)); got != tt.want {
				t.Errorf("IsAPIPrompt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetPromptInput(t *testing.T) {
	prompt := map[string]PromptNode{
		"13": {ClassType: "MultiLinePrompt", Inputs: map[string]any{"multi_line_prompt": ""}},
	}

	if err := SetPromptInput(prompt, "13", "multi_line_prompt", "updated text"); err != nil {
		t.Fatalf("SetPromptInput: %v", err)
	}
	if got := prompt["13"].Inputs["multi_line_prompt"]; got != "updated text" {
		t.Errorf("input = %v, want updated text", got)
	}

	err := SetPromptInput(prompt, "99", "field", "value")
	if apperr.CodeOf(err, "") != CodeWorkflowError {
		t.Fatalf("expected %s for missing node, got %v", CodeWorkflowError, err)
	}
}
