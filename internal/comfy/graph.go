package comfy

import (
	"encoding/json"
	"fmt"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
)

// PromptNode is one entry of an API-format prompt document, keyed by node ID.
type PromptNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      promptMeta     `json:"_meta"`
}

type promptMeta struct {
	Title string `json:"title"`
}

type uiWorkflow struct {
	Nodes []uiNode          `json:"nodes"`
	Links []json.RawMessage `json:"links"`
}

type uiNode struct {
	ID            json.Number     `json:"id"`
	Type          string          `json:"type"`
	Inputs        []uiInput       `json:"inputs"`
	WidgetsValues json.RawMessage `json:"widgets_values"`
}

type uiInput struct {
	Name   string          `json:"name"`
	Link   *int64          `json:"link"`
	Widget json.RawMessage `json:"widget"`
}

// uiLink is the positional link tuple [id, fromNode, fromOutputIndex, toNode,
// toInputIndex, type]. Entries shorter than six elements are ignored.
type uiLink struct {
	id            int64
	fromNode      json.Number
	fromOutputIdx int64
}

// IsAPIPrompt reports whether the document is already in API prompt format:
// no top-level "nodes" array, and at least one value carrying a class_type.
func IsAPIPrompt(doc []byte) bool {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(doc, &root); err != nil {
		return false
	}
	if len(root) == 0 {
		return false
	}
	if _, ok := root["nodes"]; ok {
		return false
	}
	for _, raw := range root {
		var node struct {
			ClassType *string `json:"class_type"`
		}
		if err := json.Unmarshal(raw, &node); err != nil {
			return false
		}
		return node.ClassType != nil
	}
	return false
}

// WorkflowToPrompt converts a UI workflow document (nodes plus positional
// links) into the API prompt format the runner executes. Nodes without a type
// are skipped. Linked inputs become [fromNodeID, outputIndex] pairs; remaining
// widget inputs take their values from widgets_values, matched positionally
// for list form and by name for map form.
func WorkflowToPrompt(doc []byte) (map[string]PromptNode, error) {
	var wf uiWorkflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, apperr.Wrap(CodeWorkflowError, "workflow JSON decode failed", err)
	}

	linkByID := make(map[int64]uiLink, len(wf.Links))
	for _, raw := range wf.Links {
		var tuple []json.Number
		if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) < 6 {
			continue
		}
		id, err := tuple[0].Int64()
		if err != nil {
			continue
		}
		outIdx, err := tuple[2].Int64()
		if err != nil {
			continue
		}
		linkByID[id] = uiLink{id: id, fromNode: tuple[1], fromOutputIdx: outIdx}
	}

	prompt := make(map[string]PromptNode, len(wf.Nodes))
	for _, node := range wf.Nodes {
		if node.Type == "" {
			continue
		}

		widgetMap := widgetValues(node)

		inputs := make(map[string]any, len(node.Inputs))
		for _, inp := range node.Inputs {
			if inp.Name == "" {
				continue
			}
			if inp.Link != nil {
				if link, ok := linkByID[*inp.Link]; ok {
					inputs[inp.Name] = []any{link.fromNode.String(), link.fromOutputIdx}
					continue
				}
			}
			if value, ok := widgetMap[inp.Name]; ok {
				inputs[inp.Name] = value
			}
		}

		prompt[node.ID.String()] = PromptNode{
			ClassType: node.Type,
			Inputs:    inputs,
			Meta:      promptMeta{Title: node.Type},
		}
	}

	if len(prompt) == 0 {
		return nil, apperr.New(CodeWorkflowError, "workflow parse failed: empty/invalid prompt")
	}
	return prompt, nil
}

// widgetValues maps widget input names to their values. The list form pairs
// values with widget-bearing inputs in declaration order.
func widgetValues(node uiNode) map[string]any {
	if len(node.WidgetsValues) == 0 {
		return nil
	}

	var asMap map[string]any
	if err := json.Unmarshal(node.WidgetsValues, &asMap); err == nil {
		return asMap
	}

	var asList []any
	if err := json.Unmarshal(node.WidgetsValues, &asList); err != nil {
		return nil
	}

	out := make(map[string]any)
	idx := 0
	for _, inp := range node.Inputs {
		if len(inp.Widget) == 0 || string(inp.Widget) == "null" {
			continue
		}
		if idx >= len(asList) {
			break
		}
		out[inp.Name] = asList[idx]
		idx++
	}
	return out
}

// SetPromptInput overrides a single input field on a node in an API prompt.
// Missing nodes are an error so workflow drift fails loudly.
func SetPromptInput(prompt map[string]PromptNode, nodeID, field string, value any) error {
	node, ok := prompt[nodeID]
	if !ok {
		return apperr.New(CodeWorkflowError, fmt.Sprintf("workflow node %s not found", nodeID))
	}
	if node.Inputs == nil {
		node.Inputs = make(map[string]any, 1)
	}
	node.Inputs[field] = value
	prompt[nodeID] = node
	return nil
}
