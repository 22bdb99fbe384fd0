// Package flow compiles an authored flow definition into the runtime graph
// the engine traverses. The authored model.Flow is never mutated; executions
// read the graph through lookups only.
package flow

import (
	"encoding/json"
	"fmt"

	"github.com/waflow/flowd/model"
)

const HANDLE_YES = "yes"
const HANDLE_NO = "no"

// Node is a flow node with its data payload decoded for the node type. Only
// the field matching Type is set.
type Node struct {
	Id   string
	Type model.NodeType

	SendMessage *model.SendMessageConfig
	UserInput   *model.UserInputConfig
	Condition   *model.ConditionConfig
	GoTo        *model.GoToConfig
	ApiCall     *model.ApiCallConfig
	Delay       *model.DelayConfig
}

type Graph struct {
	FlowId    string
	StartNode string
	nodes     map[string]*Node
	outgoing  map[string][]model.Edge
}

// Convert builds the runtime graph from an authored flow. Definitions that
// fail to decode are rejected here, before any execution exists.
func Convert(f *model.Flow) (*Graph, error) {
	g := &Graph{
		FlowId:   f.Id,
		nodes:    make(map[string]*Node),
		outgoing: make(map[string][]model.Edge),
	}
	for i := range f.Nodes {
		def := &f.Nodes[i]
		if _, ok := g.nodes[def.Id]; ok {
			return nil, fmt.Errorf("node id %s is duplicate", def.Id)
		}
		node, err := convertNode(def)
		if err != nil {
			return nil, err
		}
		g.nodes[def.Id] = node
		if def.Type == model.NODE_TYPE_TRIGGER {
			if g.StartNode != "" {
				return nil, fmt.Errorf("flow %s has more than one trigger node", f.Id)
			}
			g.StartNode = def.Id
		}
	}
	if g.StartNode == "" {
		return nil, fmt.Errorf("flow %s has no trigger node", f.Id)
	}
	for _, edge := range f.Edges {
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
	}
	return g, nil
}

func convertNode(def *model.Node) (*Node, error) {
	node := &Node{Id: def.Id, Type: def.Type}
	var err error
	switch def.Type {
	case model.NODE_TYPE_TRIGGER:
	case model.NODE_TYPE_SEND_MESSAGE:
		node.SendMessage = &model.SendMessageConfig{}
		err = decodeData(def, node.SendMessage)
	case model.NODE_TYPE_USER_INPUT:
		node.UserInput = &model.UserInputConfig{}
		err = decodeData(def, node.UserInput)
	case model.NODE_TYPE_CONDITION:
		node.Condition = &model.ConditionConfig{}
		err = decodeData(def, node.Condition)
	case model.NODE_TYPE_GOTO:
		node.GoTo = &model.GoToConfig{}
		err = decodeData(def, node.GoTo)
	case model.NODE_TYPE_API_CALL:
		node.ApiCall = &model.ApiCallConfig{}
		err = decodeData(def, node.ApiCall)
	case model.NODE_TYPE_DELAY:
		node.Delay = &model.DelayConfig{}
		err = decodeData(def, node.Delay)
	default:
		return nil, fmt.Errorf("node %s has unknown type %s", def.Id, def.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("node %s has invalid data: %w", def.Id, err)
	}
	return node, nil
}

func decodeData(def *model.Node, target any) error {
	if len(def.Data) == 0 {
		return nil
	}
	return json.Unmarshal(def.Data, target)
}

func (g *Graph) Node(id string) (*Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Next returns the target of the first outgoing edge of source matching
// handle. An empty handle requests the single unconditional edge; a node with
// several unhandled outgoing edges follows the first one in authoring order.
func (g *Graph) Next(source string, handle string) string {
	for _, edge := range g.outgoing[source] {
		if handle == "" || edge.SourceHandle == handle {
			return edge.Target
		}
	}
	return ""
}

// Validate checks an authored flow definition before it is saved. Branch
// completeness on condition nodes is not enforced, a missing yes/no edge
// terminates the execution at runtime instead of failing it.
func Validate(f *model.Flow) error {
	g, err := Convert(f)
	if err != nil {
		return err
	}
	for _, node := range g.nodes {
		if err := validateNode(g, node); err != nil {
			return err
		}
	}
	for _, edge := range f.Edges {
		if _, ok := g.nodes[edge.Source]; !ok {
			return fmt.Errorf("edge %s references missing source node %s", edge.Id, edge.Source)
		}
		if _, ok := g.nodes[edge.Target]; !ok {
			return fmt.Errorf("edge %s references missing target node %s", edge.Id, edge.Target)
		}
	}
	switch f.Trigger.Type {
	case model.TRIGGER_TYPE_KEYWORD:
		if len(f.Trigger.Keywords) == 0 {
			return fmt.Errorf("keyword trigger of flow %s has no keywords", f.Id)
		}
	case model.TRIGGER_TYPE_BUTTON, model.TRIGGER_TYPE_WEBHOOK:
	default:
		return fmt.Errorf("flow %s has unknown trigger type %s", f.Id, f.Trigger.Type)
	}
	return nil
}

func validateNode(g *Graph, node *Node) error {
	switch node.Type {
	case model.NODE_TYPE_SEND_MESSAGE:
		if node.SendMessage.Message == "" && node.SendMessage.MediaUrl == "" {
			return fmt.Errorf("nodeId=%s, sendMessage has no message", node.Id)
		}
	case model.NODE_TYPE_USER_INPUT:
		if node.UserInput.Variable == "" {
			return fmt.Errorf("nodeId=%s, userInput has no variable", node.Id)
		}
	case model.NODE_TYPE_CONDITION:
		cfg := node.Condition
		switch cfg.Operator {
		case model.OPERATOR_EQUALS, model.OPERATOR_CONTAINS, model.OPERATOR_GREATER, model.OPERATOR_LESS:
			if cfg.Variable == "" {
				return fmt.Errorf("nodeId=%s, condition has no variable", node.Id)
			}
		case model.OPERATOR_EXPRESSION:
			if cfg.Expression == "" {
				return fmt.Errorf("nodeId=%s, condition operator expression needs an expression", node.Id)
			}
		default:
			return fmt.Errorf("nodeId=%s, unknown condition operator %s", node.Id, cfg.Operator)
		}
	case model.NODE_TYPE_GOTO:
		if node.GoTo.TargetBlockId == "" {
			return fmt.Errorf("nodeId=%s, goTo has no target", node.Id)
		}
		if _, ok := g.nodes[node.GoTo.TargetBlockId]; !ok {
			return fmt.Errorf("nodeId=%s, goTo target %s does not exist", node.Id, node.GoTo.TargetBlockId)
		}
	case model.NODE_TYPE_API_CALL:
		if node.ApiCall.Url == "" {
			return fmt.Errorf("nodeId=%s, apiCall has no url", node.Id)
		}
	case model.NODE_TYPE_DELAY:
		if node.Delay.Duration <= 0 {
			return fmt.Errorf("nodeId=%s, delay value %d wrong", node.Id, node.Delay.Duration)
		}
	}
	return nil
}
