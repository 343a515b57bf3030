// Package process defines the process-definition model the engine executes
// and parses deployment resources into it.
//
// A definition is an ordered list of nodes. Execution moves from a node to
// its Next node, or to the node that follows it in the list when Next is
// empty. Wait states (user tasks, timers) park the instance until a task is
// completed or a job fires.
//
// Resource formats, chosen by suffix:
//
//	*.process.yaml, *.process.yml   YAML, unknown fields rejected
//	*.process.cue                   CUE
//
// Example:
//
//	key: invoice
//	name: Invoice approval
//	nodes:
//	  - id: start
//	    type: start
//	  - id: approve
//	    type: userTask
//	    name: Approve invoice
//	    assignee: kermit
//	    boundary: { duration: PT1H, target: escalated }
//	  - id: done
//	    type: end
//	  - id: escalated
//	    type: end
package process

import (
	"fmt"
	"time"
)

// NodeType enumerates supported node kinds.
type NodeType string

const (
	NodeStart       NodeType = "start"
	NodeServiceTask NodeType = "serviceTask"
	NodeUserTask    NodeType = "userTask"
	NodeTimer       NodeType = "timer"
	NodeEnd         NodeType = "end"
)

// Definition is a parsed process definition.
type Definition struct {
	Key          string `yaml:"key" json:"key"`
	Name         string `yaml:"name,omitempty" json:"name,omitempty"`
	StartFormKey string `yaml:"start_form_key,omitempty" json:"start_form_key,omitempty"`
	Nodes        []Node `yaml:"nodes" json:"nodes"`
}

// Node is a single step of a definition.
type Node struct {
	ID   string   `yaml:"id" json:"id"`
	Type NodeType `yaml:"type" json:"type"`
	Name string   `yaml:"name,omitempty" json:"name,omitempty"`

	// Next names the following node. Empty means the next node in the list.
	Next string `yaml:"next,omitempty" json:"next,omitempty"`

	// User task fields.
	Assignee string         `yaml:"assignee,omitempty" json:"assignee,omitempty"`
	FormKey  string         `yaml:"form_key,omitempty" json:"form_key,omitempty"`
	DueIn    string         `yaml:"due_in,omitempty" json:"due_in,omitempty"`
	Boundary *BoundaryTimer `yaml:"boundary,omitempty" json:"boundary,omitempty"`

	// Duration is the wait of a timer node.
	Duration string `yaml:"duration,omitempty" json:"duration,omitempty"`

	// Set lists variables a service task assigns.
	Set map[string]any `yaml:"set,omitempty" json:"set,omitempty"`
}

// BoundaryTimer interrupts a user task after Duration and continues at Target.
type BoundaryTimer struct {
	Duration string `yaml:"duration" json:"duration"`
	Target   string `yaml:"target" json:"target"`
}

// Node returns the node with the given id.
func (d *Definition) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Start returns the start node. Only valid on a validated definition.
func (d *Definition) Start() *Node {
	return &d.Nodes[0]
}

// Following returns the node execution moves to after id, or false when
// id is the last node and declares no Next.
func (d *Definition) Following(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID != id {
			continue
		}
		if next := d.Nodes[i].Next; next != "" {
			return d.Node(next)
		}
		if i+1 < len(d.Nodes) {
			return &d.Nodes[i+1], true
		}
		return nil, false
	}
	return nil, false
}

// TimerDuration parses the duration of a timer node.
func (n *Node) TimerDuration() (time.Duration, error) {
	return ParseDuration(n.Duration)
}

// Validate checks structural rules:
//   - a key and at least two nodes
//   - the first node is the only start node
//   - node ids are unique and non-empty
//   - Next and boundary targets name existing nodes
//   - timers and boundaries carry a parseable duration
//   - at least one end node, and no node other than an end falls off the list
func (d *Definition) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("key is required")
	}
	if len(d.Nodes) < 2 {
		return fmt.Errorf("definition %q: at least a start and an end node are required", d.Key)
	}
	if d.Nodes[0].Type != NodeStart {
		return fmt.Errorf("definition %q: first node must be of type start, got %q", d.Key, d.Nodes[0].Type)
	}

	seen := make(map[string]bool, len(d.Nodes))
	ends := 0
	for i, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("definition %q: nodes[%d]: id is required", d.Key, i)
		}
		if seen[n.ID] {
			return fmt.Errorf("definition %q: duplicate node id %q", d.Key, n.ID)
		}
		seen[n.ID] = true

		switch n.Type {
		case NodeStart:
			if i != 0 {
				return fmt.Errorf("definition %q: node %q: only the first node may be a start node", d.Key, n.ID)
			}
		case NodeEnd:
			ends++
		case NodeServiceTask, NodeUserTask:
		case NodeTimer:
			if _, err := ParseDuration(n.Duration); err != nil {
				return fmt.Errorf("definition %q: timer %q: %w", d.Key, n.ID, err)
			}
		default:
			return fmt.Errorf("definition %q: node %q: unknown type %q", d.Key, n.ID, n.Type)
		}

		if n.DueIn != "" {
			if _, err := ParseDuration(n.DueIn); err != nil {
				return fmt.Errorf("definition %q: node %q due_in: %w", d.Key, n.ID, err)
			}
		}
		if n.Boundary != nil {
			if n.Type != NodeUserTask {
				return fmt.Errorf("definition %q: node %q: boundary timers are only allowed on user tasks", d.Key, n.ID)
			}
			if _, err := ParseDuration(n.Boundary.Duration); err != nil {
				return fmt.Errorf("definition %q: boundary on %q: %w", d.Key, n.ID, err)
			}
		}
	}
	if ends == 0 {
		return fmt.Errorf("definition %q: at least one end node is required", d.Key)
	}

	for i, n := range d.Nodes {
		if n.Next != "" && !seen[n.Next] {
			return fmt.Errorf("definition %q: node %q: next %q does not exist", d.Key, n.ID, n.Next)
		}
		if n.Boundary != nil && !seen[n.Boundary.Target] {
			return fmt.Errorf("definition %q: boundary on %q: target %q does not exist", d.Key, n.ID, n.Boundary.Target)
		}
		if n.Type != NodeEnd && n.Next == "" && i == len(d.Nodes)-1 {
			return fmt.Errorf("definition %q: node %q has no outgoing flow", d.Key, n.ID)
		}
	}
	return nil
}
