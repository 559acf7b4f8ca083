package service

import (
	"fmt"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
)

// Validate checks the structural invariants of a playbook definition:
// name shape, start node existence, edge target resolution, and
// input/output name uniqueness. It returns the first violation found,
// wrapped around errno.ErrInvalidPlaybook.
func Validate(p *entity.Playbook) error {
	if !entity.NameRe.MatchString(p.Name) {
		return fmt.Errorf("%w: name %q must match %s", errno.ErrInvalidPlaybook, p.Name, entity.NameRe.String())
	}
	if len(p.Nodes) == 0 {
		return fmt.Errorf("%w: %s has no nodes", errno.ErrInvalidPlaybook, p.Name)
	}

	ids := make(map[string]struct{}, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: %s has a node with an empty id", errno.ErrInvalidPlaybook, p.Name)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("%w: %s has duplicate node id %q", errno.ErrInvalidPlaybook, p.Name, n.ID)
		}
		ids[n.ID] = struct{}{}
	}

	if _, ok := ids[p.StartNode]; !ok {
		return fmt.Errorf("%w: %s start_node %q does not exist", errno.ErrInvalidPlaybook, p.Name, p.StartNode)
	}

	for _, n := range p.Nodes {
		if !validNodeType(n.Type) {
			return fmt.Errorf("%w: %s node %q has unknown type %q", errno.ErrInvalidPlaybook, p.Name, n.ID, n.Type)
		}
		if n.ErrorNext != "" && n.Type != entity.NodeExec {
			return fmt.Errorf("%w: %s node %q: error_next is only valid on exec nodes", errno.ErrInvalidPlaybook, p.Name, n.ID)
		}
		for _, target := range n.EdgeTargets() {
			if _, ok := ids[target]; !ok {
				return fmt.Errorf("%w: %s node %q references unknown node %q", errno.ErrInvalidPlaybook, p.Name, n.ID, target)
			}
		}
	}

	seen := make(map[string]struct{}, len(p.InputSchema))
	for _, in := range p.InputSchema {
		if _, dup := seen[in.Name]; dup {
			return fmt.Errorf("%w: %s has duplicate input parameter %q", errno.ErrInvalidPlaybook, p.Name, in.Name)
		}
		seen[in.Name] = struct{}{}
	}
	outSeen := make(map[string]struct{}, len(p.OutputSchema))
	for _, out := range p.OutputSchema {
		if _, dup := outSeen[out]; dup {
			return fmt.Errorf("%w: %s has duplicate output key %q", errno.ErrInvalidPlaybook, p.Name, out)
		}
		outSeen[out] = struct{}{}
	}

	for _, n := range p.Nodes {
		if n.Type == entity.NodeLLM && n.ContextProfile != "" {
			if _, ok := entity.ProfileByName(n.ContextProfile); !ok {
				return fmt.Errorf("%w: %s node %q names unknown context_profile %q", errno.ErrInvalidPlaybook, p.Name, n.ID, n.ContextProfile)
			}
		}
	}
	return nil
}

func validNodeType(t entity.NodeType) bool {
	switch t {
	case entity.NodeSet, entity.NodeLLM, entity.NodeTool, entity.NodeToolCall,
		entity.NodeMemorize, entity.NodeSubplay, entity.NodeExec, entity.NodeSpeak,
		entity.NodeSay, entity.NodeThink, entity.NodePass,
		entity.NodeStelisStart, entity.NodeStelisEnd:
		return true
	}
	return false
}
