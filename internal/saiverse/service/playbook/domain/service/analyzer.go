package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
)

// DryRunMaxLoop bounds per-node visits during static analysis. The
// runtime uses a much larger execution limit; the analyzer only needs
// to see each loop body twice to surface reference warnings.
const DryRunMaxLoop = 2

var refRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_.]*)\}`)

// Keys the runtime always provides before the first node runs.
var builtinKeys = map[string]struct{}{
	"input":        {},
	"last":         {},
	"persona_id":   {},
	"persona_name": {},
	"pulse_id":     {},
	"pulse_type":   {},
}

// Analyze walks every branch of a playbook (forking conditional edges,
// unlike the runtime) and reports template references to keys that no
// prior node on the branch defines. The result is advisory: undefined
// references still execute, leaving the braces intact.
func Analyze(p *entity.Playbook) []string {
	var warnings []string
	seenWarn := make(map[string]struct{})
	warn := func(format string, args ...any) {
		w := fmt.Sprintf(format, args...)
		if _, dup := seenWarn[w]; dup {
			return
		}
		seenWarn[w] = struct{}{}
		warnings = append(warnings, w)
	}

	defined := make(map[string]struct{}, len(builtinKeys)+len(p.InputSchema))
	for k := range builtinKeys {
		defined[k] = struct{}{}
	}
	for _, in := range p.InputSchema {
		defined[in.Name] = struct{}{}
	}

	visits := make(map[string]int, len(p.Nodes))
	var walk func(id string, defined map[string]struct{})
	walk = func(id string, defined map[string]struct{}) {
		if id == "" || id == entity.EndNode {
			return
		}
		n := p.Node(id)
		if n == nil {
			return
		}
		visits[id]++
		if visits[id] > DryRunMaxLoop {
			return
		}

		local := make(map[string]struct{}, len(defined))
		for k := range defined {
			local[k] = struct{}{}
		}
		checkRefs := func(tmpl string) {
			for _, m := range refRe.FindAllStringSubmatch(tmpl, -1) {
				root := strings.SplitN(m[1], ".", 2)[0]
				if _, ok := local[root]; !ok {
					warn("%s/%s: undefined reference {%s}", p.Name, n.ID, m[1])
				}
			}
		}

		switch n.Type {
		case entity.NodeSet:
			for k, v := range n.Assignments {
				if s, ok := v.(string); ok {
					checkRefs(s)
				}
				local[strings.SplitN(k, ".", 2)[0]] = struct{}{}
			}
		case entity.NodeLLM:
			checkRefs(n.Action)
			if n.OutputKey != "" {
				local[n.OutputKey] = struct{}{}
			} else if n.ResponseSchema != nil {
				local[n.ID] = struct{}{}
			}
			if n.OutputKeys != nil {
				for _, k := range n.OutputKeys.Mapping {
					local[strings.SplitN(k, ".", 2)[0]] = struct{}{}
				}
			}
			local["tool_called"] = struct{}{}
			local["tool_name"] = struct{}{}
			local["tool_args"] = struct{}{}
			local["speak_content"] = struct{}{}
		case entity.NodeTool:
			if n.OutputKey != "" {
				local[n.OutputKey] = struct{}{}
			}
			if n.OutputKeys != nil {
				for _, k := range n.OutputKeys.List {
					local[k] = struct{}{}
				}
			}
		case entity.NodeToolCall:
			if n.OutputKey != "" {
				local[n.OutputKey] = struct{}{}
			}
		case entity.NodeMemorize, entity.NodeSay, entity.NodeThink:
			checkRefs(n.Action)
		case entity.NodeSubplay:
			checkRefs(n.InputTemplate)
		}

		if n.ConditionalNext != nil {
			for _, target := range n.ConditionalNext.Cases {
				walk(target, local)
			}
			if n.ConditionalNext.Default != "" {
				walk(n.ConditionalNext.Default, local)
			}
		}
		if n.ErrorNext != "" {
			walk(n.ErrorNext, local)
		}
		walk(n.Next, local)
	}

	walk(p.StartNode, defined)
	return warnings
}
