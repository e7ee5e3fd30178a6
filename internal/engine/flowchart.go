package engine

import (
	"fmt"
	"strings"

	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// FlowChart renders a machine as a Mermaid flowchart. Node classes follow the
// status of each state's current task.
func FlowChart(m *domain.FiniteStateMachine) string {
	var sb strings.Builder

	errorClass := "fill:#FF6B6B,stroke:#C53030,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	doneClass := "fill:#4ECDC4,stroke:#1F9C8C,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	startClass := "fill:#5568FE,stroke:#3346FF,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	manualClass := "fill:#FFD93D,stroke:#E6C200,stroke-width:2px,color:#333,stroke-dasharray: 4 2,rx:10,ry:10;"
	normalClass := "fill:#F0F4F8,stroke:#B0C4DE,stroke-width:1px,color:#333,rx:10,ry:10;"

	// mermaid ids must not contain the spaces and dots state names are full of
	ids := make(map[string]string, len(m.States))
	for i, s := range m.States {
		ids[s.ID] = fmt.Sprintf("s%d", i)
	}

	sb.WriteString("flowchart TD\n")
	for _, s := range m.States {
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", ids[s.ID], strings.ReplaceAll(s.Name, `"`, "'"))
	}
	for _, t := range m.Transitions {
		from, okFrom := ids[t.FromStateID]
		to, okTo := ids[t.ToStateID]
		if !okFrom || !okTo {
			continue
		}
		fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
	}

	fmt.Fprintf(&sb, "    classDef errorClass %s\n", errorClass)
	fmt.Fprintf(&sb, "    classDef doneClass %s\n", doneClass)
	fmt.Fprintf(&sb, "    classDef startClass %s\n", startClass)
	fmt.Fprintf(&sb, "    classDef manualClass %s\n", manualClass)
	fmt.Fprintf(&sb, "    classDef normalClass %s\n", normalClass)

	for _, s := range m.States {
		fmt.Fprintf(&sb, "    class %s %s;\n", ids[s.ID], stateClass(m, s))
	}
	return sb.String()
}

func stateClass(m *domain.FiniteStateMachine, s *domain.State) string {
	t := m.CurrentTask(s)
	switch {
	case t != nil && (t.Status == domain.StatusFailed || t.Status == domain.StatusStopped):
		return "errorClass"
	case t != nil && t.Status == domain.StatusSuspended:
		return "manualClass"
	case s.Active && t != nil && (t.Kind == domain.TaskWaitForReview || t.Kind == domain.TaskHold):
		return "manualClass"
	case !s.Active && s.DateExited.Valid:
		return "doneClass"
	case s.Start:
		return "startClass"
	}
	return "normalClass"
}
