package orchestrator

import (
	"sort"

	"github.com/google/uuid"

	"github.com/shaiso/Fabrica/internal/lifecycle"
)

// NodeSummary — итоговое состояние одного узла.
type NodeSummary struct {
	NodeID string              `json:"node_id"`
	State  lifecycle.NodeState `json:"state"`

	// Диагностика отказа (если State == FAILED).
	FailedStage   string `json:"failed_stage,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	Escalated     bool   `json:"escalated,omitempty"`

	// Attempts — стадия → число опубликованных попыток.
	Attempts map[string]int `json:"attempts,omitempty"`

	// RepairCycles — число начатых циклов ремонта.
	RepairCycles int `json:"repair_cycles,omitempty"`

	// LastLogPath — путь последнего лога узла.
	LastLogPath string `json:"last_log_path,omitempty"`
}

// RunSummary — итоговая сводка прогона.
type RunSummary struct {
	RunID uuid.UUID     `json:"run_id"`
	Nodes []NodeSummary `json:"nodes"`
}

// Done возвращает true, если все узлы DONE.
func (s *RunSummary) Done() bool {
	for _, n := range s.Nodes {
		if n.State != lifecycle.StateDone {
			return false
		}
	}
	return true
}

// Summary строит сводку по текущему состоянию узлов.
func (l *Loop) Summary() *RunSummary {
	summary := &RunSummary{RunID: l.runID}

	ids := make([]string, 0, len(l.nodes))
	for id := range l.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node := l.nodes[id]

		ns := NodeSummary{
			NodeID:       id,
			State:        node.State,
			Escalated:    node.Escalated,
			RepairCycles: node.RepairCycles,
		}

		if node.State == lifecycle.StateFailed {
			ns.FailedStage = string(node.FailedStage)
			ns.FailureReason = node.FailureReason
		}

		if len(node.Attempts) > 0 {
			ns.Attempts = make(map[string]int, len(node.Attempts))
			for stage, n := range node.Attempts {
				ns.Attempts[string(stage)] = n
			}
		}

		// Последний лог — лог упавшей стадии либо последней успешной.
		if node.State == lifecycle.StateFailed {
			ns.LastLogPath = node.Logs[node.FailedStage]
		}
		if ns.LastLogPath == "" {
			for _, stage := range append(lifecycle.Stages(), lifecycle.StageDebug) {
				if path, ok := node.Logs[stage]; ok {
					ns.LastLogPath = path
				}
			}
		}

		summary.Nodes = append(summary.Nodes, ns)
	}

	return summary
}

// logSummary печатает итоговую сводку по узлам.
func (l *Loop) logSummary(summary *RunSummary) {
	for _, ns := range summary.Nodes {
		if ns.State == lifecycle.StateFailed {
			l.logger.Warn("node summary",
				"node_id", ns.NodeID,
				"state", ns.State,
				"failed_stage", ns.FailedStage,
				"reason", ns.FailureReason,
				"escalated", ns.Escalated,
				"last_log", ns.LastLogPath,
			)
			continue
		}
		l.logger.Info("node summary",
			"node_id", ns.NodeID,
			"state", ns.State,
			"last_log", ns.LastLogPath,
		)
	}
}
