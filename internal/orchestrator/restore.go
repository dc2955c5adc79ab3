package orchestrator

import (
	"fmt"

	"github.com/shaiso/Fabrica/internal/contracts"
	"github.com/shaiso/Fabrica/internal/lifecycle"
)

// Restore восстанавливает состояние узлов из Task Memory после рестарта.
//
// In-flight отметки не персистентны: после рестарта их нет, поэтому
// переиздаются только стадии, у которых последний записанный результат
// отсутствует или не SUCCESS. Запоздавший результат старого воркера
// придёт с вытесненным task_id и уйдёт в DLQ.
//
// Узел, чья симуляция упала до рестарта, возобновляется с симуляции:
// цикл ремонта не переживает рестарт (решение записано в DESIGN.md).
func (l *Loop) Restore() error {
	for _, id := range l.plan.Graph.Order {
		node := l.nodes[id]

		for _, stage := range lifecycle.Stages() {
			attempts, err := l.mem.ListAttempts(id, string(stage))
			if err != nil {
				return fmt.Errorf("restore %s/%s: %w", id, stage, err)
			}
			if len(attempts) == 0 {
				break
			}

			node.Attempts[stage] = len(attempts)

			result, ok, err := l.mem.LastResult(id, string(stage))
			if err != nil {
				return fmt.Errorf("restore %s/%s: %w", id, stage, err)
			}
			if !ok || result.Status != contracts.StatusSuccess {
				// Стадия была издана, но не завершилась успехом —
				// будет переиздана с новым task_id.
				if err := l.restoreStagePointer(node, stage); err != nil {
					return err
				}
				break
			}

			// Стадия завершена: фиксируем артефакты и продвигаем состояние.
			if path, err := l.mem.ArtifactPath(id, string(stage)); err == nil {
				node.Artifacts[stage] = path
			}
			if path, err := l.mem.LogPath(id, string(stage)); err == nil {
				node.Logs[stage] = path
			}

			if err := l.advanceRestored(node, stage); err != nil {
				return err
			}
		}
	}

	restored := 0
	for _, node := range l.nodes {
		if node.State != lifecycle.StatePending {
			restored++
		}
	}
	if restored > 0 {
		l.logger.Info("state restored from task memory", "restored_nodes", restored)
	}

	return nil
}

// restoreStagePointer ставит состояние узла на незавершённую стадию.
func (l *Loop) restoreStagePointer(node *lifecycle.Node, stage lifecycle.Stage) error {
	target := lifecycle.StateFor(stage)
	if node.State == target {
		return nil
	}
	if err := node.Transition(target); err != nil {
		return fmt.Errorf("restore pointer %s/%s: %w", node.ID, stage, err)
	}
	return nil
}

// advanceRestored продвигает состояние после восстановленного успеха стадии.
func (l *Loop) advanceRestored(node *lifecycle.Node, stage lifecycle.Stage) error {
	// Восстановление повторяет переходы успешного прохода.
	if node.State == lifecycle.StatePending {
		if err := node.Transition(lifecycle.StateImplementing); err != nil {
			return err
		}
	}

	// Указатель состояния может отставать, если предыдущие стадии
	// восстановлены в этом же проходе.
	current, ok := lifecycle.StageFor(node.State)
	if ok && current != stage {
		if err := node.Transition(lifecycle.StateFor(stage)); err != nil {
			return fmt.Errorf("advance %s to %s: %w", node.ID, stage, err)
		}
	}

	next, hasNext := stage.Next()
	if !hasNext {
		return node.Transition(lifecycle.StateDone)
	}
	return node.Transition(lifecycle.StateFor(next))
}
