package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/shaiso/Fabrica/internal/builder"
	"github.com/shaiso/Fabrica/internal/contracts"
	"github.com/shaiso/Fabrica/internal/lifecycle"
	"github.com/shaiso/Fabrica/internal/mq"
)

// HandleResult — обработчик очереди results (единственный потребитель).
//
// Некорректный конверт или неизвестный task_id → ErrRejectToDLQ:
// consumer выполнит nack(requeue=false) и сообщение уйдёт в DLQ.
// После успешного применения consumer выполняет ack.
func (l *Loop) HandleResult(ctx context.Context, d *mq.Delivery) error {
	var result contracts.ResultMessage
	if err := json.Unmarshal(d.Body, &result); err != nil {
		return fmt.Errorf("%w: malformed result: %v", mq.ErrRejectToDLQ, err)
	}

	select {
	case err := <-l.Submit(&result):
		var verr *contracts.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %v", mq.ErrRejectToDLQ, err)
		}
		if errors.Is(err, ErrUnknownTask) {
			return fmt.Errorf("%w: %v", mq.ErrRejectToDLQ, err)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyDelivery применяет один результат к состоянию DAG.
// Вызывается только из горутины Run (single writer).
func (l *Loop) applyDelivery(ctx context.Context, result *contracts.ResultMessage) error {
	if err := contracts.ValidateResult(result); err != nil {
		l.countDLQ("result_validation")
		return err
	}

	p, ok := l.pending[result.TaskID]
	if !ok {
		// Запоздавший результат вытесненного task_id или чужое сообщение.
		l.logger.Warn("result for unknown task",
			"task_id", result.TaskID,
			"status", result.Status,
		)
		l.countDLQ("unknown_task")
		return fmt.Errorf("%w: %s", ErrUnknownTask, result.TaskID)
	}
	delete(l.pending, result.TaskID)

	node := l.nodes[p.nodeID]
	node.ClearInFlight()

	attempt := node.Attempts[p.stage]
	resultPath, artifactPath, err := l.mem.RecordResult(node.ID, string(p.stage), attempt, result)
	if err != nil {
		// Task Memory обязана принять запись; без неё результат не применяем.
		return fmt.Errorf("record result: %w", err)
	}
	if logPath, err := l.mem.LogPath(node.ID, string(p.stage)); err == nil {
		node.Logs[p.stage] = logPath
	}

	if l.metrics != nil {
		l.metrics.ResultsConsumed.WithLabelValues(string(result.Status)).Inc()
		l.metrics.StageDuration.WithLabelValues(string(p.stage)).
			Observe(l.now().Sub(p.publishedAt).Seconds())
	}
	l.recordOutcome(ctx, result, resultPath)

	l.logger.Debug("result applied",
		"node_id", node.ID,
		"stage", p.stage,
		"status", result.Status,
		"attempt", attempt,
	)

	if result.Status == contracts.StatusSuccess {
		return l.applySuccess(ctx, node, p.stage, result, artifactPath)
	}
	return l.applyFailure(ctx, node, p.stage, result, "")
}

// applySuccess обрабатывает успешное завершение стадии:
// постусловия, фиксация артефактов, переход состояния.
func (l *Loop) applySuccess(ctx context.Context, node *lifecycle.Node, stage lifecycle.Stage, result *contracts.ResultMessage, artifactPath string) error {
	if artifactPath != "" {
		node.Artifacts[stage] = artifactPath
	}

	if err := l.checkPostconditions(node, stage, result); err != nil {
		reason := "postcondition/violation"
		marker := "postcondition_violation.txt"
		if errors.Is(err, lifecycle.ErrInterfaceMismatch) {
			reason = "postcondition/interface_mismatch"
			marker = "interface_mismatch.txt"
		}

		// Терминально: ретраи не исправят несоответствие интерфейса.
		if merr := l.mem.RecordMarker(node.ID, string(stage), marker, err.Error()); merr != nil {
			l.logger.Error("failed to write failure marker", "node_id", node.ID, "error", merr)
		}
		node.Fail(stage, reason)
		delete(l.repair, node.ID)
		l.countDLQ(reason)

		l.logger.Warn("stage postcondition failed",
			"node_id", node.ID,
			"stage", stage,
			"error", err,
		)
		return nil
	}

	// Накапливаем контекст цикла ремонта.
	if node.InRepair {
		rc := l.repairContext(node.ID)
		switch stage {
		case lifecycle.StageDistill:
			rc.DistilledDataset = result.DistilledDataset
		case lifecycle.StageReflect:
			rc.ReflectionInsights = result.ReflectionInsights
		}
	}

	var next lifecycle.NodeState
	switch stage {
	case lifecycle.StageReflect:
		if node.InRepair {
			next = lifecycle.StateDebugging
		} else {
			next = lifecycle.StateDone
		}
	case lifecycle.StageDebug:
		// Успешный debug вновь открывает симуляцию.
		node.EndRepair()
		next = lifecycle.StateSimulating
	default:
		nextStage, ok := stage.Next()
		if !ok {
			next = lifecycle.StateDone
		} else {
			next = lifecycle.StateFor(nextStage)
		}
	}

	if err := node.Transition(next); err != nil {
		return err
	}

	if next == lifecycle.StateDone {
		delete(l.repair, node.ID)
		l.logger.Info("node done", "node_id", node.ID)
	}

	return nil
}

// applyFailure обрабатывает сбой стадии: классификация, retry,
// цикл ремонта или терминальный отказ.
func (l *Loop) applyFailure(ctx context.Context, node *lifecycle.Node, stage lifecycle.Stage, result *contracts.ResultMessage, fingerprintOverride string) error {
	fingerprint := fingerprintOverride
	if fingerprint == "" {
		fingerprint = l.classifier.Fingerprint(result.LogOutput)
	}

	identical := node.RecordFingerprint(stage, fingerprint)
	attempt := node.Attempts[stage]

	decision := l.classifier.Classify(result.Status, fingerprint, attempt, identical)

	l.logger.Warn("stage failed",
		"node_id", node.ID,
		"stage", stage,
		"attempt", attempt,
		"fingerprint", fingerprint,
		"decision", decision,
	)

	if decision == lifecycle.DecisionRetryOnce {
		if l.metrics != nil {
			l.metrics.Retries.WithLabelValues(string(stage)).Inc()
		}
		// Повтор той же стадии с новым task_id; попытка учтена в MarkInFlight.
		return l.dispatchStage(ctx, node, stage)
	}

	// Инъекция цикла ремонта: невосстановимый сбой симуляции
	// переходит в distill → reflect → debug → sim, пока есть бюджет.
	if stage == lifecycle.StageSimulation && decision == lifecycle.DecisionTerminalFail &&
		result.Status != contracts.StatusEscalated && node.RepairCycles < 2 {
		node.BeginRepair()
		rc := l.repairContext(node.ID)
		rc.FailureSignature = failureSignature(fingerprint, result.LogOutput)
		rc.DistilledDataset = nil
		rc.ReflectionInsights = nil

		l.logger.Info("entering repair cycle",
			"node_id", node.ID,
			"cycle", node.RepairCycles,
			"failure_signature", rc.FailureSignature,
		)
		return node.Transition(lifecycle.StateDistilling)
	}

	if decision == lifecycle.DecisionRejectToDLQ {
		l.countDLQ(fingerprint)
		if merr := l.mem.RecordMarker(node.ID, string(stage), "dlq_reject.txt", fingerprint); merr != nil {
			l.logger.Error("failed to write dlq marker", "node_id", node.ID, "error", merr)
		}
	}

	if result.Status == contracts.StatusEscalated {
		node.Escalated = true
	}
	node.Fail(stage, fingerprint)
	delete(l.repair, node.ID)

	return nil
}

// dispatchReady издаёт следующую стадию каждому готовому узлу.
func (l *Loop) dispatchReady(ctx context.Context) bool {
	done, busy := l.nodeSets()
	ready := l.plan.Graph.ReadyNodes(done, busy)

	progress := false
	for _, id := range ready {
		if len(l.pending) >= l.maxInFlight {
			// Backpressure: ограничение числа одновременных задач.
			break
		}

		node := l.nodes[id]

		if node.State == lifecycle.StatePending {
			if err := node.Transition(lifecycle.StateImplementing); err != nil {
				l.logger.Error("illegal dispatch transition", "node_id", id, "error", err)
				continue
			}
		}

		stage, ok := lifecycle.StageFor(node.State)
		if !ok {
			continue
		}

		if err := l.dispatchStage(ctx, node, stage); err != nil {
			l.logger.Error("failed to dispatch stage",
				"node_id", id,
				"stage", stage,
				"error", err,
			)
			// Продолжаем с другими узлами.
		}
		progress = true
	}

	return progress
}

// dispatchStage строит, валидирует и публикует задачу стадии.
//
// Ошибка валидации терминальна для узла и происходит до любой
// операции с брокером. Ошибка публикации ретраится ограниченно,
// затем узел падает с transport-причиной.
func (l *Loop) dispatchStage(ctx context.Context, node *lifecycle.Node, stage lifecycle.Stage) error {
	task, err := l.buildTask(ctx, node, stage)
	if err != nil {
		node.Fail(stage, "builder/"+err.Error())
		return err
	}

	if verr := contracts.ValidateTask(task); verr != nil {
		// Poison pill: отклоняем до отправки, узел терминально падает.
		var v *contracts.ValidationError
		reason := "validation/invalid_task"
		if errors.As(verr, &v) {
			reason = v.Reason
		}
		node.Fail(stage, reason)
		if merr := l.mem.RecordMarker(node.ID, string(stage), "validation_error.txt", verr.Error()); merr != nil {
			l.logger.Error("failed to write validation marker", "node_id", node.ID, "error", merr)
		}
		l.logger.Warn("task rejected at validation boundary",
			"node_id", node.ID,
			"stage", stage,
			"reason", reason,
		)
		return verr
	}

	attempt := node.Attempts[stage] + 1
	if _, err := l.mem.RecordTask(node.ID, string(stage), attempt, task); err != nil {
		return fmt.Errorf("record task: %w", err)
	}

	if err := l.publishWithRetry(ctx, task); err != nil {
		node.Fail(stage, "transport/publish_failed")
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	now := l.now()
	node.MarkInFlight(stage, task.TaskID, now.Add(l.stageTimeout(stage)))
	l.pending[task.TaskID] = pendingTask{
		nodeID:      node.ID,
		stage:       stage,
		publishedAt: now,
	}

	if l.metrics != nil {
		l.metrics.TasksPublished.WithLabelValues(string(task.EntityType)).Inc()
	}
	l.recordAttempt(ctx, node, stage, attempt, task)

	l.logger.Debug("task dispatched",
		"node_id", node.ID,
		"stage", stage,
		"task_id", task.TaskID,
		"entity", task.EntityType,
		"attempt", attempt,
	)

	return nil
}

// publishWithRetry публикует с ограниченным числом повторов.
func (l *Loop) publishWithRetry(ctx context.Context, task *contracts.TaskMessage) error {
	var lastErr error
	for i := 0; i < l.publishRetries; i++ {
		lastErr = l.publisher.PublishTask(ctx, task)
		if lastErr == nil {
			return nil
		}
		l.logger.Warn("publish failed, retrying",
			"task_id", task.TaskID,
			"attempt", i+1,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
		}
	}
	return lastErr
}

// defaultBuildTask строит конверт задачи для стадии узла.
func (l *Loop) defaultBuildTask(ctx context.Context, node *lifecycle.Node, stage lifecycle.Stage) (*contracts.TaskMessage, error) {
	var repairCtx *builder.RepairContext
	if node.InRepair || stage == lifecycle.StageDebug {
		repairCtx = l.repair[node.ID]
	}

	taskCtx, err := l.builder.Build(stage, node.ID, repairCtx)
	if err != nil {
		return nil, err
	}

	priority := l.defaultPriority
	if stage == lifecycle.StageDebug {
		// Ремонт важнее обычного прогресса.
		priority = contracts.PriorityHigh
	}

	return contracts.NewTaskMessage(node.CorrelationID, priority, stage.Kind(), taskCtx)
}

// expireDeadlines синтезирует локальные таймауты по истёкшим дедлайнам.
// Для каждой истёкшей стадии — ровно один синтетический сбой:
// in-flight снимается до применения, повторный тик её не увидит.
func (l *Loop) expireDeadlines(ctx context.Context) bool {
	now := l.now()
	progress := false

	for _, node := range l.nodes {
		inflight := node.InFlight
		if inflight == nil || now.Before(inflight.Deadline) {
			continue
		}

		stage := inflight.Stage
		taskID := inflight.TaskID

		// Вытесняем task_id: запоздавший результат станет неизвестным
		// и уйдёт в DLQ.
		delete(l.pending, taskID)
		node.ClearInFlight()
		node.Timeouts[stage]++

		if l.metrics != nil {
			l.metrics.Timeouts.WithLabelValues(string(stage)).Inc()
		}

		synthetic := &contracts.ResultMessage{
			TaskID:        taskID,
			CorrelationID: node.CorrelationID,
			CompletedAt:   now,
			Status:        contracts.StatusFailure,
			LogOutput: fmt.Sprintf("stage deadline exceeded after %s (task %s)",
				l.stageTimeout(stage), taskID),
		}

		attempt := node.Attempts[stage]
		if _, _, err := l.mem.RecordResult(node.ID, string(stage), attempt, synthetic); err != nil {
			l.logger.Error("failed to record synthetic timeout", "node_id", node.ID, "error", err)
		}

		l.logger.Warn("stage deadline expired",
			"node_id", node.ID,
			"stage", stage,
			"task_id", taskID,
			"attempt", attempt,
		)

		if err := l.applyFailure(ctx, node, stage, synthetic, lifecycle.FingerprintTimeout); err != nil {
			l.logger.Error("failed to apply timeout", "node_id", node.ID, "error", err)
		}
		progress = true
	}

	return progress
}

// checkPostconditions сверяет постусловия стадии с design context.
func (l *Loop) checkPostconditions(node *lifecycle.Node, stage lifecycle.Stage, result *contracts.ResultMessage) error {
	design := l.plan.Design.Nodes[node.ID]

	return lifecycle.CheckPostconditions(lifecycle.PostcheckInput{
		Stage:         stage,
		NodeID:        node.ID,
		Interface:     design.Interface,
		RTLPath:       l.plan.Design.RTLPath(l.artifactsRoot, node.ID),
		TestbenchPath: l.plan.Design.TestbenchPath(l.artifactsRoot, node.ID),
		Result:        result,
	})
}

// repairContext возвращает (создавая) контекст ремонта узла.
func (l *Loop) repairContext(nodeID string) *builder.RepairContext {
	if l.repair[nodeID] == nil {
		l.repair[nodeID] = &builder.RepairContext{}
	}
	return l.repair[nodeID]
}

// failureSignature строит сигнатуру сбоя из отпечатка и лога.
func failureSignature(fingerprint, logOutput string) string {
	return fmt.Sprintf("%s:%08x", fingerprint, crc32.ChecksumIEEE([]byte(logOutput)))
}

// countDLQ учитывает отказ в метриках DLQ.
func (l *Loop) countDLQ(reason string) {
	if l.metrics != nil {
		l.metrics.DLQRejects.WithLabelValues(reason).Inc()
	}
}

// recordAttempt пишет попытку в ledger (если настроен).
func (l *Loop) recordAttempt(ctx context.Context, node *lifecycle.Node, stage lifecycle.Stage, attempt int, task *contracts.TaskMessage) {
	if l.ledger == nil {
		return
	}
	if err := l.ledger.RecordAttempt(ctx, l.runID, node.ID, string(stage), attempt, task.TaskID); err != nil {
		l.logger.Warn("ledger attempt write failed", "node_id", node.ID, "error", err)
	}
}

// recordOutcome пишет исход в ledger (если настроен).
func (l *Loop) recordOutcome(ctx context.Context, result *contracts.ResultMessage, resultPath string) {
	if l.ledger == nil {
		return
	}
	if err := l.ledger.RecordOutcome(ctx, l.runID, result.TaskID, string(result.Status), resultPath); err != nil {
		l.logger.Warn("ledger outcome write failed", "task_id", result.TaskID, "error", err)
	}
}
