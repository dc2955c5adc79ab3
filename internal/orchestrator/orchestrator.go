package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Fabrica/internal/builder"
	"github.com/shaiso/Fabrica/internal/contracts"
	"github.com/shaiso/Fabrica/internal/engine"
	"github.com/shaiso/Fabrica/internal/lifecycle"
	"github.com/shaiso/Fabrica/internal/memory"
	"github.com/shaiso/Fabrica/internal/telemetry"
)

// Default configuration values.
const (
	defaultIdleSleep      = 100 * time.Millisecond
	defaultPublishRetries = 3
	defaultMaxInFlight    = 32
	defaultResultsBuffer  = 16
)

// Publisher публикует задачи в брокер.
// Реализуется mq.Publisher; в тестах подменяется фейком.
type Publisher interface {
	PublishTask(ctx context.Context, task *contracts.TaskMessage) error
}

// Ledger — опциональная сквозная запись прогона в БД.
type Ledger interface {
	RecordAttempt(ctx context.Context, runID uuid.UUID, nodeID, stage string, attempt int, taskID uuid.UUID) error
	RecordOutcome(ctx context.Context, runID uuid.UUID, taskID uuid.UUID, status, resultPath string) error
}

// Config — конфигурация Loop.
type Config struct {
	Plan   *engine.Plan
	Memory *memory.Store

	// ArtifactsRoot — корень сгенерированных артефактов (write-цели
	// воркеров); нужен для проверки постусловий.
	ArtifactsRoot string

	Builder    *builder.Builder
	Publisher  Publisher
	Classifier *lifecycle.Classifier

	// RunID — идентификатор прогона (для ledger и логов).
	RunID uuid.UUID

	// StageTimeouts — переопределения дедлайнов стадий.
	StageTimeouts map[lifecycle.Stage]time.Duration

	// DefaultPriority — приоритет задач по умолчанию (default: MEDIUM).
	DefaultPriority contracts.TaskPriority

	// PublishRetries — повторы публикации при ошибке подтверждения
	// (default: 3).
	PublishRetries int

	// MaxInFlight — глобальный предел одновременно опубликованных
	// задач (default: 32).
	MaxInFlight int

	// IdleSleep — пауза цикла при отсутствии прогресса (default: 100ms).
	IdleSleep time.Duration

	Metrics *telemetry.Metrics
	Ledger  Ledger
	Logger  *slog.Logger
}

// pendingTask — in-flight стадия, индексированная по task_id.
type pendingTask struct {
	nodeID      string
	stage       lifecycle.Stage
	publishedAt time.Time
}

// resultDelivery — результат, ожидающий применения циклом.
type resultDelivery struct {
	result *contracts.ResultMessage
	reply  chan error
}

// Loop — управляющий цикл прогона.
//
// Единственный мутатор состояния узлов и индекса Task Memory.
// Вся мутация происходит в горутине Run; Submit лишь ставит
// результаты в очередь.
type Loop struct {
	plan          *engine.Plan
	mem           *memory.Store
	artifactsRoot string
	builder       *builder.Builder
	publisher     Publisher
	classifier    *lifecycle.Classifier

	runID uuid.UUID

	// nodes — состояние выполнения узлов (id → Node).
	nodes map[string]*lifecycle.Node

	// pending — in-flight задачи по task_id. Результат с task_id вне
	// этой карты неизвестен и уходит в DLQ.
	pending map[uuid.UUID]pendingTask

	// repair — контексты циклов ремонта по узлам.
	repair map[string]*builder.RepairContext

	results chan resultDelivery

	stageTimeouts   map[lifecycle.Stage]time.Duration
	defaultPriority contracts.TaskPriority
	publishRetries  int
	maxInFlight     int
	idleSleep       time.Duration

	metrics *telemetry.Metrics
	ledger  Ledger
	logger  *slog.Logger

	// now подменяется в тестах дедлайнов.
	now func() time.Time

	// buildTask подменяется в тестах границы валидации.
	buildTask func(ctx context.Context, node *lifecycle.Node, stage lifecycle.Stage) (*contracts.TaskMessage, error)
}

// New создаёт Loop для плана.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	priority := cfg.DefaultPriority
	if !priority.Valid() {
		priority = contracts.PriorityMedium
	}

	publishRetries := cfg.PublishRetries
	if publishRetries <= 0 {
		publishRetries = defaultPublishRetries
	}

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}

	idleSleep := cfg.IdleSleep
	if idleSleep <= 0 {
		idleSleep = defaultIdleSleep
	}

	classifier := cfg.Classifier
	if classifier == nil {
		classifier = lifecycle.NewClassifier()
	}

	runID := cfg.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}

	l := &Loop{
		plan:            cfg.Plan,
		mem:             cfg.Memory,
		artifactsRoot:   cfg.ArtifactsRoot,
		builder:         cfg.Builder,
		publisher:       cfg.Publisher,
		classifier:      classifier,
		runID:           runID,
		nodes:           make(map[string]*lifecycle.Node, cfg.Plan.Graph.Size()),
		pending:         make(map[uuid.UUID]pendingTask),
		repair:          make(map[string]*builder.RepairContext),
		results:         make(chan resultDelivery, defaultResultsBuffer),
		stageTimeouts:   cfg.StageTimeouts,
		defaultPriority: priority,
		publishRetries:  publishRetries,
		maxInFlight:     maxInFlight,
		idleSleep:       idleSleep,
		metrics:         cfg.Metrics,
		ledger:          cfg.Ledger,
		logger:          telemetry.WithRunID(logger, runID.String()),
		now:             time.Now,
	}
	l.buildTask = l.defaultBuildTask

	for id := range cfg.Plan.Graph.Nodes {
		l.nodes[id] = lifecycle.NewNode(id)
	}

	return l
}

// RunID возвращает идентификатор прогона.
func (l *Loop) RunID() uuid.UUID {
	return l.runID
}

// stageTimeout возвращает дедлайн стадии с учётом переопределений.
func (l *Loop) stageTimeout(stage lifecycle.Stage) time.Duration {
	if d, ok := l.stageTimeouts[stage]; ok && d > 0 {
		return d
	}
	return stage.Deadline()
}

// Submit ставит результат в очередь на применение циклом.
// Возвращённый канал получает ошибку применения (nil — успех).
func (l *Loop) Submit(result *contracts.ResultMessage) <-chan error {
	reply := make(chan error, 1)
	l.results <- resultDelivery{result: result, reply: reply}
	return reply
}

// Run крутит цикл до завершения прогона или отмены контекста.
//
// Возвращает итоговую сводку всегда; ошибка описывает исход:
// nil — все узлы DONE, ErrRunFailed / ErrRunStalled / ctx.Err() иначе.
func (l *Loop) Run(ctx context.Context) (*RunSummary, error) {
	l.logger.Info("run started", "nodes", l.plan.Graph.Size())

	for {
		progress := l.Tick(ctx)

		if done, err := l.finished(); done {
			summary := l.Summary()
			l.logSummary(summary)
			return summary, err
		}

		if progress {
			continue
		}

		// Нечего делать прямо сейчас: ждём результат, дедлайн или отмену.
		select {
		case <-ctx.Done():
			summary := l.Summary()
			l.logSummary(summary)
			return summary, ctx.Err()
		case d := <-l.results:
			d.reply <- l.applyDelivery(ctx, d.result)
		case <-time.After(l.idleSleep):
		}
	}
}

// Tick выполняет один тик цикла. Возвращает true, если был прогресс
// (применён результат, издана стадия или синтезирован таймаут).
func (l *Loop) Tick(ctx context.Context) bool {
	progress := false

	// 1. Выгребаем готовые результаты без блокировки.
	for {
		select {
		case d := <-l.results:
			d.reply <- l.applyDelivery(ctx, d.result)
			progress = true
			continue
		default:
		}
		break
	}

	// 2. Издаём стадии готовых узлов.
	if l.dispatchReady(ctx) {
		progress = true
	}

	// 3. Синтезируем таймауты по истёкшим дедлайнам.
	if l.expireDeadlines(ctx) {
		progress = true
	}

	l.updateStateGauges()

	return progress
}

// finished проверяет условия завершения прогона.
func (l *Loop) finished() (bool, error) {
	allTerminal := true
	anyFailed := false
	for _, node := range l.nodes {
		if !node.State.IsTerminal() {
			allTerminal = false
		}
		if node.State == lifecycle.StateFailed {
			anyFailed = true
		}
	}

	if allTerminal {
		if anyFailed {
			return true, ErrRunFailed
		}
		return true, nil
	}

	// Стагнация: нет in-flight и нет готовых к изданию узлов, но
	// остались нетерминальные (их зависимости упали).
	if len(l.pending) == 0 && !l.anyDispatchable() {
		return true, ErrRunStalled
	}

	return false, nil
}

// anyDispatchable проверяет, есть ли узел, которому можно издать стадию.
func (l *Loop) anyDispatchable() bool {
	done, busy := l.nodeSets()
	return len(l.plan.Graph.ReadyNodes(done, busy)) > 0
}

// nodeSets строит карты done/busy для сканирования графа.
// busy — терминально упавшие и узлы с in-flight стадией.
func (l *Loop) nodeSets() (done, busy map[string]bool) {
	done = make(map[string]bool, len(l.nodes))
	busy = make(map[string]bool, len(l.nodes))
	for id, node := range l.nodes {
		switch {
		case node.State == lifecycle.StateDone:
			done[id] = true
		case node.State == lifecycle.StateFailed:
			busy[id] = true
		case node.InFlight != nil:
			busy[id] = true
		}
	}
	return done, busy
}

// updateStateGauges обновляет датчик узлов по состояниям.
func (l *Loop) updateStateGauges() {
	if l.metrics == nil {
		return
	}

	counts := make(map[lifecycle.NodeState]int)
	for _, node := range l.nodes {
		counts[node.State]++
	}
	for _, state := range []lifecycle.NodeState{
		lifecycle.StatePending, lifecycle.StateImplementing, lifecycle.StateLinting,
		lifecycle.StateTestbenching, lifecycle.StateSimulating, lifecycle.StateDistilling,
		lifecycle.StateReflecting, lifecycle.StateDebugging, lifecycle.StateDone, lifecycle.StateFailed,
	} {
		l.metrics.NodesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// Node возвращает снимок состояния узла (для статусных обработчиков).
func (l *Loop) Node(id string) (lifecycle.Node, bool) {
	node, ok := l.nodes[id]
	if !ok {
		return lifecycle.Node{}, false
	}
	return *node, true
}
