package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Signal — один сигнал интерфейса модуля.
type Signal struct {
	Name string `json:"name"`

	// Direction — "input" или "output".
	Direction string `json:"direction"`

	// Width — разрядность в битах.
	Width int `json:"width"`
}

// Interface — интерфейс модуля из design context.
type Interface struct {
	Signals []Signal `json:"signals"`
}

// Clock — параметры тактового сигнала и сброса.
type Clock struct {
	FreqHz         float64 `json:"freq_hz"`
	Reset          string  `json:"reset"`
	ResetActiveLow bool    `json:"reset_active_low"`
}

// Clocking — тактирование модуля.
type Clocking struct {
	Clk Clock `json:"clk"`
}

// StageArtifact — путь к артефакту и логу завершённой стадии.
type StageArtifact struct {
	ArtifactPath string `json:"artifact_path,omitempty"`
	LogPath      string `json:"log_path,omitempty"`
}

// TaskSettings — опциональные ограничения выполнения задачи.
type TaskSettings struct {
	TimeoutSec int    `json:"timeout_sec,omitempty"`
	MaxTokens  int    `json:"max_tokens,omitempty"`
	ModelHint  string `json:"model_hint,omitempty"`
}

// TaskContext — полезная нагрузка задачи.
//
// Строится Context Builder'ом детерминированно из снимка DAG,
// design context и Task Memory. Набор заполненных полей зависит от
// стадии: детерминированные воркеры никогда не получают LLM-поля
// (SpecSummary, Settings.MaxTokens, ModelHint).
type TaskContext struct {
	NodeID            string `json:"node_id"`
	DesignContextHash string `json:"design_context_hash,omitempty"`

	Interface Interface `json:"interface"`
	Clocking  Clocking  `json:"clocking"`

	CoverageGoals map[string]float64 `json:"coverage_goals,omitempty"`

	// Целевые пути артефактов — воркеры пишут по этим путям.
	RTLPath       string `json:"rtl_path,omitempty"`
	TestbenchPath string `json:"testbench_path,omitempty"`

	SpecSummary string   `json:"spec_summary,omitempty"`
	TestPlan    []string `json:"test_plan,omitempty"`

	LibraryRefs map[string]string `json:"library_refs,omitempty"`

	// PriorArtifacts — стадия → артефакт и лог из Task Memory.
	PriorArtifacts map[string]StageArtifact `json:"prior_artifacts,omitempty"`

	// ToolConfig — конфигурация инструмента для детерминированных стадий.
	ToolConfig map[string]string `json:"tool_config,omitempty"`

	// Поля цикла ремонта (distill → reflect → debug → sim).
	FailureSignature   string              `json:"failure_signature,omitempty"`
	DistilledDataset   *DistilledDataset   `json:"distilled_dataset,omitempty"`
	ReflectionInsights *ReflectionInsights `json:"reflection_insights,omitempty"`

	Settings *TaskSettings `json:"settings,omitempty"`
}

// TaskMessage — единица работы, публикуемая оркестратором в брокер.
//
// TaskID уникален для каждой опубликованной попытки; CorrelationID
// стабилен для всей линии задач одного узла DAG и связывает попытки
// при трассировке.
type TaskMessage struct {
	TaskID        uuid.UUID `json:"task_id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`

	Priority   TaskPriority `json:"priority"`
	EntityType EntityType   `json:"entity_type"`
	TaskKind   TaskKind     `json:"task_kind"`

	Context TaskContext `json:"context"`
}

// NewTaskMessage создаёт конверт задачи со свежим TaskID.
func NewTaskMessage(correlationID uuid.UUID, priority TaskPriority, kind TaskKind, ctx TaskContext) (*TaskMessage, error) {
	entity, ok := kind.Entity()
	if !ok {
		return nil, NewValidationError("task_kind", string(kind), ReasonUnknownKind, ErrUnknownTaskKind)
	}

	return &TaskMessage{
		TaskID:        uuid.New(),
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
		Priority:      priority,
		EntityType:    entity,
		TaskKind:      kind,
		Context:       ctx,
	}, nil
}
