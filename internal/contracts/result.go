package contracts

import (
	"time"

	"github.com/google/uuid"
)

// CostMetrics — токены и стоимость выполнения LLM-задачи.
type CostMetrics struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// DistilledDataset — дескриптор дистиллированного набора данных,
// который воркер-дистиллятор строит из логов симуляции.
type DistilledDataset struct {
	OriginalDataSize  int      `json:"original_data_size"`
	DistilledDataSize int      `json:"distilled_data_size"`
	CompressionRatio  float64  `json:"compression_ratio"`
	FailureFocusAreas []string `json:"failure_focus_areas,omitempty"`
	DataPath          string   `json:"data_path"`
}

// ReflectionInsights — выводы агента-рефлексии о причине сбоя.
type ReflectionInsights struct {
	Summary        string   `json:"summary"`
	RootCause      string   `json:"root_cause,omitempty"`
	SuggestedFixes []string `json:"suggested_fixes,omitempty"`
}

// ResultMessage — результат выполнения задачи, потребляемый оркестратором
// из очереди results. Создаётся исполнителем и потребляется ровно один раз.
type ResultMessage struct {
	TaskID        uuid.UUID `json:"task_id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	CompletedAt   time.Time `json:"completed_at"`

	Status TaskStatus `json:"status"`

	// ArtifactsPath — путь к сгенерированным артефактам (если есть).
	ArtifactsPath string `json:"artifacts_path,omitempty"`

	// LogOutput — обязательный лог выполнения (stdout/stderr или сводка).
	LogOutput string `json:"log_output"`

	// Reflections — свободный комментарий агента об исходе задачи.
	Reflections string `json:"reflections,omitempty"`

	Metrics *CostMetrics `json:"metrics,omitempty"`

	// Аналитические полезные нагрузки.
	DistilledDataset   *DistilledDataset   `json:"distilled_dataset,omitempty"`
	ReflectionInsights *ReflectionInsights `json:"reflection_insights,omitempty"`
}

// NewResult создаёт конверт результата для задачи.
func NewResult(task *TaskMessage, status TaskStatus, logOutput string) *ResultMessage {
	return &ResultMessage{
		TaskID:        task.TaskID,
		CorrelationID: task.CorrelationID,
		CompletedAt:   time.Now().UTC(),
		Status:        status,
		LogOutput:     logOutput,
	}
}
