package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// distillExcerptLines — сколько строк лога попадает в выжимку.
const distillExcerptLines = 40

// DistillExecutor дистиллирует лог симуляции в компактный датасет
// для агента-рефлексии.
type DistillExecutor struct{}

// Execute выполняет задачу дистилляции.
//
// Вход: tool_config.sim_log — лог симуляции; tool_config.dataset_out —
// целевой путь датасета. Отсутствие лога — невосстановимая ошибка входа.
func (e *DistillExecutor) Execute(ctx context.Context, task *contracts.TaskMessage) (*contracts.ResultMessage, error) {
	nodeID := task.Context.NodeID
	if nodeID == "" {
		return nil, fmt.Errorf("%w: missing node_id", ErrTaskInput)
	}

	simLog := task.Context.ToolConfig["sim_log"]
	if simLog == "" {
		return nil, fmt.Errorf("%w: missing sim_log in tool config", ErrTaskInput)
	}

	data, err := os.ReadFile(simLog)
	if err != nil {
		return nil, fmt.Errorf("%w: missing simulation log: %s", ErrTaskInput, simLog)
	}

	outPath := task.Context.ToolConfig["dataset_out"]
	if outPath == "" {
		outPath = filepath.Join(filepath.Dir(simLog), "distilled_dataset.json")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dataset dir: %v", ErrTransient, err)
	}

	lines := strings.Split(string(data), "\n")
	excerpt := lines
	if len(excerpt) > distillExcerptLines {
		excerpt = excerpt[:distillExcerptLines]
	}

	payload := map[string]any{
		"node_id":     nodeID,
		"log_excerpt": strings.Join(excerpt, "\n"),
		"log_length":  len(data),
		"focus_areas": focusAreas(string(data)),
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal dataset: %w", err)
	}
	if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write dataset: %v", ErrTransient, err)
	}

	ratio := 0.0
	if len(encoded) > 0 {
		ratio = float64(len(data)) / float64(len(encoded))
	}

	result := contracts.NewResult(task, contracts.StatusSuccess,
		fmt.Sprintf("distilled %d bytes into %d bytes", len(data), len(encoded)))
	result.ArtifactsPath = outPath
	result.DistilledDataset = &contracts.DistilledDataset{
		OriginalDataSize:  len(data),
		DistilledDataSize: len(encoded),
		CompressionRatio:  ratio,
		FailureFocusAreas: focusAreas(string(data)),
		DataPath:          outPath,
	}
	return result, nil
}

// focusAreas извлекает грубые зоны внимания из лога симуляции.
func focusAreas(log string) []string {
	var areas []string
	lower := strings.ToLower(log)

	for token, area := range map[string]string{
		"assert":  "assertions",
		"timeout": "timeouts",
		"x ":      "unknown_values",
		"reset":   "reset_behavior",
	} {
		if strings.Contains(lower, token) {
			areas = append(areas, area)
		}
	}

	if len(areas) == 0 {
		return []string{"sim_log"}
	}
	sort.Strings(areas)
	return areas
}
