package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// DesignNode — описание одного модуля в design context.
type DesignNode struct {
	// RTLFile — целевой путь RTL-артефакта относительно artifacts root.
	RTLFile string `json:"rtl_file"`

	// TestbenchFile — целевой путь testbench. Если пуст, выводится
	// из имени узла как <node_id>_tb.sv рядом с RTL.
	TestbenchFile string `json:"testbench_file,omitempty"`

	Interface contracts.Interface `json:"interface"`
	Clocking  contracts.Clocking  `json:"clocking"`

	CoverageGoals map[string]float64 `json:"coverage_goals,omitempty"`

	UsesLibrary []string `json:"uses_library,omitempty"`
}

// DesignContext — замороженный выход планировщика.
// Неизменяем на время прогона; пути модулей — write-цели воркеров.
type DesignContext struct {
	DesignContextHash string `json:"design_context_hash"`

	StandardLibrary map[string]string `json:"standard_library,omitempty"`

	Nodes map[string]DesignNode `json:"nodes"`
}

// LoadDesignContext читает и валидирует design_context.json.
func LoadDesignContext(path string) (*DesignContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read design context: %w", err)
	}

	var dc DesignContext
	if err := json.Unmarshal(data, &dc); err != nil {
		return nil, fmt.Errorf("parse design context: %w", err)
	}

	if err := dc.Validate(); err != nil {
		return nil, err
	}

	return &dc, nil
}

// Validate проверяет, что каждый модуль имеет RTL-путь и интерфейс.
func (dc *DesignContext) Validate() error {
	for id, node := range dc.Nodes {
		if node.RTLFile == "" {
			return fmt.Errorf("node %s: %w", id, ErrEmptyRTLFile)
		}
		if len(node.Interface.Signals) == 0 {
			return fmt.Errorf("node %s: %w", id, ErrEmptyInterface)
		}
	}
	return nil
}

// RTLPath возвращает абсолютный целевой путь RTL для узла.
func (dc *DesignContext) RTLPath(artifactsRoot, nodeID string) string {
	node, ok := dc.Nodes[nodeID]
	if !ok {
		return ""
	}
	return filepath.Join(artifactsRoot, node.RTLFile)
}

// TestbenchPath возвращает абсолютный целевой путь testbench для узла.
func (dc *DesignContext) TestbenchPath(artifactsRoot, nodeID string) string {
	node, ok := dc.Nodes[nodeID]
	if !ok {
		return ""
	}
	if node.TestbenchFile != "" {
		return filepath.Join(artifactsRoot, node.TestbenchFile)
	}
	dir := filepath.Dir(filepath.Join(artifactsRoot, node.RTLFile))
	return filepath.Join(dir, nodeID+"_tb.sv")
}
