package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// lintTimeout — предел времени запуска verilator.
const lintTimeout = 10 * time.Second

// LintExecutor выполняет lint RTL-файла.
//
// Использует verilator --lint-only; если инструмент не установлен —
// структурная mock-проверка (module/endmodule).
type LintExecutor struct {
	// verilator — путь к бинарю; пустой — mock-режим.
	verilator string
}

// NewLintExecutor создаёт LintExecutor, обнаруживая verilator в PATH.
func NewLintExecutor() *LintExecutor {
	path, _ := exec.LookPath("verilator")
	return &LintExecutor{verilator: path}
}

// Execute выполняет lint задачу.
func (e *LintExecutor) Execute(ctx context.Context, task *contracts.TaskMessage) (*contracts.ResultMessage, error) {
	rtlPath := task.Context.RTLPath
	if rtlPath == "" {
		return nil, fmt.Errorf("%w: missing rtl_path", ErrTaskInput)
	}

	if _, err := os.Stat(rtlPath); err != nil {
		result := contracts.NewResult(task, contracts.StatusFailure,
			fmt.Sprintf("RTL missing: %s", rtlPath))
		return result, nil
	}

	if e.verilator != "" {
		return e.runVerilator(ctx, task, rtlPath)
	}
	return e.mockLint(task, rtlPath)
}

// runVerilator запускает verilator --lint-only.
func (e *LintExecutor) runVerilator(ctx context.Context, task *contracts.TaskMessage, rtlPath string) (*contracts.ResultMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, lintTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.verilator, "--lint-only", "--quiet", "--sv", rtlPath)
	out, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: verilator timed out", ErrTransient)
	}

	if err != nil {
		log := string(out)
		if log == "" {
			log = err.Error()
		}
		return contracts.NewResult(task, contracts.StatusFailure, log), nil
	}

	log := string(out)
	if log == "" {
		log = "Verilator lint passed."
	}
	result := contracts.NewResult(task, contracts.StatusSuccess, log)
	result.ArtifactsPath = rtlPath
	return result, nil
}

// mockLint — структурная проверка, когда verilator недоступен.
func (e *LintExecutor) mockLint(task *contracts.TaskMessage, rtlPath string) (*contracts.ResultMessage, error) {
	data, err := os.ReadFile(rtlPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read rtl: %v", ErrTaskInput, err)
	}

	contents := string(data)
	if !strings.Contains(contents, "module") || !strings.Contains(contents, "endmodule") {
		return contracts.NewResult(task, contracts.StatusFailure,
			fmt.Sprintf("mock lint failed: %s has no module declaration", rtlPath)), nil
	}

	result := contracts.NewResult(task, contracts.StatusSuccess, "Mock lint passed.")
	result.ArtifactsPath = rtlPath
	return result, nil
}
