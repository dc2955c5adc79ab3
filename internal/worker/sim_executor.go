package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// simTimeout — предел времени компиляции и прогона симуляции.
const simTimeout = 30 * time.Second

// SimExecutor компилирует и прогоняет симуляцию testbench.
//
// Использует iverilog + vvp; если инструменты не установлены —
// mock-прогон с успешным исходом.
type SimExecutor struct {
	iverilog string
	vvp      string
}

// NewSimExecutor создаёт SimExecutor, обнаруживая инструменты в PATH.
func NewSimExecutor() *SimExecutor {
	iverilog, _ := exec.LookPath("iverilog")
	vvp, _ := exec.LookPath("vvp")
	return &SimExecutor{iverilog: iverilog, vvp: vvp}
}

// Execute выполняет задачу симуляции.
func (e *SimExecutor) Execute(ctx context.Context, task *contracts.TaskMessage) (*contracts.ResultMessage, error) {
	rtlPath := task.Context.RTLPath
	tbPath := task.Context.TestbenchPath
	if rtlPath == "" {
		return nil, fmt.Errorf("%w: missing rtl_path", ErrTaskInput)
	}
	if _, err := os.Stat(rtlPath); err != nil {
		return nil, fmt.Errorf("%w: rtl missing: %s", ErrTaskInput, rtlPath)
	}

	if e.iverilog == "" || e.vvp == "" {
		return contracts.NewResult(task, contracts.StatusSuccess, "Mock simulation passed with coverage."), nil
	}

	ctx, cancel := context.WithTimeout(ctx, simTimeout)
	defer cancel()

	binDir, err := os.MkdirTemp("", "fabrica-sim-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create sim dir: %v", ErrTransient, err)
	}
	defer os.RemoveAll(binDir)
	binPath := filepath.Join(binDir, "sim.out")

	sources := []string{rtlPath}
	if tbPath != "" {
		if _, err := os.Stat(tbPath); err == nil {
			sources = append(sources, tbPath)
		}
	}

	buildArgs := append([]string{"-g2012", "-o", binPath}, sources...)
	build := exec.CommandContext(ctx, e.iverilog, buildArgs...)
	if out, err := build.CombinedOutput(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: iverilog timed out", ErrTransient)
		}
		return contracts.NewResult(task, contracts.StatusFailure,
			fmt.Sprintf("iverilog %s\n%s", filepath.Base(rtlPath), out)), nil
	}

	run := exec.CommandContext(ctx, e.vvp, binPath)
	out, err := run.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: vvp timed out", ErrTransient)
		}
		return contracts.NewResult(task, contracts.StatusFailure, string(out)), nil
	}

	log := string(out)
	if log == "" {
		log = "Simulation passed."
	}
	return contracts.NewResult(task, contracts.StatusSuccess, log), nil
}
