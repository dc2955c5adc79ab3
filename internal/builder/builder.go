package builder

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shaiso/Fabrica/internal/contracts"
	"github.com/shaiso/Fabrica/internal/engine"
	"github.com/shaiso/Fabrica/internal/lifecycle"
)

// ErrUnknownNode — узел отсутствует в design context.
var ErrUnknownNode = errors.New("unknown node in design context")

// ArtifactReader — читающий доступ к Task Memory для сборки контекста.
type ArtifactReader interface {
	ArtifactPath(nodeID, stage string) (string, error)
	LogPath(nodeID, stage string) (string, error)
}

// RepairContext — данные цикла ремонта, накопленные оркестратором.
type RepairContext struct {
	FailureSignature   string
	DistilledDataset   *contracts.DistilledDataset
	ReflectionInsights *contracts.ReflectionInsights
}

// Builder строит контекст задач из design context и Task Memory.
type Builder struct {
	design        *engine.DesignContext
	artifactsRoot string
	reader        ArtifactReader
}

// New создаёт Builder.
func New(design *engine.DesignContext, artifactsRoot string, reader ArtifactReader) *Builder {
	return &Builder{
		design:        design,
		artifactsRoot: artifactsRoot,
		reader:        reader,
	}
}

// Build строит контекст задачи для стадии узла.
//
// repair передаётся только для стадий цикла ремонта; для обычного
// прохода он nil.
func (b *Builder) Build(stage lifecycle.Stage, nodeID string, repair *RepairContext) (contracts.TaskContext, error) {
	node, ok := b.design.Nodes[nodeID]
	if !ok {
		return contracts.TaskContext{}, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	ctx := contracts.TaskContext{
		NodeID:            nodeID,
		DesignContextHash: b.design.DesignContextHash,
		Interface:         node.Interface,
		Clocking:          node.Clocking,
		CoverageGoals:     node.CoverageGoals,
		RTLPath:           b.design.RTLPath(b.artifactsRoot, nodeID),
		TestbenchPath:     b.design.TestbenchPath(b.artifactsRoot, nodeID),
		PriorArtifacts:    b.priorArtifacts(nodeID, stage),
	}

	switch stage {
	case lifecycle.StageImplementation:
		ctx.SpecSummary = b.specSummary(nodeID, node)
		ctx.LibraryRefs = b.libraryRefs(node)

	case lifecycle.StageTestbench:
		ctx.SpecSummary = b.specSummary(nodeID, node)
		ctx.TestPlan = b.testPlan(nodeID, node)

	case lifecycle.StageLint:
		ctx.ToolConfig = map[string]string{
			"tool":   "verilator",
			"mode":   "lint-only",
			"source": ctx.RTLPath,
		}

	case lifecycle.StageSimulation:
		ctx.ToolConfig = map[string]string{
			"tool":      "iverilog",
			"rtl":       ctx.RTLPath,
			"testbench": ctx.TestbenchPath,
		}

	case lifecycle.StageDistill:
		simLog, err := b.reader.LogPath(nodeID, string(lifecycle.StageSimulation))
		if err != nil {
			return contracts.TaskContext{}, fmt.Errorf("distill context for %s: %w", nodeID, err)
		}
		ctx.ToolConfig = map[string]string{
			"sim_log":     simLog,
			"dataset_out": filepath.Join(b.artifactsRoot, "distill", nodeID+".json"),
		}
		if repair != nil {
			ctx.FailureSignature = repair.FailureSignature
		}

	case lifecycle.StageReflect:
		simLog, err := b.reader.LogPath(nodeID, string(lifecycle.StageSimulation))
		if err != nil {
			return contracts.TaskContext{}, fmt.Errorf("reflect context for %s: %w", nodeID, err)
		}
		ctx.ToolConfig = map[string]string{
			"sim_log": simLog,
		}
		if repair != nil {
			ctx.FailureSignature = repair.FailureSignature
			ctx.DistilledDataset = repair.DistilledDataset
		} else if dataset, err := b.reader.ArtifactPath(nodeID, string(lifecycle.StageDistill)); err == nil {
			ctx.ToolConfig["dataset"] = dataset
		}

	case lifecycle.StageDebug:
		if repair != nil {
			ctx.FailureSignature = repair.FailureSignature
			ctx.ReflectionInsights = repair.ReflectionInsights
			ctx.DistilledDataset = repair.DistilledDataset
		}

	default:
		return contracts.TaskContext{}, fmt.Errorf("no context shape for stage %s", stage)
	}

	return ctx, nil
}

// priorArtifacts собирает стадия → артефакт/лог для всех предыдущих
// стадий узла с записями в Task Memory. Порядок стадий фиксирован,
// поэтому результат детерминирован.
func (b *Builder) priorArtifacts(nodeID string, current lifecycle.Stage) map[string]contracts.StageArtifact {
	prior := make(map[string]contracts.StageArtifact)

	for _, stage := range append(lifecycle.Stages(), lifecycle.StageDebug) {
		if stage == current {
			continue
		}

		var entry contracts.StageArtifact
		if path, err := b.reader.ArtifactPath(nodeID, string(stage)); err == nil && path != "" {
			entry.ArtifactPath = path
		}
		if path, err := b.reader.LogPath(nodeID, string(stage)); err == nil && path != "" {
			entry.LogPath = path
		}
		if entry.ArtifactPath != "" || entry.LogPath != "" {
			prior[string(stage)] = entry
		}
	}

	if len(prior) == 0 {
		return nil
	}
	return prior
}

// specSummary строит текстовую сводку модуля для reasoning-агентов.
func (b *Builder) specSummary(nodeID string, node engine.DesignNode) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Module %s.", nodeID)

	inputs, outputs := 0, 0
	for _, sig := range node.Interface.Signals {
		if sig.Direction == "input" {
			inputs++
		} else {
			outputs++
		}
	}
	fmt.Fprintf(&sb, " Interface: %d inputs, %d outputs.", inputs, outputs)

	clk := node.Clocking.Clk
	if clk.Reset != "" {
		polarity := "active-high"
		if clk.ResetActiveLow {
			polarity = "active-low"
		}
		fmt.Fprintf(&sb, " Clock %.0f Hz, reset %s (%s).", clk.FreqHz, clk.Reset, polarity)
	}

	if len(node.CoverageGoals) > 0 {
		goals := make([]string, 0, len(node.CoverageGoals))
		for name := range node.CoverageGoals {
			goals = append(goals, name)
		}
		sort.Strings(goals)
		fmt.Fprintf(&sb, " Coverage goals: %s.", strings.Join(goals, ", "))
	}

	return sb.String()
}

// testPlan строит детерминированный список сценариев testbench.
func (b *Builder) testPlan(nodeID string, node engine.DesignNode) []string {
	plan := []string{
		fmt.Sprintf("apply reset %s and verify all outputs of %s are at reset values", node.Clocking.Clk.Reset, nodeID),
	}

	signals := append([]contracts.Signal(nil), node.Interface.Signals...)
	sort.Slice(signals, func(i, j int) bool { return signals[i].Name < signals[j].Name })

	for _, sig := range signals {
		if sig.Direction != "input" || sig.Name == node.Clocking.Clk.Reset || sig.Name == "clk" {
			continue
		}
		plan = append(plan, fmt.Sprintf("exercise input %s across its %d-bit range", sig.Name, sig.Width))
	}

	for _, goal := range sortedKeys(node.CoverageGoals) {
		plan = append(plan, fmt.Sprintf("collect %s coverage", goal))
	}

	return plan
}

// libraryRefs отдаёт ссылки на стандартную библиотеку, если узел её
// использует.
func (b *Builder) libraryRefs(node engine.DesignNode) map[string]string {
	if len(node.UsesLibrary) == 0 || len(b.design.StandardLibrary) == 0 {
		return nil
	}

	refs := make(map[string]string)
	for _, name := range node.UsesLibrary {
		if path, ok := b.design.StandardLibrary[name]; ok {
			refs[name] = path
		}
	}
	if len(refs) == 0 {
		return nil
	}
	return refs
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
