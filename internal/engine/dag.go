package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// NodeDef — узел DAG из dag.json.
type NodeDef struct {
	ID string `json:"id"`

	// ModuleKind — тип узла из плана (например "module").
	ModuleKind string `json:"type"`

	Deps []string `json:"deps"`

	// State, Artifacts и Metrics присутствуют в файле планировщика,
	// но исполнение отслеживается оркестратором, а не здесь.
	State     string            `json:"state,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
	Metrics   map[string]any    `json:"metrics,omitempty"`
}

// dagFile — формат dag.json.
type dagFile struct {
	Nodes []NodeDef `json:"nodes"`
}

// Node — узел построенного графа.
type Node struct {
	ID         string
	ModuleKind string

	// Deps — идентификаторы узлов, от которых зависит этот узел.
	Deps []string

	// Dependents — идентификаторы узлов, зависящих от этого узла.
	Dependents []string

	inDegree int
}

// Graph — неизменяемый граф зависимостей узлов плана.
type Graph struct {
	// Nodes — все узлы графа (id → Node).
	Nodes map[string]*Node

	// Order — топологически отсортированные идентификаторы.
	Order []string
}

// LoadDAG читает dag.json и строит граф.
func LoadDAG(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dag: %w", err)
	}

	var file dagFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse dag: %w", err)
	}

	return BuildGraph(file.Nodes)
}

// BuildGraph строит граф из определений узлов.
//
// Проверяет: непустой список, уникальные id, существующие зависимости,
// отсутствие самозависимостей и циклов (алгоритм Кана).
func BuildGraph(defs []NodeDef) (*Graph, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyDAG
	}

	g := &Graph{Nodes: make(map[string]*Node, len(defs))}

	for i := range defs {
		def := &defs[i]
		if def.ID == "" {
			return nil, ErrEmptyNodeID
		}
		if _, exists := g.Nodes[def.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNodeID, def.ID)
		}
		g.Nodes[def.ID] = &Node{
			ID:         def.ID,
			ModuleKind: def.ModuleKind,
			Deps:       append([]string(nil), def.Deps...),
		}
	}

	for _, node := range g.Nodes {
		for _, dep := range node.Deps {
			if dep == node.ID {
				return nil, fmt.Errorf("%w: %s", ErrSelfDependency, node.ID)
			}
			depNode, exists := g.Nodes[dep]
			if !exists {
				return nil, fmt.Errorf("%w: %s -> %s", ErrMissingDependency, node.ID, dep)
			}
			depNode.Dependents = append(depNode.Dependents, node.ID)
			node.inDegree++
		}
	}

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// topologicalSort выполняет сортировку Кана. Возвращает ошибку при цикле.
func (g *Graph) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	var queue []string
	for id, node := range g.Nodes {
		inDegree[id] = node.inDegree
		if node.inDegree == 0 {
			queue = append(queue, id)
		}
	}
	// Детерминированный порядок обхода.
	sort.Strings(queue)

	order := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		deps := append([]string(nil), g.Nodes[id].Dependents...)
		sort.Strings(deps)
		for _, dependent := range deps {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// ReadyNodes возвращает идентификаторы узлов, все зависимости которых
// завершены (done) и которые сами не завершены и не заняты (busy).
// Порядок — топологический, поэтому результат детерминирован.
func (g *Graph) ReadyNodes(done, busy map[string]bool) []string {
	var ready []string

	for _, id := range g.Order {
		if done[id] || busy[id] {
			continue
		}

		node := g.Nodes[id]
		allDepsDone := true
		for _, dep := range node.Deps {
			if !done[dep] {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, id)
		}
	}

	return ready
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// Plan — полный план прогона: design context + граф зависимостей.
type Plan struct {
	Design *DesignContext
	Graph  *Graph
}

// LoadPlan загружает и перекрёстно валидирует оба входа планировщика.
// Каждый узел DAG обязан иметь запись в design context.
func LoadPlan(designPath, dagPath string) (*Plan, error) {
	design, err := LoadDesignContext(designPath)
	if err != nil {
		return nil, err
	}

	graph, err := LoadDAG(dagPath)
	if err != nil {
		return nil, err
	}

	for id := range graph.Nodes {
		if _, ok := design.Nodes[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingDesignEntry, id)
		}
	}

	return &Plan{Design: design, Graph: graph}, nil
}
