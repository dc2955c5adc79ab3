package engine

import "errors"

// Ошибки валидации плана.
var (
	// ErrEmptyDAG — dag.json не содержит узлов.
	ErrEmptyDAG = errors.New("dag has no nodes")

	// ErrEmptyNodeID — узел без id.
	ErrEmptyNodeID = errors.New("node has empty id")

	// ErrDuplicateNodeID — несколько узлов с одинаковым id.
	ErrDuplicateNodeID = errors.New("duplicate node id")

	// ErrMissingDependency — узел зависит от несуществующего узла.
	ErrMissingDependency = errors.New("node depends on unknown node")

	// ErrSelfDependency — узел зависит от самого себя.
	ErrSelfDependency = errors.New("node depends on itself")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrMissingDesignEntry — узел DAG без записи в design context.
	ErrMissingDesignEntry = errors.New("dag node missing from design context")

	// ErrEmptyInterface — модуль без сигналов интерфейса.
	ErrEmptyInterface = errors.New("design node has no interface signals")

	// ErrEmptyRTLFile — модуль без целевого RTL-пути.
	ErrEmptyRTLFile = errors.New("design node has no rtl_file")
)
