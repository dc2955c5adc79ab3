package lifecycle

import (
	"time"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// Stage — единица работы узла. Значение совпадает с именем каталога
// стадии в Task Memory.
type Stage string

const (
	StageImplementation Stage = "impl"
	StageLint           Stage = "lint"
	StageTestbench      Stage = "tb"
	StageSimulation     Stage = "sim"
	StageDistill        Stage = "distill"
	StageReflect        Stage = "reflect"
	StageDebug          Stage = "debug"
)

// stageKinds — роль исполнителя каждой стадии.
var stageKinds = map[Stage]contracts.TaskKind{
	StageImplementation: contracts.KindImplementation,
	StageLint:           contracts.KindLinter,
	StageTestbench:      contracts.KindTestbench,
	StageSimulation:     contracts.KindSimulator,
	StageDistill:        contracts.KindDistiller,
	StageReflect:        contracts.KindReflection,
	StageDebug:          contracts.KindDebug,
}

// Дедлайны стадий по умолчанию.
const (
	deadlineImplementation = 120 * time.Second
	deadlineTestbench      = 120 * time.Second
	deadlineDebug          = 120 * time.Second
	deadlineSimulation     = 300 * time.Second
	deadlineFast           = 60 * time.Second // lint, distill, reflect
)

// happyOrder — порядок стадий успешного прохода.
var happyOrder = []Stage{
	StageImplementation,
	StageLint,
	StageTestbench,
	StageSimulation,
	StageDistill,
	StageReflect,
}

// Valid возвращает true для известной стадии.
func (s Stage) Valid() bool {
	_, ok := stageKinds[s]
	return ok
}

// Kind возвращает роль исполнителя стадии.
func (s Stage) Kind() contracts.TaskKind {
	return stageKinds[s]
}

// Entity возвращает класс исполнителя стадии (определяет очередь).
func (s Stage) Entity() contracts.EntityType {
	entity, _ := stageKinds[s].Entity()
	return entity
}

// Deadline возвращает дедлайн стадии по умолчанию.
func (s Stage) Deadline() time.Duration {
	switch s {
	case StageImplementation:
		return deadlineImplementation
	case StageTestbench:
		return deadlineTestbench
	case StageDebug:
		return deadlineDebug
	case StageSimulation:
		return deadlineSimulation
	default:
		return deadlineFast
	}
}

// Next возвращает следующую стадию успешного прохода.
// Вторым значением false — если s завершает проход (reflect) или
// не входит в него (debug).
func (s Stage) Next() (Stage, bool) {
	for i, stage := range happyOrder {
		if stage == s && i+1 < len(happyOrder) {
			return happyOrder[i+1], true
		}
	}
	return "", false
}

// Stages возвращает порядок стадий успешного прохода.
func Stages() []Stage {
	return append([]Stage(nil), happyOrder...)
}
