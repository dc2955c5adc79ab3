package lifecycle

import (
	"fmt"
	"os"

	"github.com/shaiso/Fabrica/internal/contracts"
	"github.com/shaiso/Fabrica/internal/rtl"
)

// PostcheckInput — входы проверки постусловий стадии.
type PostcheckInput struct {
	Stage  Stage
	NodeID string

	Interface contracts.Interface

	// Целевые пути артефактов узла.
	RTLPath       string
	TestbenchPath string

	Result *contracts.ResultMessage
}

// CheckPostconditions проверяет постусловия успешно завершённой стадии.
//
// Постусловия:
//   - impl/debug — RTL-файл существует, непуст, объявляет модуль,
//     соответствующий интерфейсу (имя/направление/разрядность);
//   - tb      — файл существует, инстанцирует модуль и управляет
//     всеми входными портами;
//   - lint    — лог захвачен (нулевой код выхода следует из SUCCESS);
//   - sim     — лог захвачен; покрытие опционально;
//   - distill — путь датасета записан и непуст;
//   - reflect — тело выводов непусто.
//
// Нарушение интерфейса терминально: возвращается ErrInterfaceMismatch.
func CheckPostconditions(in PostcheckInput) error {
	switch in.Stage {
	case StageImplementation, StageDebug:
		return checkRTL(in)
	case StageTestbench:
		return checkTestbench(in)
	case StageLint, StageSimulation:
		if in.Result.LogOutput == "" {
			return fmt.Errorf("%w: %s: log not captured", ErrPostcondition, in.Stage)
		}
		return nil
	case StageDistill:
		return checkDataset(in)
	case StageReflect:
		return checkInsights(in)
	default:
		return fmt.Errorf("%w: unknown stage %s", ErrPostcondition, in.Stage)
	}
}

func checkRTL(in PostcheckInput) error {
	src, err := readNonEmpty(in.RTLPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPostcondition, in.Stage, err)
	}

	mod, err := rtl.ParseModule(src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInterfaceMismatch, in.NodeID, err)
	}
	if mod.Name != in.NodeID {
		return fmt.Errorf("%w: declared module %s, want %s", ErrInterfaceMismatch, mod.Name, in.NodeID)
	}
	if err := mod.MatchesInterface(in.Interface.Signals); err != nil {
		return fmt.Errorf("%w: %v", ErrInterfaceMismatch, err)
	}
	return nil
}

func checkTestbench(in PostcheckInput) error {
	src, err := readNonEmpty(in.TestbenchPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPostcondition, in.Stage, err)
	}

	if err := rtl.CheckTestbench(src, in.NodeID, in.Interface.Signals); err != nil {
		return fmt.Errorf("%w: %v", ErrInterfaceMismatch, err)
	}
	return nil
}

func checkDataset(in PostcheckInput) error {
	path := in.Result.ArtifactsPath
	if in.Result.DistilledDataset != nil && in.Result.DistilledDataset.DataPath != "" {
		path = in.Result.DistilledDataset.DataPath
	}
	if path == "" {
		return fmt.Errorf("%w: distill: dataset path not reported", ErrPostcondition)
	}
	if _, err := readNonEmpty(path); err != nil {
		return fmt.Errorf("%w: distill: %v", ErrPostcondition, err)
	}
	return nil
}

func checkInsights(in PostcheckInput) error {
	if in.Result.ReflectionInsights != nil && in.Result.ReflectionInsights.Summary != "" {
		return nil
	}
	if in.Result.Reflections != "" {
		return nil
	}
	return fmt.Errorf("%w: reflect: empty insights", ErrPostcondition)
}

func readNonEmpty(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty file: %s", path)
	}
	return string(data), nil
}
