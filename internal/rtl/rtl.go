// Package rtl разбирает объявления SystemVerilog-модулей для проверки
// постусловий: имя модуля, список портов, направления и разрядности.
//
// Это не HDL-фронтенд: разбирается только ANSI-заголовок модуля,
// чего достаточно для сверки с интерфейсом из design context.
package rtl

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// Ошибки разбора и сверки.
var (
	// ErrNoModule — в источнике нет объявления модуля.
	ErrNoModule = errors.New("no module declaration found")

	// ErrPortMismatch — порты не соответствуют интерфейсу.
	ErrPortMismatch = errors.New("port mismatch")

	// ErrNotInstantiated — testbench не инстанцирует модуль.
	ErrNotInstantiated = errors.New("testbench does not instantiate module")

	// ErrInputNotDriven — testbench не управляет входным портом.
	ErrInputNotDriven = errors.New("testbench does not drive input port")
)

// Port — порт из заголовка модуля.
type Port struct {
	Name      string
	Direction string // "input", "output", "inout"
	Width     int
}

// Module — разобранный заголовок модуля.
type Module struct {
	Name  string
	Ports []Port
}

var (
	moduleRe = regexp.MustCompile(`(?s)\bmodule\s+(\w+)\s*(?:#\s*\(.*?\)\s*)?\((.*?)\)\s*;`)
	portRe   = regexp.MustCompile(`^(input|output|inout)\s+(?:logic|wire|reg|bit)?\s*(?:\[\s*(\d+)\s*:\s*(\d+)\s*\])?\s*(\w+)$`)
	commentRe = regexp.MustCompile(`//[^\n]*`)
)

// ParseModule извлекает первое объявление модуля из источника.
func ParseModule(src string) (*Module, error) {
	clean := commentRe.ReplaceAllString(src, "")

	m := moduleRe.FindStringSubmatch(clean)
	if m == nil {
		return nil, ErrNoModule
	}

	mod := &Module{Name: m[1]}

	lastDirection := ""
	for _, raw := range strings.Split(m[2], ",") {
		decl := strings.TrimSpace(strings.ReplaceAll(raw, "\n", " "))
		decl = strings.Join(strings.Fields(decl), " ")
		if decl == "" {
			continue
		}

		port, ok := parsePort(decl)
		if !ok {
			// Продолжение предыдущего направления: "input a, b".
			if lastDirection != "" && regexp.MustCompile(`^\w+$`).MatchString(decl) {
				mod.Ports = append(mod.Ports, Port{Name: decl, Direction: lastDirection, Width: 1})
			}
			continue
		}
		lastDirection = port.Direction
		mod.Ports = append(mod.Ports, port)
	}

	return mod, nil
}

func parsePort(decl string) (Port, bool) {
	m := portRe.FindStringSubmatch(decl)
	if m == nil {
		return Port{}, false
	}

	width := 1
	if m[2] != "" && m[3] != "" {
		msb, err1 := strconv.Atoi(m[2])
		lsb, err2 := strconv.Atoi(m[3])
		if err1 == nil && err2 == nil && msb >= lsb {
			width = msb - lsb + 1
		}
	}

	return Port{Name: m[4], Direction: m[1], Width: width}, true
}

// Port возвращает порт по имени.
func (m *Module) Port(name string) (Port, bool) {
	for _, p := range m.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// MatchesInterface сверяет порты модуля с интерфейсом из design context:
// каждый сигнал должен присутствовать с тем же направлением и разрядностью.
func (m *Module) MatchesInterface(signals []contracts.Signal) error {
	var problems []string

	for _, sig := range signals {
		port, ok := m.Port(sig.Name)
		if !ok {
			problems = append(problems, fmt.Sprintf("missing port %s", sig.Name))
			continue
		}
		if port.Direction != sig.Direction {
			problems = append(problems, fmt.Sprintf("port %s: direction %s, want %s", sig.Name, port.Direction, sig.Direction))
		}
		if sig.Width > 0 && port.Width != sig.Width {
			problems = append(problems, fmt.Sprintf("port %s: width %d, want %d", sig.Name, port.Width, sig.Width))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrPortMismatch, m.Name, strings.Join(problems, "; "))
	}
	return nil
}

// CheckTestbench проверяет, что testbench инстанцирует модуль и
// управляет всеми его входными портами, включая тактовый сигнал
// (генерация в always-блоке вида "clk = ~clk" тоже считается драйвом).
func CheckTestbench(src, moduleName string, signals []contracts.Signal) error {
	clean := commentRe.ReplaceAllString(src, "")

	instRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(moduleName) + `\s+\w+\s*\(`)
	if !instRe.MatchString(clean) {
		return fmt.Errorf("%w: %s", ErrNotInstantiated, moduleName)
	}

	for _, sig := range signals {
		if sig.Direction != "input" {
			continue
		}
		// Драйв: присваивание, force или генерация в always/initial.
		driveRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(sig.Name) + `\s*(<=|=)`)
		if !driveRe.MatchString(clean) {
			return fmt.Errorf("%w: %s", ErrInputNotDriven, sig.Name)
		}
	}

	return nil
}
