package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// ErrNoArtifact — для узла/стадии не записан артефакт.
var ErrNoArtifact = errors.New("no artifact recorded")

// Store — Task Memory поверх файловой системы.
type Store struct {
	root string
}

// NewStore создаёт хранилище с корнем root (каталог создаётся).
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create task memory root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "specs"), 0o755); err != nil {
		return nil, fmt.Errorf("create specs dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Root возвращает корень хранилища.
func (s *Store) Root() string {
	return s.root
}

// SpecsDir возвращает каталог замороженных спецификаций.
func (s *Store) SpecsDir() string {
	return filepath.Join(s.root, "specs")
}

// StageDir возвращает каталог стадии узла.
func (s *Store) StageDir(nodeID, stage string) string {
	return filepath.Join(s.root, nodeID, stage)
}

// attemptName возвращает имя файла попытки: base.ext для первой,
// base.N.ext для последующих.
func attemptName(base, ext string, attempt int) string {
	if attempt <= 1 {
		return base + ext
	}
	return fmt.Sprintf("%s.%d%s", base, attempt, ext)
}

// RecordTask сохраняет конверт опубликованной задачи.
func (s *Store) RecordTask(nodeID, stage string, attempt int, task *contracts.TaskMessage) (string, error) {
	dir := s.StageDir(nodeID, stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create stage dir: %w", err)
	}

	path := filepath.Join(dir, attemptName("task", ".json", attempt))
	if err := s.writeJSON(path, task); err != nil {
		return "", err
	}
	return path, nil
}

// RecordResult сохраняет конверт результата и лог выполнения.
//
// Если результат ссылается на артефакт во временном каталоге
// (os.TempDir), артефакт копируется в каталог стадии; иначе
// записывается канонический путь. Возвращает
// путь result.json и канонический путь артефакта (пустой, если нет).
func (s *Store) RecordResult(nodeID, stage string, attempt int, result *contracts.ResultMessage) (resultPath, artifactPath string, err error) {
	dir := s.StageDir(nodeID, stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create stage dir: %w", err)
	}

	resultPath = filepath.Join(dir, attemptName("result", ".json", attempt))
	if err := s.writeJSON(resultPath, result); err != nil {
		return "", "", err
	}

	logPath := filepath.Join(dir, attemptName("log", ".txt", attempt))
	if err := s.writeFile(logPath, []byte(result.LogOutput)); err != nil {
		return "", "", err
	}

	if result.ArtifactsPath != "" {
		artifactPath, err = s.adoptArtifact(dir, attempt, result.ArtifactsPath)
		if err != nil {
			return "", "", err
		}
	}

	return resultPath, artifactPath, nil
}

// adoptArtifact копирует артефакт из временного пути в каталог стадии
// или фиксирует канонический путь, если воркер писал сразу в цель.
func (s *Store) adoptArtifact(stageDir string, attempt int, src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil || info.IsDir() {
		// Артефакт недоступен — фиксируем заявленный путь как есть.
		return src, s.writeFile(filepath.Join(stageDir, attemptName("artifact_path", ".txt", attempt)), []byte(src))
	}

	inTemp := strings.HasPrefix(src, os.TempDir())
	if !inTemp {
		// Канонический write-target — копия не нужна.
		return src, s.writeFile(filepath.Join(stageDir, attemptName("artifact_path", ".txt", attempt)), []byte(src))
	}

	ext := filepath.Ext(src)
	if ext == "" {
		ext = ".bin"
	}
	dst := filepath.Join(stageDir, attemptName("artifact", ext, attempt))
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("adopt artifact: %w", err)
	}
	return dst, nil
}

// ArtifactPath возвращает канонический путь артефакта стадии
// (последняя попытка).
func (s *Store) ArtifactPath(nodeID, stage string) (string, error) {
	dir := s.StageDir(nodeID, stage)

	attempts, err := s.ListAttempts(nodeID, stage)
	if err != nil || len(attempts) == 0 {
		return "", ErrNoArtifact
	}
	last := attempts[len(attempts)-1]

	// Сначала локальная копия, затем записанный путь.
	matches, _ := filepath.Glob(filepath.Join(dir, attemptName("artifact", ".*", last.Attempt)))
	for _, m := range matches {
		if strings.HasSuffix(m, ".txt") && strings.Contains(filepath.Base(m), "artifact_path") {
			continue
		}
		return m, nil
	}

	pathFile := filepath.Join(dir, attemptName("artifact_path", ".txt", last.Attempt))
	data, err := os.ReadFile(pathFile)
	if err != nil {
		return "", ErrNoArtifact
	}
	return strings.TrimSpace(string(data)), nil
}

// LogPath возвращает путь лога последней попытки стадии.
func (s *Store) LogPath(nodeID, stage string) (string, error) {
	attempts, err := s.ListAttempts(nodeID, stage)
	if err != nil || len(attempts) == 0 {
		return "", fmt.Errorf("no log recorded for %s/%s", nodeID, stage)
	}
	return attempts[len(attempts)-1].LogPath, nil
}

// Attempt — дескриптор одной попытки стадии.
type Attempt struct {
	Attempt    int
	TaskPath   string
	ResultPath string
	LogPath    string
}

// HasResult возвращает true, если результат попытки записан.
func (a Attempt) HasResult() bool {
	return a.ResultPath != ""
}

// ListAttempts возвращает попытки стадии в порядке возрастания.
func (s *Store) ListAttempts(nodeID, stage string) ([]Attempt, error) {
	dir := s.StageDir(nodeID, stage)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stage dir: %w", err)
	}

	byAttempt := make(map[int]*Attempt)
	get := func(n int) *Attempt {
		if byAttempt[n] == nil {
			byAttempt[n] = &Attempt{Attempt: n}
		}
		return byAttempt[n]
	}

	for _, entry := range entries {
		name := entry.Name()
		base, n := splitAttempt(name)
		full := filepath.Join(dir, name)
		switch base {
		case "task.json":
			get(n).TaskPath = full
		case "result.json":
			get(n).ResultPath = full
		case "log.txt":
			get(n).LogPath = full
		}
	}

	attempts := make([]Attempt, 0, len(byAttempt))
	for _, a := range byAttempt {
		attempts = append(attempts, *a)
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Attempt < attempts[j].Attempt })
	return attempts, nil
}

// splitAttempt разбирает имя файла попытки: "task.2.json" → ("task.json", 2).
func splitAttempt(name string) (string, int) {
	parts := strings.Split(name, ".")
	if len(parts) == 3 {
		if n, err := strconv.Atoi(parts[1]); err == nil {
			return parts[0] + "." + parts[2], n
		}
	}
	return name, 1
}

// LastResult возвращает результат последней попытки стадии, если записан.
// Используется при рестарте: стадии с записанным результатом не переиздаются.
func (s *Store) LastResult(nodeID, stage string) (*contracts.ResultMessage, bool, error) {
	attempts, err := s.ListAttempts(nodeID, stage)
	if err != nil {
		return nil, false, err
	}
	for i := len(attempts) - 1; i >= 0; i-- {
		if !attempts[i].HasResult() {
			continue
		}
		data, err := os.ReadFile(attempts[i].ResultPath)
		if err != nil {
			return nil, false, fmt.Errorf("read result: %w", err)
		}
		var result contracts.ResultMessage
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, false, fmt.Errorf("parse result: %w", err)
		}
		return &result, true, nil
	}
	return nil, false, nil
}

// RecordMarker пишет маркер терминального отказа в каталог стадии.
func (s *Store) RecordMarker(nodeID, stage, name, content string) error {
	dir := s.StageDir(nodeID, stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create stage dir: %w", err)
	}
	return s.writeFile(filepath.Join(dir, name), []byte(content))
}

// writeJSON атомарно пишет JSON с отступами.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return s.writeFile(path, data)
}

// writeFile атомарно пишет файл: временный файл + rename.
func (s *Store) writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}
