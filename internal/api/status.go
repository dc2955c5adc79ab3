package api

import (
	"encoding/json"
	"net/http"
)

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SummarySource отдаёт текущую сводку прогона.
// Оборачивайте orchestrator.Loop.Summary через SummaryFunc.
type SummarySource interface {
	Summary() any
}

// summaryFunc адаптирует функцию к SummarySource.
type summaryFunc func() any

func (f summaryFunc) Summary() any { return f() }

// SummaryFunc оборачивает функцию в SummarySource.
func SummaryFunc(f func() any) SummarySource { return summaryFunc(f) }

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// StatusHandler возвращает обработчик GET /status.
func StatusHandler(source SummarySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			JSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
			return
		}
		JSON(w, http.StatusOK, DataResponse{Data: source.Summary()})
	}
}
