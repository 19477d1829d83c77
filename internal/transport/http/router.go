// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timada/cobase/internal/auth"
	"github.com/timada/cobase/internal/domain"
	"github.com/timada/cobase/internal/metrics"
	"github.com/timada/cobase/internal/transport/middleware"
	"github.com/timada/cobase/internal/warehouse"
)

type Deps struct {
	Importer           DataImporter
	Lister             DataLister
	Health             HealthChecker
	Logger             *slog.Logger
	RateLimitPerMinute int
	Version            string
	Commit             string
	BuildDate          string
}

type importRequest struct {
	Data []map[string]any `json:"data"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	rateLimit := deps.RateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = 120
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- WAREHOUSES (USER AUTH) ----------------

	r.Group(func(r chi.Router) {
		r.Use(middleware.UserAuth(rateLimit, logger))

		// ---------------- IMPORT DATA ----------------

		r.Post("/warehouses/import-data", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				writeError(w, domain.CodeBadRequest, "missing user identity", http.StatusUnauthorized)
				return
			}

			records, err := decodeImportRequest(r)
			if err != nil {
				writeError(w, domain.CodeBadRequest, "invalid request body", http.StatusBadRequest)
				return
			}

			id, err := deps.Importer.Import(r.Context(), userID.String(), records)
			if err != nil {
				writeCommandError(w, logger, "import data failed", err)
				return
			}

			logger.Info("data import accepted", "user_id", userID, "records", len(records))

			writeJSON(w, http.StatusOK, map[string]string{
				"id": id,
			})
		})

		// ---------------- LIST DATA ----------------

		r.Get("/warehouses/data", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				writeError(w, domain.CodeBadRequest, "missing user identity", http.StatusUnauthorized)
				return
			}

			page, err := parsePage(r)
			if err != nil {
				writeError(w, domain.CodeBadRequest, err.Error(), http.StatusBadRequest)
				return
			}

			conn, err := deps.Lister.List(r.Context(), userID.String(), page)
			if err != nil {
				writeCommandError(w, logger, "list data failed", err)
				return
			}

			writeJSON(w, http.StatusOK, conn)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code domain.ErrorCode, message string, status int) {
	writeJSON(w, status, errorResponse{
		Code:    string(code),
		Message: message,
	})
}

func writeCommandError(w http.ResponseWriter, logger *slog.Logger, logMsg string, err error) {
	code := domain.CodeOf(err)

	status := http.StatusInternalServerError
	message := "internal error"

	switch code {
	case domain.CodeBadRequest:
		status = http.StatusBadRequest
		message = err.Error()
	case domain.CodeNotFound:
		status = http.StatusNotFound
		message = err.Error()
	case domain.CodeConflict:
		status = http.StatusConflict
		message = "concurrent modification, retry the request"
	default:
		logger.Error(logMsg, "error", err)
	}

	var cmdErr *domain.CommandError
	if errors.As(err, &cmdErr) && status != http.StatusInternalServerError {
		message = cmdErr.Message
	}

	writeError(w, code, message, status)
}

func decodeImportRequest(r *http.Request) ([]map[string]any, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return nil, errors.New("empty request body")
	}

	var req importRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("request body must contain exactly one JSON object")
	}

	return req.Data, nil
}

func parsePage(r *http.Request) (warehouse.Page, error) {
	var page warehouse.Page

	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("first")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return warehouse.Page{}, errors.New("invalid first")
		}
		page.First = n
	}
	if raw := strings.TrimSpace(q.Get("last")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return warehouse.Page{}, errors.New("invalid last")
		}
		page.Last = n
	}

	page.After = strings.TrimSpace(q.Get("after"))
	page.Before = strings.TrimSpace(q.Get("before"))

	return page, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
