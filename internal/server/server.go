package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"storepulse/internal/domain"
	"storepulse/internal/engine"
	"storepulse/internal/ingest"
	"storepulse/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Loader   ingest.Loader
	DataDir  string
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"report abc123 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope shared by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the StorePulse API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("StorePulse API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router)
	registerHealth(group)
	registerReports(group, cfg.Engine)
	registerStores(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerImport(group, cfg)
	registerGetReport(router, basePath, cfg.Engine)
	registerOpenAPI(router, api)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrReportNotReady) {
		return newAPIError(http.StatusConflict, "report_not_ready", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var spec []byte
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML() string {
	specURL := "/openapi.json"
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>StorePulse API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "trigger-report",
		Method:        http.MethodPost,
		Path:          "/trigger_report",
		Summary:       "Trigger report generation",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TriggerReportResponse `json:"body"`
	}, error) {
		rep, err := e.TriggerAndRun(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TriggerReportResponse `json:"body"`
		}{Body: TriggerReportResponse{ReportID: rep.ReportID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-status",
		Method:      http.MethodGet,
		Path:        "/report_status",
		Summary:     "Report lifecycle state",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReportID string `query:"report_id"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		if input.ReportID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "report_id is required", nil)
		}
		rep, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body []ReportResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListReports(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReportResponse `json:"body"`
		}{Body: mapReports(items)}, nil
	})
}

// registerGetReport serves the report payload outside huma: a Complete
// report streams as CSV while a Running one answers with a JSON status
// envelope, mirroring the polling contract.
func registerGetReport(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "get_report"), func(w http.ResponseWriter, req *http.Request) {
		reportID := req.URL.Query().Get("report_id")
		if reportID == "" {
			writeErrorEnvelope(w, http.StatusBadRequest, "bad_request", "report_id is required")
			return
		}
		rep, err := e.Repo.GetReport(req.Context(), reportID)
		if errors.Is(err, repo.ErrNotFound) {
			writeErrorEnvelope(w, http.StatusNotFound, "not_found", fmt.Sprintf("report %s not found", reportID))
			return
		}
		if err != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "internal_error", "internal error")
			return
		}
		switch rep.Status {
		case domain.ReportRunning:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"status": domain.ReportRunning})
		case domain.ReportFailed:
			detail := "report generation failed"
			if rep.Error != "" {
				detail = rep.Error
			}
			writeErrorEnvelope(w, http.StatusInternalServerError, "report_failed", detail)
		default:
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "report-"+reportID+".csv"))
			w.Write(rep.Payload)
		}
	})
}

func writeErrorEnvelope(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": apiErrorBody{Code: code, Message: message},
	})
}

func registerStores(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stores",
		Method:      http.MethodGet,
		Path:        "/stores",
		Summary:     "List known stores",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []StoreResponse `json:"body"`
	}, error) {
		stores, err := listStores(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StoreResponse `json:"body"`
		}{Body: stores}, nil
	})
}

func listStores(ctx context.Context, e engine.Engine) ([]StoreResponse, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	ids, err := e.Repo.ListStoreIDsTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	out := make([]StoreResponse, 0, len(ids))
	for _, id := range ids {
		sr := StoreResponse{StoreID: id}
		tz, err := e.Repo.StoreTimezoneTx(ctx, tx, id)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			sr.Timezone = e.Config.Report.DefaultTimezone
			sr.DefaultTimezone = true
		case err != nil:
			return nil, err
		default:
			sr.Timezone = tz
		}
		out = append(out, sr)
	}
	return out, nil
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerImport(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "import-dataset",
		Method:      http.MethodPost,
		Path:        "/import",
		Summary:     "Reload the dataset from CSV files",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body ImportRequest `json:"body"`
	}) (*struct {
		Body ingest.Result `json:"body"`
	}, error) {
		dir := input.Body.Dir
		if dir == "" {
			dir = cfg.DataDir
		}
		if dir == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "dir is required", nil)
		}
		res, err := cfg.Loader.ImportDir(ctx, dir)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ingest.Result `json:"body"`
		}{Body: res}, nil
	})
}
