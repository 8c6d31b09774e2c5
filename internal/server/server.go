package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"scenecraft/internal/domain"
	"scenecraft/internal/engine"
	"scenecraft/internal/jobs"
	"scenecraft/internal/ledger"
	"scenecraft/internal/pipeline"
	"scenecraft/internal/repo"
)

type pipelineRunner interface {
	Run(ctx context.Context, sceneID string) (pipeline.Result, error)
}

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Pipeline pipelineRunner
	Queue    *jobs.Queue
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"scene_locked"`
	Message string         `json:"message" example:"scene is locked by the pipeline"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the scenecraft API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline runner is required")
	}
	if cfg.Queue == nil {
		cfg.Queue = &jobs.Queue{DB: cfg.Engine.DB, Now: cfg.Engine.Now}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Scenecraft API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerScenes(group, cfg.Engine)
	registerPipeline(group, cfg)
	registerProposals(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

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
	msg := err.Error()
	var (
		sceneLock *domain.LockedError
		runLock   *pipeline.LockedError
		budget    *pipeline.BudgetExceededError
		stage     *pipeline.StageFailedError
	)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.As(err, &runLock):
		return newAPIError(http.StatusConflict, "scene_locked", msg, lockDetails(runLock.Holder, runLock.Until))
	case errors.As(err, &sceneLock):
		return newAPIError(http.StatusConflict, "scene_locked", msg, lockDetails(sceneLock.Holder, sceneLock.Until))
	case errors.Is(err, domain.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, domain.ErrNotEditable):
		return newAPIError(http.StatusConflict, "not_editable", msg, nil)
	case errors.Is(err, engine.ErrProposalNotPending):
		return newAPIError(http.StatusConflict, "proposal_not_pending", msg, nil)
	case errors.Is(err, pipeline.ErrNotEligible):
		return newAPIError(http.StatusConflict, "not_eligible", msg, nil)
	case errors.As(err, &budget):
		return newAPIError(http.StatusPaymentRequired, "budget_exceeded", msg, map[string]any{
			"stage": budget.Stage, "spend_usd": budget.CurrentSpend, "cap_usd": budget.Cap, "amount_usd": budget.Amount,
		})
	case errors.As(err, &stage):
		return newAPIError(http.StatusBadGateway, "stage_failed", msg, map[string]any{"stage": stage.Stage})
	case errors.Is(err, pipeline.ErrCanceled):
		return newAPIError(http.StatusServiceUnavailable, "canceled", msg, nil)
	case errors.Is(err, domain.ErrNoChanges), errors.Is(err, ledger.ErrNegativeAmount):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must not be negative"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func lockDetails(holder string, until time.Time) map[string]any {
	details := map[string]any{"locked_by": holder}
	if !until.IsZero() {
		details["locked_until"] = until.UTC().Format(time.RFC3339)
	}
	return details
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
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

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type scenePath struct {
	SceneID string `path:"scene_id"`
}

type proposalPath struct {
	ProposalID string `path:"proposal_id"`
}

type sceneBody struct {
	Body domain.Scene `json:"body"`
}

type projectBody struct {
	Body domain.Project `json:"body"`
}

type budgetBody struct {
	Body BudgetResponse `json:"body"`
}

type proposalBody struct {
	Body domain.Proposal `json:"body"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*projectBody, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:           input.Body.ID,
			Title:        input.Body.Title,
			Logline:      input.Body.Logline,
			Bible:        input.Body.Bible,
			BudgetCapUSD: input.Body.BudgetCapUSD,
			ActorID:      actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*projectBody, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-budget",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/budget",
		Summary:     "Budget cap and spend",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*budgetBody, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := budgetResponse(p)
		if err != nil {
			return nil, handleError(err)
		}
		return &budgetBody{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-budget",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/budget",
		Summary:     "Set budget cap",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      SetBudgetRequest `json:"body"`
	}) (*budgetBody, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetBudgetCap(ctx, input.ProjectID, input.Body.CapUSD, actor)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := budgetResponse(p)
		if err != nil {
			return nil, handleError(err)
		}
		return &budgetBody{Body: b}, nil
	})
}

func registerScenes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-scene",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/scenes",
		Summary:       "Create scene",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateSceneRequest `json:"body"`
	}) (*sceneBody, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateScene(ctx, engine.SceneCreateOptions{
			ID:              input.Body.ID,
			ProjectID:       input.ProjectID,
			Title:           input.Body.Title,
			Heading:         input.Body.Heading,
			Synopsis:        input.Body.Synopsis,
			Script:          input.Body.Script,
			DurationSeconds: input.Body.DurationSeconds,
			ActorID:         actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &sceneBody{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-scenes",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/scenes",
		Summary:     "List scenes",
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.Scene `json:"body"`
	}, error) {
		items, err := e.Repo.ListScenes(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Scene `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-scene",
		Method:      http.MethodGet,
		Path:        "/scenes/{scene_id}",
		Summary:     "Get scene",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *scenePath) (*sceneBody, error) {
		s, err := e.Repo.GetScene(ctx, input.SceneID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sceneBody{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-scene",
		Method:      http.MethodPatch,
		Path:        "/scenes/{scene_id}",
		Summary:     "Edit a draft scene",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SceneID string             `path:"scene_id"`
		Body    UpdateSceneRequest `json:"body"`
	}) (*sceneBody, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateScene(ctx, input.SceneID, input.Body.fields(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &sceneBody{Body: s}, nil
	})

	transition := func(id, route, summary string, apply func(ctx context.Context, sceneID, actor string) (domain.Scene, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        "/scenes/{scene_id}/" + route,
			Summary:     summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *scenePath) (*sceneBody, error) {
			actor, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			s, err := apply(ctx, input.SceneID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &sceneBody{Body: s}, nil
		})
	}
	transition("submit-scene", "submit", "Submit a draft for review", e.SubmitScene)
	transition("approve-scene", "approve", "Approve a scene under review", e.ApproveScene)

	huma.Register(api, huma.Operation{
		OperationID: "request-scene-revision",
		Method:      http.MethodPost,
		Path:        "/scenes/{scene_id}/request-revision",
		Summary:     "Send a scene under review back to draft",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SceneID string          `path:"scene_id"`
		Body    RevisionRequest `json:"body"`
	}) (*sceneBody, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.RequestSceneRevision(ctx, input.SceneID, input.Body.Feedback, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &sceneBody{Body: s}, nil
	})
}

func registerPipeline(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "run-pipeline",
		Method:      http.MethodPost,
		Path:        "/scenes/{scene_id}/pipeline",
		Summary:     "Run every stage over a draft scene",
		Description: "Runs synchronously. A run that started and then stopped on budget, stage failure or cancellation answers 200 with the partial result; only runs that never started are errors.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *scenePath) (*struct {
		Body pipeline.Result `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := cfg.Pipeline.Run(ctx, input.SceneID)
		if err != nil {
			switch res.Outcome {
			case pipeline.OutcomeNotEligible, pipeline.OutcomeLocked, "":
				if errors.Is(err, pipeline.ErrNotEligible) {
					if _, getErr := cfg.Engine.Repo.GetScene(ctx, input.SceneID); errors.Is(getErr, repo.ErrNotFound) {
						return nil, handleError(fmt.Errorf("scene %s: %w", input.SceneID, repo.ErrNotFound))
					}
				}
				return nil, handleError(err)
			}
			cfg.Logger.Info("pipeline run stopped", "scene_id", input.SceneID, "outcome", res.Outcome, "err", err)
		}
		return &struct {
			Body pipeline.Result `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-pipeline",
		Method:        http.MethodPost,
		Path:          "/scenes/{scene_id}/pipeline/jobs",
		Summary:       "Queue a pipeline run",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *scenePath) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		job, err := cfg.Queue.Enqueue(ctx, input.SceneID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get a queued pipeline run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		job, err := cfg.Queue.Get(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/scenes/{scene_id}/proposals",
		Summary:     "List proposals for a scene in stage order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SceneID string `path:"scene_id"`
		RunID   string `query:"run_id"`
		Status  string `query:"status" doc:"pending, applied or dismissed"`
	}) (*struct {
		Body []domain.Proposal `json:"body"`
	}, error) {
		if _, err := e.Repo.GetScene(ctx, input.SceneID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProposals(ctx, repo.ProposalFilters{
			SceneID: input.SceneID,
			RunID:   input.RunID,
			Status:  domain.ProposalStatus(input.Status),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Proposal `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/apply",
		Summary:     "Mark a proposal applied",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *proposalPath) (*proposalBody, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ApplyProposal(ctx, input.ProposalID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &proposalBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/dismiss",
		Summary:     "Dismiss a proposal",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProposalID string          `path:"proposal_id"`
		Body       *DismissRequest `json:"body,omitempty" required:"false"`
	}) (*proposalBody, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var reason string
		if input.Body != nil {
			reason = input.Body.Reason
		}
		p, err := e.DismissProposal(ctx, input.ProposalID, reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &proposalBody{Body: p}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		EntityID  string `query:"entity_id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		items, err := e.Repo.ListEntries(ctx, repo.EventFilters{
			ProjectID: input.ProjectID,
			EntityID:  input.EntityID,
			Type:      input.Type,
			Cursor:    cursor,
			Limit:     limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].Seq(), 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.ActorID, Source: p.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
