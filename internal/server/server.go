package server

import (
	"context"
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

	"bugarena/internal/domain"
	"bugarena/internal/engine"
	"bugarena/internal/lifecycle"
	"bugarena/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"game g-1 is hunt; cannot start review"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the arena API.
func New(cfg Config) (http.Handler, error) {
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
	hcfg := huma.DefaultConfig("Bug Arena API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGames(group, cfg.Engine)
	registerPhases(group, cfg.Engine)
	registerFindings(group, cfg.Engine)
	registerDisputes(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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
	var te lifecycle.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), map[string]any{
			"entity": te.Entity, "current": te.Current, "requested": te.Requested,
		})
	}
	if errors.Is(err, engine.ErrDisputeExists) {
		return newAPIError(http.StatusConflict, "dispute_exists", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrSelfDispute) {
		return newAPIError(http.StatusConflict, "self_dispute", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"),
		strings.Contains(lowered, "cannot be"),
		strings.Contains(lowered, "not in game"),
		strings.Contains(lowered, "unknown dispute outcome"):
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

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Bug Arena API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Agent-Id.
    </p>
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

type GamePath struct {
	GameID string `path:"game_id"`
}

type FindingPath struct {
	FindingID string `path:"finding_id"`
}

func registerGames(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-game",
		Method:        http.MethodPost,
		Path:          "/games",
		Summary:       "Create game",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateGameRequest `json:"body"`
	}) (*struct {
		Body domain.Game `json:"body"`
	}, error) {
		if input.Body.Artifact == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "artifact is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.CreateGame(ctx, engine.GameCreateOptions{
			ID:          optString(input.Body.ID),
			Artifact:    input.Body.Artifact,
			Category:    optString(input.Body.Category),
			Focus:       optString(input.Body.Focus),
			TargetScore: optInt(input.Body.TargetScore),
			MaxRounds:   optInt(input.Body.MaxRounds),
			AgentCount:  optInt(input.Body.AgentCount),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Game `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-games",
		Method:      http.MethodGet,
		Path:        "/games",
		Summary:     "List games",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Game `json:"body"`
	}, error) {
		items, err := e.Repo.ListGames(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Game `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-game",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}",
		Summary:     "Get game",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *GamePath) (*struct {
		Body domain.Game `json:"body"`
	}, error) {
		g, err := e.Repo.GetGame(ctx, input.GameID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Game `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-game",
		Method:      http.MethodDelete,
		Path:        "/games/{game_id}",
		Summary:     "Delete game",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *GamePath) (*struct{}, error) {
		if err := e.Repo.DeleteGame(ctx, input.GameID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-game",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/export",
		Summary:     "Export full game state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *GamePath) (*struct {
		Body engine.ExportBundle `json:"body"`
	}, error) {
		bundle, err := e.Export(ctx, input.GameID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ExportBundle `json:"body"`
		}{Body: bundle}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scoreboard",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/scoreboard",
		Summary:     "Game scoreboard",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *GamePath) (*struct {
		Body ScoreboardResponse `json:"body"`
	}, error) {
		g, err := e.Repo.GetGame(ctx, input.GameID)
		if err != nil {
			return nil, handleError(err)
		}
		agents, err := e.Scoreboard(ctx, g.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScoreboardResponse `json:"body"`
		}{Body: scoreboardResponse(g, agents)}, nil
	})
}

func registerPhases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "start-hunt",
		Method:      http.MethodPost,
		Path:        "/games/{game_id}/hunt/start",
		Summary:     "Start the first hunt round",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *GamePath) (*struct {
		Body domain.Game `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.StartHunt(ctx, input.GameID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Game `json:"body"`
		}{Body: g}, nil
	})

	type phaseOp struct {
		id, pathSuffix, summary string
		run                     func(ctx context.Context, gameID, actorID string) (domain.Game, bool, error)
	}
	for _, op := range []phaseOp{
		{"check-hunt", "hunt/check", "Poll hunt completion", e.CheckHunt},
		{"start-review", "review/start", "Advance to review once scoring settles", e.StartReview},
		{"check-review", "review/check", "Poll review completion", e.CheckReview},
		{"finish-round", "round/finish", "Close the round, completing or rolling over", e.FinishRound},
	} {
		run := op.run
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/games/{game_id}/" + op.pathSuffix,
			Summary:     op.summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *GamePath) (*struct {
			Body PhaseCheckResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			g, advanced, err := run(ctx, input.GameID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body PhaseCheckResponse `json:"body"`
			}{Body: PhaseCheckResponse{Game: g, Advanced: advanced}}, nil
		})
	}
}

func registerFindings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-finding",
		Method:        http.MethodPost,
		Path:          "/games/{game_id}/findings",
		Summary:       "Submit a finding",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		GamePath
		Body SubmitFindingRequest `json:"body"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		agentID := input.Body.AgentID
		if agentID == "" {
			if p, ok := principalFromContext(ctx); ok {
				agentID = p.ActorID
			}
		}
		f, err := e.SubmitFinding(ctx, engine.FindingSubmitOptions{
			ID:          optString(input.Body.ID),
			GameID:      input.GameID,
			AgentID:     agentID,
			Description: input.Body.Description,
			FilePath:    input.Body.FilePath,
			LineStart:   input.Body.LineStart,
			LineEnd:     input.Body.LineEnd,
			CodeExcerpt: optString(input.Body.CodeExcerpt),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-findings",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/findings",
		Summary:     "List findings",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GamePath
		Status string `query:"status" enum:",pending,valid,false_flag,duplicate"`
		Round  int    `query:"round"`
		Agent  string `query:"agent"`
	}) (*struct {
		Body []domain.Finding `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGame(ctx, input.GameID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListFindings(ctx, repo.FindingFilters{
			GameID:  input.GameID,
			Status:  input.Status,
			Round:   input.Round,
			AgentID: input.Agent,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Finding `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-finding",
		Method:      http.MethodGet,
		Path:        "/findings/{finding_id}",
		Summary:     "Get finding",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *FindingPath) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		f, err := e.Repo.GetFinding(ctx, input.FindingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "duplicate-candidates",
		Method:      http.MethodGet,
		Path:        "/findings/{finding_id}/candidates",
		Summary:     "Similarity-ranked duplicate candidates",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *FindingPath) (*struct {
		Body CandidatesResponse `json:"body"`
	}, error) {
		candidates, err := e.DuplicateCandidates(ctx, input.FindingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CandidatesResponse `json:"body"`
		}{Body: CandidatesResponse{FindingID: input.FindingID, Candidates: candidates}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-finding",
		Method:      http.MethodPost,
		Path:        "/findings/{finding_id}/validate",
		Summary:     "Rule a finding valid",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		FindingPath
		Body ValidateFindingRequest `json:"body"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.ValidateFinding(ctx, input.FindingID, lifecycle.ValidateOptions{
			Verdict:           input.Body.Verdict,
			Confidence:        input.Body.Confidence,
			ConfidenceScore:   input.Body.ConfidenceScore,
			IssueType:         input.Body.IssueType,
			ImpactTier:        input.Body.ImpactTier,
			NeedsVerification: input.Body.NeedsVerification,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "false-flag-finding",
		Method:      http.MethodPost,
		Path:        "/findings/{finding_id}/false-flag",
		Summary:     "Rule a finding a false flag",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		FindingPath
		Body FalseFlagRequest `json:"body"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.MarkFalseFlag(ctx, input.FindingID, input.Body.Verdict, input.Body.RejectionReason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "duplicate-finding",
		Method:      http.MethodPost,
		Path:        "/findings/{finding_id}/duplicate",
		Summary:     "Rule a finding a duplicate",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		FindingPath
		Body MarkDuplicateRequest `json:"body"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.DuplicateOf == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "duplicate_of is required", nil)
		}
		f, err := e.MarkDuplicate(ctx, input.FindingID, input.Body.DuplicateOf, input.Body.Verdict, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-verification",
		Method:      http.MethodPost,
		Path:        "/findings/{finding_id}/verification/confirm",
		Summary:     "Confirm a pending verification",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		FindingPath
		Body VerificationRequest `json:"body"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.ConfirmVerification(ctx, input.FindingID, input.Body.Comment, input.Body.IssueType, input.Body.ImpactTier, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-verification",
		Method:      http.MethodPost,
		Path:        "/findings/{finding_id}/verification/reject",
		Summary:     "Reject a pending verification",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		FindingPath
		Body VerificationRequest `json:"body"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.RejectVerification(ctx, input.FindingID, input.Body.Comment, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})
}

func registerDisputes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-dispute",
		Method:        http.MethodPost,
		Path:          "/findings/{finding_id}/disputes",
		Summary:       "Dispute a valid finding",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		FindingPath
		Body SubmitDisputeRequest `json:"body"`
	}) (*struct {
		Body domain.Dispute `json:"body"`
	}, error) {
		agentID := input.Body.AgentID
		if agentID == "" {
			if p, ok := principalFromContext(ctx); ok {
				agentID = p.ActorID
			}
		}
		d, err := e.SubmitDispute(ctx, engine.DisputeSubmitOptions{
			ID:        optString(input.Body.ID),
			FindingID: input.FindingID,
			AgentID:   agentID,
			Reason:    input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dispute `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-disputes",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/disputes",
		Summary:     "List disputes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GamePath
		Status string `query:"status" enum:",pending,successful,failed"`
		Round  int    `query:"round"`
	}) (*struct {
		Body []domain.Dispute `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGame(ctx, input.GameID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDisputes(ctx, repo.DisputeFilters{
			GameID: input.GameID,
			Status: input.Status,
			Round:  input.Round,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Dispute `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-dispute",
		Method:      http.MethodPost,
		Path:        "/disputes/{dispute_id}/resolve",
		Summary:     "Resolve a pending dispute",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DisputeID string                `path:"dispute_id"`
		Body      ResolveDisputeRequest `json:"body"`
	}) (*struct {
		Body domain.Dispute `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.ResolveDispute(ctx, input.DisputeID, input.Body.Outcome, input.Body.Verdict, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dispute `json:"body"`
		}{Body: d}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/agents",
		Summary:     "List agents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *GamePath) (*struct {
		Body []domain.Agent `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGame(ctx, input.GameID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAgents(ctx, input.GameID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Agent `json:"body"`
		}{Body: items}, nil
	})

	type agentPath struct {
		GameID  string `path:"game_id"`
		AgentID string `path:"agent_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "hunt-done",
		Method:      http.MethodPost,
		Path:        "/games/{game_id}/agents/{agent_id}/hunt-done",
		Summary:     "Signal hunt done for the round",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *agentPath) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		a, err := e.SignalHuntDone(ctx, input.GameID, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-done",
		Method:      http.MethodPost,
		Path:        "/games/{game_id}/agents/{agent_id}/review-done",
		Summary:     "Signal review done for the round",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *agentPath) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		a, err := e.SignalReviewDone(ctx, input.GameID, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "eliminate-agent",
		Method:      http.MethodPost,
		Path:        "/agents/{agent_id}/eliminate",
		Summary:     "Eliminate an agent",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.EliminateAgent(ctx, input.AgentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/events",
		Summary:     "Latest events, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GamePath
		Type  string `query:"type"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGame(ctx, input.GameID); err != nil {
			return nil, handleError(err)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{GameID: input.GameID, Type: input.Type, Limit: limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
