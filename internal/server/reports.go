package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine/auth"
	"github.com/DARIAH-ERIC/dariah-unr/internal/forms"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
)

type reportPath struct {
	ReportID string `path:"report_id"`
}

type reportOutput struct {
	Body domain.Report `json:"body"`
}

func registerCampaigns(api huma.API, e engine.Engine) {
	huma.Register(api, listOperation("list-campaigns", "/campaigns", "List reporting campaigns"),
		func(ctx context.Context, _ *struct{}) (*listOutput[domain.ReportCampaign], error) {
			if _, _, err := requireScoped(ctx, e, auth.PermReportRead); err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListCampaigns(ctx))
		})

	huma.Register(api, huma.Operation{
		OperationID: "set-campaign",
		Method:      http.MethodPut,
		Path:        "/campaigns/{year}",
		Summary:     "Open or close the reporting campaign of a year",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Year int             `path:"year"`
		Body CampaignRequest `json:"body"`
	}) (*struct {
		Body engine.CampaignResult `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, e, auth.PermCampaignManage, "")
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.SetCampaignStatus(ctx, engine.CampaignOptions{
			Year:          input.Year,
			Status:        input.Body.Status,
			CreateReports: input.Body.CreateReports,
			ActorID:       p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CampaignResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, listOperation("list-reports", "/reports", "List reports"),
		func(ctx context.Context, input *struct {
			CountryID string `query:"country_id"`
			Year      int    `query:"year"`
			Status    string `query:"status"`
		}) (*listOutput[domain.Report], error) {
			_, scope, err := requireScoped(ctx, e, auth.PermReportRead)
			if err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListReports(ctx, repo.ReportFilters{
				CountryID: narrow(scope, input.CountryID),
				Year:      input.Year,
				Status:    input.Status,
			}))
		})

	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Create the draft report of a country for a year",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateReportRequest `json:"body"`
	}) (*reportOutput, error) {
		p, err := requirePermission(ctx, e, auth.PermReportCreate, input.Body.CountryID)
		if err != nil {
			return nil, handleError(err)
		}
		rep, err := e.CreateReport(ctx, engine.CreateReportOptions{
			CountryID: input.Body.CountryID,
			Year:      input.Body.Year,
			ActorID:   p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &reportOutput{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}",
		Summary:     "Get report",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*reportOutput, error) {
		_, scope, err := requireScoped(ctx, e, auth.PermReportRead)
		if err != nil {
			return nil, handleError(err)
		}
		rep, err := e.GetReport(ctx, scope, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &reportOutput{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-report",
		Method:        http.MethodDelete,
		Path:          "/reports/{report_id}",
		Summary:       "Delete a draft report",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *reportPath) (*struct{}, error) {
		p, scope, err := requireScoped(ctx, e, auth.PermReportCreate)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteReport(ctx, scope, input.ReportID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-report-threshold",
		Method:      http.MethodPut,
		Path:        "/reports/{report_id}/threshold",
		Summary:     "Set the operational cost threshold of a report",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string           `path:"report_id"`
		Body     ThresholdRequest `json:"body"`
	}) (*reportOutput, error) {
		p, scope, err := requireScoped(ctx, e, auth.PermReportCreate)
		if err != nil {
			return nil, handleError(err)
		}
		rep, err := e.SetOperationalCostThreshold(ctx, engine.SetThresholdOptions{
			CountryID: scope,
			ReportID:  input.ReportID,
			Threshold: input.Body.OperationalCostThreshold,
			ActorID:   p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &reportOutput{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "calculate-operational-cost",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}/calculation",
		Summary:     "Calculate the operational cost of a report",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body calc.Calculation `json:"body"`
	}, error) {
		_, scope, err := requireScoped(ctx, e, auth.PermReportRead)
		if err != nil {
			return nil, handleError(err)
		}
		result, err := e.CalculateOperationalCost(ctx, scope, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body calc.Calculation `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-summary",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}/summary",
		Summary:     "Summarize a report",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body engine.Summary `json:"body"`
	}, error) {
		_, scope, err := requireScoped(ctx, e, auth.PermReportRead)
		if err != nil {
			return nil, handleError(err)
		}
		result, err := e.ReportCalculation(ctx, scope, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.CreateReportSummary(ctx, scope, input.ReportID, result)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Summary `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-comparison",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}/comparison",
		Summary:     "Compare a report with the country's report of the previous year",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body engine.Comparison `json:"body"`
	}, error) {
		_, scope, err := requireScoped(ctx, e, auth.PermReportRead)
		if err != nil {
			return nil, handleError(err)
		}
		cmp, err := e.CompareWithPreviousYear(ctx, scope, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Comparison `json:"body"`
		}{Body: cmp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/confirm",
		Summary:     "Store the operational cost and mark the report final",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body ConfirmResponse `json:"body"`
	}, error) {
		p, scope, err := requireScoped(ctx, e, auth.PermReportConfirm)
		if err != nil {
			return nil, handleError(err)
		}
		rep, result, err := e.ConfirmReport(ctx, scope, input.ReportID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfirmResponse `json:"body"`
		}{Body: ConfirmResponse{Report: rep, Calculation: result}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/reopen",
		Summary:     "Put a final report back into draft",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *reportPath) (*reportOutput, error) {
		p, err := requirePermission(ctx, e, auth.PermCampaignManage, "")
		if err != nil {
			return nil, handleError(err)
		}
		rep, err := e.ReopenReport(ctx, "", input.ReportID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &reportOutput{Body: rep}, nil
	})
}

func registerWizard(api huma.API, e engine.Engine) {
	huma.Register(api, listOperation("list-steps", "/reports/{report_id}/steps", "List the steps of the report wizard"),
		func(ctx context.Context, input *reportPath) (*listOutput[engine.Step], error) {
			_, scope, err := requireScoped(ctx, e, auth.PermReportRead)
			if err != nil {
				return nil, handleError(err)
			}
			if _, err := e.GetReport(ctx, scope, input.ReportID); err != nil {
				return nil, handleError(err)
			}
			return listed(engine.Steps, nil)
		})

	huma.Register(api, huma.Operation{
		OperationID: "get-step",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}/steps/{step}",
		Summary:     "Load a wizard step",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
		Step     string `path:"step"`
	}) (*struct {
		Body engine.StepData `json:"body"`
	}, error) {
		_, scope, err := requireScoped(ctx, e, auth.PermReportRead)
		if err != nil {
			return nil, handleError(err)
		}
		data, err := e.LoadStep(ctx, scope, input.ReportID, input.Step)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StepData `json:"body"`
		}{Body: data}, nil
	})

	// Invalid submissions are answered with 200 and an error result so the
	// form can show field errors.
	huma.Register(api, huma.Operation{
		OperationID: "submit-step",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/steps/{step}",
		Summary:     "Submit a wizard step",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string                `path:"report_id"`
		Step     string                `path:"step"`
		Body     engine.StepSubmission `json:"body"`
	}) (*struct {
		Body forms.ActionResult `json:"body"`
	}, error) {
		perm := auth.PermReportWrite
		if input.Step == engine.StepConfirm {
			perm = auth.PermReportConfirm
		}
		p, scope, err := requireScoped(ctx, e, perm)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.SubmitStep(ctx, engine.SubmitStepOptions{
			CountryID: scope,
			ReportID:  input.ReportID,
			Step:      input.Step,
			Input:     input.Body,
			ActorID:   p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body forms.ActionResult `json:"body"`
		}{Body: res}, nil
	})
}
