package forms_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DARIAH-ERIC/dariah-unr/internal/forms"
)

type kpiInput struct {
	Unit  string `json:"unit" validate:"required"`
	Value int64  `json:"value" validate:"gte=0"`
}

type sample struct {
	Name   string     `json:"name" validate:"required,max=10"`
	URL    string     `json:"url" validate:"omitempty,url"`
	Start  string     `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	Scope  string     `json:"scope" validate:"omitempty,oneof=regional national"`
	KPIs   []kpiInput `json:"kpis" validate:"dive"`
	Hidden string     `json:"-"`
}

func TestCheckValid(t *testing.T) {
	res, ok := forms.Check(sample{Name: "ok", URL: "https://example.org", Start: "2024-02-29", Scope: "national"})
	assert.True(t, ok)
	assert.Equal(t, forms.ActionResult{}, res)
}

func TestCheckFieldErrorsUseJSONNames(t *testing.T) {
	res, ok := forms.Check(sample{
		URL:   "not a url",
		Start: "29/02/2024",
		Scope: "galactic",
		KPIs:  []kpiInput{{Unit: "visits", Value: 1}, {Value: -1}},
	})
	require.False(t, ok)
	assert.False(t, res.OK())
	assert.Equal(t, forms.StatusError, res.Status)
	assert.Equal(t, []string{"Required"}, res.FieldErrors["name"])
	assert.Equal(t, []string{"Invalid URL"}, res.FieldErrors["url"])
	assert.Equal(t, []string{"Invalid date, expected YYYY-MM-DD"}, res.FieldErrors["start_date"])
	assert.Equal(t, []string{"Must be one of: regional, national"}, res.FieldErrors["scope"])
	assert.Equal(t, []string{"Required"}, res.FieldErrors["kpis[1].unit"])
	assert.Equal(t, []string{"Must be at least 0"}, res.FieldErrors["kpis[1].value"])
}

func TestResultConstructors(t *testing.T) {
	assert.True(t, forms.Success("Saved").OK())
	f := forms.Failure("Campaign closed")
	assert.Equal(t, []string{"Campaign closed"}, f.FormErrors)
	ff := forms.FieldFailure("year", "Already exists")
	assert.Equal(t, map[string][]string{"year": {"Already exists"}}, ff.FieldErrors)
}

func TestValidateAsError(t *testing.T) {
	require.NoError(t, forms.Validate(sample{Name: "ok"}))

	err := forms.Validate(sample{Name: "much too long a name", URL: "nope"})
	var verr forms.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "validation failed: name, url", err.Error())
	assert.Contains(t, verr.Result.FieldErrors, "name")

	err = forms.Invalid("year", "Already exists")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Already exists"}, verr.Result.FieldErrors["year"])
}
