package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/template"
)

func sampleLead() domain.Lead {
	return domain.Lead{
		LeadID:        "lead-1",
		ServiceTypeID: "roofing",
		ZipCode:       "90210",
		FormData: map[string]interface{}{
			"phone":     "(555) 123-4567",
			"firstName": "Jane",
		},
		Timeframe:         "within_3_months",
		TrustedFormCertID: "cert-abc",
		JornayaLeadID:     "jornaya-xyz",
		TCPAConsent:       true,
	}
}

func TestProjectAppliesDigitsOnlyTransform(t *testing.T) {
	tpl := domain.Template{FieldMappings: []domain.FieldMapping{
		{SourceField: "phone", TargetField: "phone_number", Transforms: []domain.Transform{domain.TransformDigitsOnly}},
	}}
	out := template.Project(sampleLead(), tpl, false)
	assert.Equal(t, "5551234567", out["phone_number"])
}

func TestProjectAppliesValueMap(t *testing.T) {
	tpl := domain.Template{FieldMappings: []domain.FieldMapping{
		{SourceField: "timeframe", TargetField: "project_timeline", ValueMap: map[string]string{
			"within_3_months": "1-6 months",
		}},
	}}
	out := template.Project(sampleLead(), tpl, false)
	assert.Equal(t, "1-6 months", out["project_timeline"])
}

func TestProjectIncludesComplianceFieldsWhenRequested(t *testing.T) {
	out := template.Project(sampleLead(), domain.Template{}, true)
	assert.Equal(t, "cert-abc", out["trustedFormCertUrl"])
	assert.Equal(t, "jornaya-xyz", out["jornayaLeadId"])
	assert.Equal(t, "yes", out["tcpaConsent"])
}

func TestProjectOmitsComplianceFieldsByDefault(t *testing.T) {
	out := template.Project(sampleLead(), domain.Template{}, false)
	_, hasCert := out["trustedFormCertUrl"]
	assert.False(t, hasCert)
}

func TestProjectDefaultIfEmpty(t *testing.T) {
	tpl := domain.Template{FieldMappings: []domain.FieldMapping{
		{SourceField: "lastName", TargetField: "last_name", Transforms: []domain.Transform{domain.TransformDefaultIfEmpty}, DefaultValue: "Unknown"},
	}}
	out := template.Project(sampleLead(), tpl, false)
	assert.Equal(t, "Unknown", out["last_name"])
}
