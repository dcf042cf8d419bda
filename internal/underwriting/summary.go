package underwriting

import (
	"github.com/jackzampolin/underwrite/internal/hub"
	"github.com/jackzampolin/underwrite/internal/pipeline"
	"github.com/jackzampolin/underwrite/internal/store"
)

// Summary holds the headline fields of an underwriting document. Every field
// is derived from a stage output, so invalidating a stage unsets its fields.
type Summary struct {
	ClientName       string   `json:"client_name,omitempty"`
	Industry         string   `json:"industry,omitempty"`
	BICCode          string   `json:"bic_code,omitempty"`
	EstimatedRevenue *int64   `json:"estimated_annual_revenue,omitempty"`
	BasePremium      *float64 `json:"base_premium,omitempty"`
	FinalPremium     *float64 `json:"final_premium,omitempty"`
	AuthorityCheck   string   `json:"authority_check,omitempty"`
	ReferralRequired *bool    `json:"referral_required,omitempty"`
	RiskLevel        string   `json:"risk_level,omitempty"`
}

// Summarize derives the summary of doc.
func Summarize(doc store.Document) Summary {
	var s Summary

	var email EmailInfo
	if decodeOutput(doc, StageEmailExtraction, &email) {
		s.ClientName = email.ClientName
		s.Industry = email.Industry
	}
	var code IndustryCode
	if decodeOutput(doc, StageIndustryCode, &code) {
		s.BICCode = code.BICCode
	}
	var revenue RevenueEstimate
	if decodeOutput(doc, StageRevenueEstimation, &revenue) {
		s.EstimatedRevenue = &revenue.EstimatedAnnualRevenue
	}
	var base BasePremium
	if decodeOutput(doc, StageBasePremium, &base) {
		s.BasePremium = &base.BasePremium
	}
	var premium PremiumInfo
	if decodeOutput(doc, StagePremiumModifiers, &premium) {
		s.FinalPremium = &premium.FinalPremium
	}
	var auth AuthorityInfo
	if decodeOutput(doc, StageAuthorityCheck, &auth) {
		s.AuthorityCheck = auth.AuthorityCheck
		s.ReferralRequired = &auth.ReferralRequired
	}
	var risk RiskAssessment
	if decodeOutput(doc, StageRiskAssessment, &risk) {
		s.RiskLevel = risk.OverallRiskLevel
	}
	return s
}

// Record is the dashboard record of an underwriting document.
type Record struct {
	hub.Record
	CurrentStep  string `json:"current_step,omitempty"`
	ReviewReason string `json:"review_reason,omitempty"`
	Summary
}

// Projector returns the hub projection for documents processed by t.
func Projector(t *pipeline.Table) func(store.Document) any {
	return func(doc store.Document) any {
		return Record{
			Record:       hub.DefaultProject(doc).(hub.Record),
			CurrentStep:  CurrentStep(t, doc),
			ReviewReason: doc.ReviewReason,
			Summary:      Summarize(doc),
		}
	}
}

// CurrentStep names the stage a document is on: the running stage while
// processing, the stage that stopped it after a failure, nothing otherwise.
func CurrentStep(t *pipeline.Table, doc store.Document) string {
	var i int
	switch {
	case doc.Status == store.StatusProcessing:
		i = doc.FirstUndefined()
	case doc.Error != "":
		i = doc.CurrentStage
	default:
		return ""
	}
	d, ok := t.At(i)
	if !ok {
		return "Finalizing"
	}
	return d.DisplayName
}
