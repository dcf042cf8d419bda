package underwriting

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jackzampolin/underwrite/internal/providers"
	"github.com/jackzampolin/underwrite/internal/store"
)

// docWith builds a document with the given stage outputs defined.
func docWith(t *testing.T, outputs map[string]string) store.Document {
	t.Helper()
	table, err := NewTable(Config{LLM: providers.NewMockClient()})
	if err != nil {
		t.Fatal(err)
	}
	doc := store.Document{ID: "doc", Stages: make([]*store.StageOutput, table.Len())}
	for name, out := range outputs {
		i, ok := table.Index(name)
		if !ok {
			t.Fatalf("unknown stage %s", name)
		}
		doc.Stages[i] = &store.StageOutput{Stage: name, Output: json.RawMessage(out)}
	}
	return doc
}

func TestReview(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]string
		review  bool
		reason  string
	}{
		{
			name: "clean",
			outputs: map[string]string{
				StageIndustryCode:   `{"bic_code": "4213"}`,
				StageAuthorityCheck: `{"authority_check": "approved", "referral_required": false}`,
				StageRiskAssessment: `{"overall_risk_level": "low"}`,
			},
		},
		{
			name: "referral wins over risk",
			outputs: map[string]string{
				StageAuthorityCheck: `{"authority_check": "exceeds senior underwriter limit", "referral_required": true}`,
				StageRiskAssessment: `{"overall_risk_level": "extreme"}`,
			},
			review: true,
			reason: "Authority limits exceeded: exceeds senior underwriter limit",
		},
		{
			name:    "prohibited industry",
			outputs: map[string]string{StageIndustryCode: `{"bic_code": "N/A (Prohibited)"}`},
			review:  true,
			reason:  "Industry falls under prohibited classification",
		},
		{
			name:    "high risk is case insensitive",
			outputs: map[string]string{StageRiskAssessment: `{"overall_risk_level": " High "}`},
			review:  true,
			reason:  "High risk level: high",
		},
		{
			name:    "medium risk passes",
			outputs: map[string]string{StageRiskAssessment: `{"overall_risk_level": "medium"}`},
		},
		{
			name:    "malformed output is ignored",
			outputs: map[string]string{StageAuthorityCheck: `"yes"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			review, reason := Review(docWith(t, tt.outputs))
			if review != tt.review || reason != tt.reason {
				t.Errorf("Review() = (%v, %q), want (%v, %q)", review, reason, tt.review, tt.reason)
			}
		})
	}
}

func TestSummarize_PartialDocument(t *testing.T) {
	doc := docWith(t, map[string]string{
		StageEmailExtraction: `{"client_name": "Acme", "industry": "Bakery"}`,
		StageBasePremium:     `{"base_premium": 1200.5}`,
	})
	s := Summarize(doc)
	if s.ClientName != "Acme" || s.Industry != "Bakery" {
		t.Errorf("summary = %+v", s)
	}
	if s.BasePremium == nil || *s.BasePremium != 1200.5 {
		t.Errorf("BasePremium = %v", s.BasePremium)
	}
	if s.FinalPremium != nil || s.ReferralRequired != nil || s.EstimatedRevenue != nil {
		t.Errorf("undefined stages leaked into summary: %+v", s)
	}
}

func TestCurrentStep(t *testing.T) {
	table, _ := NewTable(Config{LLM: providers.NewMockClient()})
	partial := docWith(t, map[string]string{
		StageEmailExtraction: `{}`,
		StageIndustryCode:    `{}`,
	})

	processing := partial
	processing.Status = store.StatusProcessing
	if got := CurrentStep(table, processing); got != "Determining base rate" {
		t.Errorf("processing step = %q", got)
	}

	failed := partial
	failed.Status = store.StatusRequiresHumanReview
	failed.Error = "model gave up"
	failed.CurrentStage = 2
	if got := CurrentStep(table, failed); got != "Determining base rate" {
		t.Errorf("failed step = %q", got)
	}

	done := partial
	done.Status = store.StatusCompleted
	if got := CurrentStep(table, done); got != "" {
		t.Errorf("completed step = %q", got)
	}

	full := docWith(t, nil)
	for i := range full.Stages {
		full.Stages[i] = &store.StageOutput{Output: json.RawMessage(`{}`)}
	}
	full.Status = store.StatusProcessing
	if got := CurrentStep(table, full); got != "Finalizing" {
		t.Errorf("finalizing step = %q", got)
	}
}

func TestProjector(t *testing.T) {
	table, _ := NewTable(Config{LLM: providers.NewMockClient()})
	doc := docWith(t, map[string]string{StageEmailExtraction: `{"client_name": "Acme"}`})
	doc.Status = store.StatusRequiresHumanReview
	doc.ReviewReason = "High risk level: high"
	doc.Metadata.Subject = "Quote"

	rec, ok := Projector(table)(doc).(Record)
	if !ok {
		t.Fatalf("projection is %T", Projector(table)(doc))
	}
	if rec.ID != "doc" || rec.Subject != "Quote" || rec.ClientName != "Acme" || rec.ReviewReason != doc.ReviewReason {
		t.Errorf("record = %+v", rec)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"client_name":"Acme"`, `"review_reason"`, `"status":"requires_human_review"`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("record JSON missing %s: %s", key, b)
		}
	}
}

func TestRenderPrompt_EveryStage(t *testing.T) {
	inputs := map[string]string{
		StageEmailExtraction:   `{"sender": "a@b.example", "subject": "Quote", "body": "Need GL"}`,
		StageIndustryCode:      `{"industry": "Bakery", "business_description": null}`,
		StageBaseRate:          `{"bic_code": "2051"}`,
		StageRevenueEstimation: `{"bic_code": "2051", "email_info": {"client_name": "Acme"}}`,
		StagePremiumModifiers:  `{"base_premium": 1200, "industry_code": "2051", "email_info": {"client_name": "Acme"}}`,
		StageAuthorityCheck:    `{"coverage_limit": 1000000, "requested_limits": "$1M", "bic_code": "2051"}`,
		StageCoverageDetails:   `{"industry": "Bakery", "coverage_type": "General Liability"}`,
		StageRiskAssessment:    `{"company_name": "Acme", "industry": "Bakery", "business_description": "Wholesale bread", "loss_history": "none"}`,
		StageResponseEmail: `{"original_email": "Need GL", "client_name": "Acme",
			"broker_contact": {"name": "Dana", "brokerage": "Reyes", "email": "d@r.example"},
			"coverage_requested": {"type": "General Liability", "limits": "$1M"},
			"final_premium": 1150.25, "coverage_limitations": "none", "recommended_endorsements": []}`,
	}
	for stage, input := range inputs {
		t.Run(stage, func(t *testing.T) {
			for _, explain := range []bool{false, true} {
				p, err := RenderPrompt(stage, json.RawMessage(input), explain)
				if err != nil {
					t.Fatalf("RenderPrompt() error = %v", err)
				}
				if p == "" || strings.Contains(p, "<no value>") {
					t.Errorf("explain=%v rendered:\n%s", explain, p)
				}
			}
		})
	}

	if _, err := RenderPrompt("no_such_stage", nil, false); err == nil {
		t.Error("unknown stage should fail")
	}
	if SystemPrompt() == "" {
		t.Error("empty system prompt")
	}
}
