package underwriting

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackzampolin/underwrite/internal/pipeline"
)

// Input resolvers. Each reads only prior outputs and document fields, so the
// same document state always yields the same input.

func resolveIndustryCode(_ pipeline.Descriptor, src pipeline.Source) (json.RawMessage, error) {
	var email EmailInfo
	if err := src.Output(StageEmailExtraction, &email); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"industry":             email.Industry,
		"business_description": email.BusinessDescription,
	})
}

func resolveBaseRate(_ pipeline.Descriptor, src pipeline.Source) (json.RawMessage, error) {
	var code IndustryCode
	if err := src.Output(StageIndustryCode, &code); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"bic_code": code.BICCode})
}

func resolveRevenueEstimation(_ pipeline.Descriptor, src pipeline.Source) (json.RawMessage, error) {
	var code IndustryCode
	if err := src.Output(StageIndustryCode, &code); err != nil {
		return nil, err
	}
	email, ok := src.Outputs[StageEmailExtraction]
	if !ok {
		return nil, pipeline.ErrInputMissing
	}
	return json.Marshal(map[string]any{
		"bic_code":   code.BICCode,
		"email_info": email,
	})
}

func resolveBasePremium(_ pipeline.Descriptor, src pipeline.Source) (json.RawMessage, error) {
	var rate BaseRate
	if err := src.Output(StageBaseRate, &rate); err != nil {
		return nil, err
	}
	var revenue RevenueEstimate
	if err := src.Output(StageRevenueEstimation, &revenue); err != nil {
		return nil, err
	}
	return json.Marshal(basePremiumInput{
		AnnualRevenue: revenue.EstimatedAnnualRevenue,
		BaseRate:      rate.BaseRatePer1000,
	})
}

func resolvePremiumModifiers(_ pipeline.Descriptor, src pipeline.Source) (json.RawMessage, error) {
	var code IndustryCode
	if err := src.Output(StageIndustryCode, &code); err != nil {
		return nil, err
	}
	var base BasePremium
	if err := src.Output(StageBasePremium, &base); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"base_premium":  base.BasePremium,
		"industry_code": code.BICCode,
		"email_info":    src.Outputs[StageEmailExtraction],
	})
}

func resolveAuthorityCheck(_ pipeline.Descriptor, src pipeline.Source) (json.RawMessage, error) {
	var email EmailInfo
	if err := src.Output(StageEmailExtraction, &email); err != nil {
		return nil, err
	}
	var code IndustryCode
	if err := src.Output(StageIndustryCode, &code); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"coverage_limit":   ParseCoverageLimit(email.CoverageRequested.Limits),
		"requested_limits": email.CoverageRequested.Limits,
		"bic_code":         code.BICCode,
	})
}

func resolveCoverageDetails(_ pipeline.Descriptor, src pipeline.Source) (json.RawMessage, error) {
	var email EmailInfo
	if err := src.Output(StageEmailExtraction, &email); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"industry":      email.Industry,
		"coverage_type": email.CoverageRequested.Type,
	})
}

func resolveRiskAssessment(_ pipeline.Descriptor, src pipeline.Source) (json.RawMessage, error) {
	var email EmailInfo
	if err := src.Output(StageEmailExtraction, &email); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"company_name":         email.ClientName,
		"industry":             email.Industry,
		"business_description": email.BusinessDescription,
		"loss_history":         email.LossHistory,
	})
}

func resolveResponseEmail(_ pipeline.Descriptor, src pipeline.Source) (json.RawMessage, error) {
	var email EmailInfo
	if err := src.Output(StageEmailExtraction, &email); err != nil {
		return nil, err
	}
	var premium PremiumInfo
	if err := src.Output(StagePremiumModifiers, &premium); err != nil {
		return nil, err
	}
	var coverage CoverageInfo
	if err := src.Output(StageCoverageDetails, &coverage); err != nil {
		return nil, err
	}
	endorsements := coverage.RecommendedEndorsements
	if endorsements == nil {
		endorsements = []string{}
	}
	return json.Marshal(map[string]any{
		"original_email":           src.Fields["body"],
		"client_name":              email.ClientName,
		"broker_contact":           email.BrokerContact,
		"coverage_requested":       email.CoverageRequested,
		"final_premium":            premium.FinalPremium,
		"coverage_limitations":     coverage.CoverageLimitations,
		"recommended_endorsements": endorsements,
	})
}

// DefaultCoverageLimit is assumed when the requested limits cannot be read.
const DefaultCoverageLimit = 1_000_000

var limitPattern = regexp.MustCompile(`(?i)\$?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*(m\b|mm\b|million|k\b|thousand)?`)

// ParseCoverageLimit reads a limit such as "$5M", "$2.5 million" or
// "$500,000" as dollars.
func ParseCoverageLimit(s string) float64 {
	m := limitPattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultCoverageLimit
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || n <= 0 {
		return DefaultCoverageLimit
	}
	switch strings.ToLower(m[2]) {
	case "m", "mm", "million":
		return n * 1_000_000
	case "k", "thousand":
		return n * 1_000
	}
	if n < 1000 {
		// a bare small number is a limit in millions
		return n * 1_000_000
	}
	return n
}
