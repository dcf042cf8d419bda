// Package underwriting is the default stage table: ten stages that take an
// inbound quote request email to a drafted broker reply.
package underwriting

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/underwrite/internal/pipeline"
	"github.com/jackzampolin/underwrite/internal/providers"
)

// Stage names, in execution order.
const (
	StageEmailExtraction   = "email_extraction"
	StageIndustryCode      = "industry_code"
	StageBaseRate          = "base_rate"
	StageRevenueEstimation = "revenue_estimation"
	StageBasePremium       = "base_premium"
	StagePremiumModifiers  = "premium_modifiers"
	StageAuthorityCheck    = "authority_check"
	StageCoverageDetails   = "coverage_details"
	StageRiskAssessment    = "risk_assessment"
	StageResponseEmail     = "response_email"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema returns the output schema of the named stage.
func Schema(stage string) (json.RawMessage, error) {
	b, err := schemaFS.ReadFile("schemas/" + stage + ".json")
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", stage, err)
	}
	return b, nil
}

// Config configures the underwriting table.
type Config struct {
	LLM         providers.LLMClient
	Model       string
	Temperature float64
	Logger      *slog.Logger
}

type stageSpec struct {
	name        string
	display     string
	inputs      []string
	fields      []string
	explanation string
	resolve     pipeline.Resolver
	compute     bool
}

var stageSpecs = []stageSpec{
	{
		name:        StageEmailExtraction,
		display:     "Extracting email info",
		fields:      []string{"sender", "subject", "body"},
		explanation: "email_extraction_explanation",
	},
	{
		name:        StageIndustryCode,
		display:     "Determining industry code",
		inputs:      []string{StageEmailExtraction},
		explanation: "industry_code_explanation",
		resolve:     resolveIndustryCode,
	},
	{
		name:        StageBaseRate,
		display:     "Determining base rate",
		inputs:      []string{StageIndustryCode},
		explanation: "base_rate_explanation",
		resolve:     resolveBaseRate,
	},
	{
		name:        StageRevenueEstimation,
		display:     "Estimating revenue",
		inputs:      []string{StageEmailExtraction, StageIndustryCode},
		explanation: "revenue_estimation_explanation",
		resolve:     resolveRevenueEstimation,
	},
	{
		name:    StageBasePremium,
		display: "Calculating base premium",
		inputs:  []string{StageBaseRate, StageRevenueEstimation},
		resolve: resolveBasePremium,
		compute: true,
	},
	{
		name:        StagePremiumModifiers,
		display:     "Applying premium modifiers",
		inputs:      []string{StageEmailExtraction, StageIndustryCode, StageBasePremium},
		explanation: "premium_modifiers_explanation",
		resolve:     resolvePremiumModifiers,
	},
	{
		name:        StageAuthorityCheck,
		display:     "Checking authority",
		inputs:      []string{StageEmailExtraction, StageIndustryCode},
		explanation: "authority_check_explanation",
		resolve:     resolveAuthorityCheck,
	},
	{
		name:        StageCoverageDetails,
		display:     "Determining coverage details",
		inputs:      []string{StageEmailExtraction},
		explanation: "coverage_details_explanation",
		resolve:     resolveCoverageDetails,
	},
	{
		name:        StageRiskAssessment,
		display:     "Assessing risk",
		inputs:      []string{StageEmailExtraction},
		explanation: "risk_assessment_explanation",
		resolve:     resolveRiskAssessment,
	},
	{
		name:    StageResponseEmail,
		display: "Generating response",
		inputs:  []string{StageEmailExtraction, StagePremiumModifiers, StageCoverageDetails},
		fields:  []string{"body"},
		resolve: resolveResponseEmail,
	},
}

// Descriptors returns the ten underwriting stages wired to cfg.LLM.
func Descriptors(cfg Config) ([]pipeline.Descriptor, error) {
	llm, err := NewLLMExecutor(cfg)
	if err != nil {
		return nil, err
	}

	descs := make([]pipeline.Descriptor, 0, len(stageSpecs))
	for _, s := range stageSpecs {
		schema, err := Schema(s.name)
		if err != nil {
			return nil, err
		}
		var exec pipeline.Executor = llm
		if s.compute {
			exec = pipeline.ExecutorFunc(computeBasePremium)
		}
		descs = append(descs, pipeline.Descriptor{
			Name:             s.name,
			DisplayName:      s.display,
			InputFields:      s.inputs,
			DocumentFields:   s.fields,
			ExplanationField: s.explanation,
			Schema:           schema,
			Resolve:          s.resolve,
			Executor:         exec,
		})
	}
	return descs, nil
}

// NewTable builds the underwriting stage table.
func NewTable(cfg Config) (*pipeline.Table, error) {
	descs, err := Descriptors(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.NewTable(descs...)
}
