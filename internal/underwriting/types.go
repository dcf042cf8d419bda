package underwriting

// Stage output shapes. Each mirrors the JSON schema of the same stage in
// schemas/; explanations are carried beside outputs, never inside them.

// EmailInfo is the output of email_extraction.
type EmailInfo struct {
	ClientName          string            `json:"client_name"`
	Industry            string            `json:"industry"`
	CoverageRequested   CoverageRequested `json:"coverage_requested"`
	FleetSize           *int64            `json:"fleet_size,omitempty"`
	Revenue             *int64            `json:"revenue,omitempty"`
	Employees           *int64            `json:"employees,omitempty"`
	FacilitySize        *string           `json:"facility_size,omitempty"`
	Urgency             string            `json:"urgency"`
	LossHistory         string            `json:"loss_history"`
	AdditionalRequests  []string          `json:"additional_requests,omitempty"`
	BrokerContact       BrokerContact     `json:"broker_contact"`
	BusinessDescription *string           `json:"business_description,omitempty"`
}

// CoverageRequested is the coverage line and limits asked for.
type CoverageRequested struct {
	Type   string `json:"type"`
	Limits string `json:"limits"`
}

// BrokerContact identifies who sent the submission.
type BrokerContact struct {
	Name      string `json:"name"`
	Brokerage string `json:"brokerage"`
	Email     string `json:"email"`
}

// ProhibitedBIC is the industry code for classes that cannot be written.
const ProhibitedBIC = "N/A (Prohibited)"

// IndustryCode is the output of industry_code.
type IndustryCode struct {
	BICCode string `json:"bic_code"`
}

// BaseRate is the output of base_rate.
type BaseRate struct {
	BaseRatePer1000 float64 `json:"base_rate_per_1000"`
}

// RevenueEstimate is the output of revenue_estimation.
type RevenueEstimate struct {
	EstimatedAnnualRevenue int64 `json:"estimated_annual_revenue"`
}

// BasePremium is the output of base_premium.
type BasePremium struct {
	BasePremium float64 `json:"base_premium"`
}

// PremiumModifiers are the rating factors applied to the base premium.
type PremiumModifiers struct {
	FleetDiscount       *float64           `json:"fleet_discount,omitempty"`
	LossHistoryFactor   float64            `json:"loss_history_factor"`
	TerritoryFactor     float64            `json:"territory_factor"`
	CoverageLimitFactor *float64           `json:"coverage_limit_factor,omitempty"`
	BusinessTypeFactor  *float64           `json:"business_type_factor,omitempty"`
	OtherFactors        map[string]float64 `json:"other_factors,omitempty"`
}

// PremiumInfo is the output of premium_modifiers.
type PremiumInfo struct {
	Modifiers    PremiumModifiers `json:"modifiers"`
	FinalPremium float64          `json:"final_premium"`
}

// AuthorityInfo is the output of authority_check.
type AuthorityInfo struct {
	AuthorityCheck   string `json:"authority_check"`
	ReferralRequired bool   `json:"referral_required"`
}

// CoverageInfo is the output of coverage_details.
type CoverageInfo struct {
	CoverageLimitations     string   `json:"coverage_limitations"`
	RecommendedEndorsements []string `json:"recommended_endorsements"`
}

// RiskAssessment is the output of risk_assessment.
type RiskAssessment struct {
	OverallRiskLevel   string   `json:"overall_risk_level"`
	RiskFactors        []string `json:"risk_factors"`
	FinancialStability string   `json:"financial_stability,omitempty"`
	MarketPosition     string   `json:"market_position,omitempty"`
	ClaimsHistory      string   `json:"claims_history,omitempty"`
	UnderwriterSummary string   `json:"underwriter_summary"`
}

// ResponseEmail is the output of response_email.
type ResponseEmail struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
