package underwriting

import (
	"encoding/json"
	"strings"

	"github.com/jackzampolin/underwrite/internal/store"
)

// highRiskLevels need an underwriter's eyes before a quote goes out.
var highRiskLevels = map[string]bool{
	"high":      true,
	"very high": true,
	"extreme":   true,
}

// Review decides whether a fully processed document needs human review:
// the authority check asked for a referral, the industry is prohibited, or
// the risk assessment came back high.
func Review(doc store.Document) (bool, string) {
	var auth AuthorityInfo
	if decodeOutput(doc, StageAuthorityCheck, &auth) && auth.ReferralRequired {
		reason := "Authority limits exceeded"
		if auth.AuthorityCheck != "" {
			reason += ": " + auth.AuthorityCheck
		}
		return true, reason
	}

	var code IndustryCode
	if decodeOutput(doc, StageIndustryCode, &code) && code.BICCode == ProhibitedBIC {
		return true, "Industry falls under prohibited classification"
	}

	var risk RiskAssessment
	if decodeOutput(doc, StageRiskAssessment, &risk) {
		if level := strings.ToLower(strings.TrimSpace(risk.OverallRiskLevel)); highRiskLevels[level] {
			return true, "High risk level: " + level
		}
	}
	return false, ""
}

// decodeOutput decodes the named stage output of doc into v and reports
// whether it was defined and well formed.
func decodeOutput(doc store.Document, stage string, v any) bool {
	raw := doc.Output(stage)
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}
