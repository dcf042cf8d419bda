package underwriting

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jackzampolin/underwrite/internal/pipeline"
)

type basePremiumInput struct {
	AnnualRevenue int64   `json:"annual_revenue"`
	BaseRate      float64 `json:"base_rate"`
}

// computeBasePremium is revenue / 1000 * rate, rounded to cents. It is pure
// arithmetic and records no explanation.
func computeBasePremium(_ context.Context, _ pipeline.Descriptor, input json.RawMessage) (pipeline.Output, error) {
	var in basePremiumInput
	if err := json.Unmarshal(input, &in); err != nil {
		return pipeline.Output{}, pipeline.NonRecoverableError(fmt.Errorf("decode base premium input: %w", err))
	}
	if in.AnnualRevenue < 0 || in.BaseRate < 0 {
		return pipeline.Output{}, pipeline.RecoverableError(fmt.Errorf("negative revenue %d or rate %g", in.AnnualRevenue, in.BaseRate))
	}
	premium := math.Round(float64(in.AnnualRevenue)/1000*in.BaseRate*100) / 100
	value, err := json.Marshal(BasePremium{BasePremium: premium})
	if err != nil {
		return pipeline.Output{}, pipeline.NonRecoverableError(err)
	}
	return pipeline.Output{Value: value}, nil
}
