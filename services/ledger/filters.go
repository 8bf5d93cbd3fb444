package ledger

import (
	"strings"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/services"
)

// Normalize applies defaults and rejects contradictory bounds. It is safe to
// call more than once.
func (f *Filters) Normalize() error {
	f.Tenant = strings.TrimSpace(f.Tenant)
	f.DecisionIDPrefix = strings.TrimSpace(f.DecisionIDPrefix)
	f.Model = strings.TrimSpace(f.Model)
	f.ModelVersion = strings.TrimSpace(f.ModelVersion)
	f.DecisionTraceID = strings.TrimSpace(f.DecisionTraceID)
	f.Query = strings.TrimSpace(f.Query)
	f.DecisionIDs = models.UniqueStrings(f.DecisionIDs)
	f.Outputs = models.UniqueStrings(f.Outputs)
	f.ContextDocs = models.UniqueStrings(f.ContextDocs)
	f.ContextChunks = models.UniqueStrings(f.ContextChunks)

	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return services.NewValidationError("limit must be between 1 and 500").WithDetail("limit", f.Limit)
	}
	if f.Offset < 0 {
		return services.NewValidationError("offset must not be negative").WithDetail("offset", f.Offset)
	}

	switch models.SortOrder(strings.ToLower(string(f.Order))) {
	case "", models.SortOrderDesc:
		f.Order = models.SortOrderDesc
	case models.SortOrderAsc:
		f.Order = models.SortOrderAsc
	default:
		return services.NewValidationError("order must be asc or desc").WithDetail("order", f.Order)
	}

	if f.ConfidenceBand != "" {
		f.ConfidenceBand = models.ConfidenceBand(strings.ToLower(string(f.ConfidenceBand)))
		if !f.ConfidenceBand.IsValid() {
			return services.NewValidationError("confidence_band must be low, medium or high").
				WithDetail("confidence_band", f.ConfidenceBand)
		}
	}
	for _, c := range []*float64{f.MinConfidence, f.MaxConfidence} {
		if c != nil && (*c < 0 || *c > 1) {
			return services.NewValidationError("confidence bounds must be between 0 and 1")
		}
	}
	if f.MinConfidence != nil && f.MaxConfidence != nil && *f.MinConfidence > *f.MaxConfidence {
		return services.NewValidationError("min_confidence must not exceed max_confidence")
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedFrom.After(*f.CreatedTo) {
		return services.NewValidationError("created_from must not be after created_to")
	}
	return nil
}

func (f *Filters) toFilter(tenants []string) (models.DecisionFilter, error) {
	if err := f.Normalize(); err != nil {
		return models.DecisionFilter{}, err
	}
	return models.DecisionFilter{
		Tenants:          tenants,
		DecisionIDPrefix: f.DecisionIDPrefix,
		DecisionIDs:      f.DecisionIDs,
		Model:            f.Model,
		ModelVersion:     f.ModelVersion,
		Outputs:          f.Outputs,
		DecisionTraceID:  f.DecisionTraceID,
		Query:            f.Query,
		MinConfidence:    f.MinConfidence,
		MaxConfidence:    f.MaxConfidence,
		ConfidenceBand:   f.ConfidenceBand,
		CreatedFrom:      f.CreatedFrom,
		CreatedTo:        f.CreatedTo,
		ContextDocs:      f.ContextDocs,
		ContextChunks:    f.ContextChunks,
		Limit:            f.Limit,
		Offset:           f.Offset,
		Order:            f.Order,
	}, nil
}
