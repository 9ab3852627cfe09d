package handler

import "github.com/deliverly/marketplace-api/internal/core/domain"

func toFirmResponse(f *domain.FirmState) firmResponse {
	return firmResponse{
		FirmID:             f.FirmID,
		Name:               f.Name,
		Status:             string(f.Status),
		IsVisibleToClients: f.IsVisibleToClients,
		SubmittedAt:        f.SubmittedAt,
		ApprovedAt:         f.ApprovedAt,
		RejectionReason:    f.RejectionReason,
		Version:            f.Version,
		UpdatedAt:          f.UpdatedAt,
	}
}

func toSubscriptionResponse(info *domain.SubscriptionInfo) subscriptionResponse {
	resp := subscriptionResponse{
		FirmID:         info.FirmID,
		Status:         string(info.Status),
		DaysRemaining:  info.DaysRemaining,
		IsTrialExpired: info.IsTrialExpired,
		HasAccess:      info.HasAccess,
	}
	// Paid tiers have no trial window worth reporting.
	if !info.Status.IsPaid() && !info.TrialEndAt.IsZero() {
		end := info.TrialEndAt
		resp.TrialEndAt = &end
	}
	return resp
}
