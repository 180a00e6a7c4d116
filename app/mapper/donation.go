package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-donations/app/entity"
	"github.com/vibast-solutions/ms-go-donations/app/types"
	"google.golang.org/protobuf/types/known/structpb"
)

func DonationToCheckoutResponse(item *entity.Donation) *types.CheckoutResponse {
	if item == nil {
		return nil
	}

	return &types.CheckoutResponse{
		DonationID:  item.ID,
		Provider:    string(item.Provider),
		RedirectURL: item.RedirectURL,
		ExpiresAt:   formatTime(item.ExpiresAt),
		Status:      string(item.Status),
	}
}

func DonationToResponse(item *entity.Donation) *types.DonationResponse {
	if item == nil {
		return nil
	}

	resp := &types.DonationResponse{
		DonationID: item.ID,
		Status:     string(item.Status),
		Amount:     item.Amount,
		Currency:   item.Currency,
		Provider:   string(item.Provider),
		Source:     item.Source,
		CreatedAt:  formatTime(item.CreatedAt),
		UpdatedAt:  formatTime(item.UpdatedAt),
	}
	if item.CompletedAt != nil {
		completedAt := formatTime(*item.CompletedAt)
		resp.CompletedAt = &completedAt
	}
	return resp
}

func PaymentEventsToResponse(donation *entity.Donation, events []*entity.PaymentEvent) *types.DonationEventsResponse {
	resp := &types.DonationEventsResponse{
		Events: make([]types.PaymentEventResponse, 0, len(events)),
	}
	if donation != nil {
		resp.DonationID = donation.ID
	}
	for _, e := range events {
		resp.Events = append(resp.Events, types.PaymentEventResponse{
			EventID:         e.ID,
			ProviderEventID: e.ProviderEventID,
			Status:          string(e.Status),
			ReceivedAt:      formatTime(e.ReceivedAt),
		})
	}
	return resp
}

func DonationToStruct(item *entity.Donation) (*structpb.Struct, error) {
	resp := DonationToResponse(item)
	if resp == nil {
		return &structpb.Struct{}, nil
	}

	fields := map[string]interface{}{
		"donation_id":  resp.DonationID,
		"status":       resp.Status,
		"amount":       resp.Amount,
		"currency":     resp.Currency,
		"provider":     resp.Provider,
		"source":       resp.Source,
		"created_at":   resp.CreatedAt,
		"updated_at":   resp.UpdatedAt,
		"completed_at": nil,
	}
	if resp.CompletedAt != nil {
		fields["completed_at"] = *resp.CompletedAt
	}
	return structpb.NewStruct(fields)
}

func CheckoutToStruct(item *entity.Donation) (*structpb.Struct, error) {
	resp := DonationToCheckoutResponse(item)
	if resp == nil {
		return &structpb.Struct{}, nil
	}

	return structpb.NewStruct(map[string]interface{}{
		"donation_id":  resp.DonationID,
		"provider":     resp.Provider,
		"redirect_url": resp.RedirectURL,
		"expires_at":   resp.ExpiresAt,
		"status":       resp.Status,
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
