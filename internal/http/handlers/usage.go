package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pagesift/pagesift-api/internal/service"
)

// UsageHandler handles usage ledger endpoints.
type UsageHandler struct {
	usageSvc *service.UsageService
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(usageSvc *service.UsageService) *UsageHandler {
	return &UsageHandler{usageSvc: usageSvc}
}

// GetUsageOutput represents the ledger snapshot response.
type GetUsageOutput struct {
	Body struct {
		OwnerID          string     `json:"owner_id"`
		RecurringUnits   int64      `json:"recurring_units" doc:"Units from the current subscription period"`
		OneTimeUnits     int64      `json:"onetime_units" doc:"Purchased units that never expire"`
		Available        int64      `json:"available" doc:"Total units left to consume"`
		LifetimeConsumed int64      `json:"lifetime_consumed"`
		PeriodStart      *time.Time `json:"period_start,omitempty"`
		PeriodEnd        *time.Time `json:"period_end,omitempty"`
	}
}

// GetUsage returns the caller's ledger snapshot.
func (h *UsageHandler) GetUsage(ctx context.Context, input *struct{}) (*GetUsageOutput, error) {
	ownerID := getOwnerID(ctx)
	if ownerID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	ledger, err := h.usageSvc.GetLedger(ctx, ownerID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get usage")
	}

	out := &GetUsageOutput{}
	out.Body.OwnerID = ledger.OwnerID
	out.Body.RecurringUnits = ledger.RecurringUnits
	out.Body.OneTimeUnits = ledger.OneTimeUnits
	out.Body.Available = ledger.Available()
	out.Body.LifetimeConsumed = ledger.LifetimeConsumed
	out.Body.PeriodStart = ledger.PeriodStart
	out.Body.PeriodEnd = ledger.PeriodEnd
	return out, nil
}

// TransactionBody is one ledger mutation in the usage history.
type TransactionBody struct {
	ID          string    `json:"id"`
	Type        string    `json:"type" example:"usage" doc:"subscription, topup, usage or adjustment"`
	Units       int64     `json:"units" doc:"Negative for consumption"`
	JobID       string    `json:"job_id,omitempty" doc:"Job that consumed the units, when applicable"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListTransactionsInput represents a usage history request.
type ListTransactionsInput struct {
	Limit  int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Max transactions to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Transactions to skip"`
}

// ListTransactionsOutput represents a usage history response.
type ListTransactionsOutput struct {
	Body struct {
		Transactions []TransactionBody `json:"transactions"`
	}
}

// ListTransactions returns the caller's ledger history, newest first.
func (h *UsageHandler) ListTransactions(ctx context.Context, input *ListTransactionsInput) (*ListTransactionsOutput, error) {
	ownerID := getOwnerID(ctx)
	if ownerID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	txns, err := h.usageSvc.ListTransactions(ctx, ownerID, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list transactions")
	}

	out := &ListTransactionsOutput{}
	out.Body.Transactions = make([]TransactionBody, 0, len(txns))
	for _, txn := range txns {
		body := TransactionBody{
			ID:          txn.ID,
			Type:        string(txn.Type),
			Units:       txn.Units,
			Description: txn.Description,
			CreatedAt:   txn.CreatedAt,
		}
		if txn.JobID != nil {
			body.JobID = *txn.JobID
		}
		out.Body.Transactions = append(out.Body.Transactions, body)
	}
	return out, nil
}
