package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/apperr"
	"github.com/phamtuthu/bitrix-call-relay/internal/bitrix"
)

// processEvent translates one call notification into CRM record updates:
// fetch statistics, branch on the referenced entity kind, apply the update
// procedure. Every error is terminal for the event; nothing is requeued.
func (p *Processor) processEvent(ctx context.Context, event *PendingEvent) error {
	stats, err := p.crm.GetCallStatistics(ctx, event.CallID)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		return &apperr.NotFoundError{Msg: fmt.Sprintf("no call data found for CALL_ID %s", event.CallID)}
	}

	info := stats[0]

	if info.CRMEntityID == "" {
		return &apperr.ValidationError{Msg: "CRM_ENTITY_ID is missing"}
	}

	switch info.CRMEntityType {
	case bitrix.EntityTypeDeal:
		startDate, err := NormalizeCallStart(info.CallStartDate)
		if err != nil {
			return err
		}
		return p.updateDeal(ctx, info.CRMEntityID, info, startDate)

	case bitrix.EntityTypeContact:
		startDate, err := NormalizeCallStart(info.CallStartDate)
		if err != nil {
			return err
		}

		deals, err := p.crm.ListDealsByContact(ctx, info.CRMEntityID)
		if err != nil {
			return err
		}

		// First deal in upstream order wins; no explicit sort.
		var dealErr error
		if len(deals) > 0 {
			dealErr = p.updateDeal(ctx, deals[0].ID, info, startDate)
		}

		// The contact's rollup fields are written regardless of whether a
		// linked deal was updated.
		contactErr := p.updateContact(ctx, info.CRMEntityID, info, startDate)

		if dealErr != nil {
			return dealErr
		}
		return contactErr

	default:
		return &apperr.UnsupportedEntityTypeError{EntityType: info.CRMEntityType}
	}
}

// updateDeal writes the mapped call fields to a deal. Single attempt; a
// failure is logged and surfaced, never retried.
func (p *Processor) updateDeal(ctx context.Context, dealID string, info bitrix.CallStatistic, startDate string) error {
	fields := map[string]interface{}{
		p.fields.Deal.FailureReason: info.CallFailedReason,
		p.fields.Deal.Duration:      info.CallDuration,
		p.fields.Deal.StartDate:     startDate,
	}

	p.logger.Info("Updating deal",
		zap.String("deal_id", dealID),
		zap.String("call_id", info.CallID),
	)

	if err := p.crm.UpdateDeal(ctx, dealID, fields); err != nil {
		p.logger.Error("Failed to update deal",
			zap.String("deal_id", dealID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// updateContact writes the mapped call fields to a contact.
func (p *Processor) updateContact(ctx context.Context, contactID string, info bitrix.CallStatistic, startDate string) error {
	fields := map[string]interface{}{
		p.fields.Contact.Duration:      info.CallDuration,
		p.fields.Contact.FailureReason: info.CallFailedReason,
		p.fields.Contact.LastCallDate:  startDate,
	}

	p.logger.Info("Updating contact",
		zap.String("contact_id", contactID),
		zap.String("call_id", info.CallID),
	)

	if err := p.crm.UpdateContact(ctx, contactID, fields); err != nil {
		p.logger.Error("Failed to update contact",
			zap.String("contact_id", contactID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
