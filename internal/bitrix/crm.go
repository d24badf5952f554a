package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetCallStatistics fetches telephony statistics rows for a call id.
func (c *Client) GetCallStatistics(ctx context.Context, callID string) ([]CallStatistic, error) {
	resp, err := c.Call(ctx, "voximplant.statistic.get", map[string]interface{}{
		"FILTER": map[string]string{"CALL_ID": callID},
	})
	if err != nil {
		return nil, err
	}

	var stats []CallStatistic
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &stats); err != nil {
			return nil, fmt.Errorf("failed to decode call statistics: %w", err)
		}
	}
	return stats, nil
}

// ListDealsByContact returns deals linked to a contact, in upstream order.
func (c *Client) ListDealsByContact(ctx context.Context, contactID string) ([]Deal, error) {
	resp, err := c.Call(ctx, "crm.deal.list", map[string]interface{}{
		"FILTER": map[string]string{"CONTACT_ID": contactID},
	})
	if err != nil {
		return nil, err
	}

	var deals []Deal
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &deals); err != nil {
			return nil, fmt.Errorf("failed to decode deal list: %w", err)
		}
	}
	return deals, nil
}

// UpdateDeal applies custom-field values to a deal.
func (c *Client) UpdateDeal(ctx context.Context, dealID string, fields map[string]interface{}) error {
	_, err := c.Call(ctx, "crm.deal.update", map[string]interface{}{
		"ID":     dealID,
		"fields": fields,
	})
	return err
}

// UpdateContact applies custom-field values to a contact.
func (c *Client) UpdateContact(ctx context.Context, contactID string, fields map[string]interface{}) error {
	_, err := c.Call(ctx, "crm.contact.update", map[string]interface{}{
		"ID":     contactID,
		"fields": fields,
	})
	return err
}
