package bitrix

import "encoding/json"

// CRM entity kinds a call statistic may reference.
const (
	EntityTypeDeal    = "DEAL"
	EntityTypeContact = "CONTACT"
)

// APIResponse is the Bitrix REST envelope. Result is left raw because its
// shape depends on the method (row list, bool, id).
type APIResponse struct {
	Result           json.RawMessage `json:"result"`
	Total            int             `json:"total"`
	ErrorCode        string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// CallStatistic is one row returned by voximplant.statistic.get. Bitrix
// serializes scalar values as strings.
type CallStatistic struct {
	CallID           string `json:"CALL_ID"`
	CRMEntityID      string `json:"CRM_ENTITY_ID"`
	CRMEntityType    string `json:"CRM_ENTITY_TYPE"`
	CallFailedReason string `json:"CALL_FAILED_REASON"`
	CallDuration     string `json:"CALL_DURATION"`
	CallStartDate    string `json:"CALL_START_DATE"`
}

// Deal is the subset of a crm.deal.list row the relay needs.
type Deal struct {
	ID string `json:"ID"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}
