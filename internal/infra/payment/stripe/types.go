package stripe

import (
	"bytes"
	"encoding/json"
	"strings"
)

// expandableID decodes a field Stripe sends either as an id string or as the
// expanded object.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

func (e expandableID) String() string { return strings.TrimSpace(string(e)) }

// subscriptionObject is the minimal subscription shape read from webhooks and
// from retrieved subscriptions. Newer API versions report the billing period
// on the items only.
type subscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           expandableID      `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CancelAt           int64             `json:"cancel_at"`
	CanceledAt         int64             `json:"canceled_at"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialStart         int64             `json:"trial_start"`
	TrialEnd           int64             `json:"trial_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []subscriptionItem `json:"data"`
	} `json:"items"`
}

type subscriptionItem struct {
	ID                 string `json:"id"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Price              struct {
		ID        string `json:"id"`
		LookupKey string `json:"lookup_key"`
		Recurring *struct {
			Interval string `json:"interval"`
		} `json:"recurring"`
	} `json:"price"`
}

// firstItem returns the first item carrying a price.
func (s *subscriptionObject) firstItem() *subscriptionItem {
	for i := range s.Items.Data {
		if strings.TrimSpace(s.Items.Data[i].Price.ID) != "" {
			return &s.Items.Data[i]
		}
	}
	return nil
}

// checkoutSessionObject is a minimal checkout.session.
type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          expandableID      `json:"customer"`
	Subscription      json.RawMessage   `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// invoiceObject is a minimal invoice. The subscription moved under
// parent.subscription_details in newer API versions.
type invoiceObject struct {
	ID           string            `json:"id"`
	Customer     expandableID      `json:"customer"`
	Subscription expandableID      `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i *invoiceObject) subscriptionID() string {
	if id := i.Subscription.String(); id != "" {
		return id
	}
	return i.Parent.SubscriptionDetails.Subscription.String()
}

// userRef reads the owning user from metadata. supabase_id is the key older
// checkouts were created with.
func userRef(metadata ...map[string]string) string {
	for _, md := range metadata {
		for _, key := range []string{"user_id", "supabase_id"} {
			if v := strings.TrimSpace(md[key]); v != "" {
				return v
			}
		}
	}
	return ""
}
