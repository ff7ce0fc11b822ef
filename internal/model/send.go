package model

import "time"

// SendRecord is the append-only log entry for one successful send.
type SendRecord struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	RequestID         string    `json:"request_id,omitempty"`
	LeadOrganization  string    `json:"lead_organization"`
	LeadTitle         string    `json:"lead_title"`
	RecipientAddress  string    `json:"recipient_address"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	ProviderMessageID string    `json:"provider_message_id"`
	SentAt            time.Time `json:"sent_at"`
}

// Attachment is the file an account attaches to every outbound message.
type Attachment struct {
	OwnerID     string    `json:"owner_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"-"`
	UpdatedAt   time.Time `json:"updated_at"`
}
