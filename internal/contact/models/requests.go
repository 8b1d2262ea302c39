package models

import "strings"

// IdentifyRequest is the inbound wire shape for POST /identify. Pointers
// distinguish absent fields from empty strings.
type IdentifyRequest struct {
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
}

// Normalize trims both fields and returns them as plain strings, "" when
// absent. Validation of the at-least-one rule stays at the transport
// boundary; the resolver re-checks as defense in depth.
func (r IdentifyRequest) Normalize() (email, phone string) {
	if r.Email != nil {
		email = strings.TrimSpace(*r.Email)
	}
	if r.PhoneNumber != nil {
		phone = strings.TrimSpace(*r.PhoneNumber)
	}
	return email, phone
}

// ClusterView is the consolidated identity returned by the resolver.
// Emails and phone numbers are deduplicated, the primary's own value first,
// then secondaries' in ascending creation order.
type ClusterView struct {
	PrimaryContactID    int64
	Emails              []string
	PhoneNumbers        []string
	SecondaryContactIDs []int64
}

// ContactPayload is the wire form of a ClusterView. The primaryContatctId
// field name is preserved verbatim for backward wire-compatibility.
type ContactPayload struct {
	PrimaryContactID    int64    `json:"primaryContatctId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse is the success envelope for POST /identify.
type IdentifyResponse struct {
	Contact ContactPayload `json:"contact"`
}

// ToResponse converts a resolver result to the wire envelope, keeping the
// empty-slice (never null) convention for the array fields.
func (v *ClusterView) ToResponse() IdentifyResponse {
	resp := IdentifyResponse{
		Contact: ContactPayload{
			PrimaryContactID:    v.PrimaryContactID,
			Emails:              v.Emails,
			PhoneNumbers:        v.PhoneNumbers,
			SecondaryContactIDs: v.SecondaryContactIDs,
		},
	}
	if resp.Contact.Emails == nil {
		resp.Contact.Emails = []string{}
	}
	if resp.Contact.PhoneNumbers == nil {
		resp.Contact.PhoneNumbers = []string{}
	}
	if resp.Contact.SecondaryContactIDs == nil {
		resp.Contact.SecondaryContactIDs = []int64{}
	}
	return resp
}

// ClusterGroup is one primary with its linked secondaries, used by the
// operator listing endpoint.
type ClusterGroup struct {
	Primary     ContactSummary   `json:"primaryContact"`
	Secondaries []ContactSummary `json:"secondaryContacts"`
	Total       int              `json:"totalContacts"`
}

// ContactSummary is the listing projection of a contact row.
type ContactSummary struct {
	ID             int64          `json:"id"`
	Email          *string        `json:"email"`
	PhoneNumber    *string        `json:"phoneNumber"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	LinkedID       *int64         `json:"linkedId,omitempty"`
	CreatedAt      string         `json:"createdAt"`
	UpdatedAt      string         `json:"updatedAt"`
}
