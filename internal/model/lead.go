package model

import (
	"fmt"
	"strings"
)

// Placeholders for canonical lead fields the provider did not supply.
const (
	PlaceholderTitle        = "Position Not Specified"
	PlaceholderOrganization = "Company Not Specified"
	PlaceholderLocation     = "Location Not Specified"
)

// RawRecord is an untyped provider record. Field names vary by provider and
// actor version, so consumers read it through FirstString.
type RawRecord map[string]any

// RawLead is a job posting as returned by the scraping provider.
type RawLead = RawRecord

// FirstString returns the first non-empty value among keys, trimmed. Dotted
// keys ("poster.url") walk nested objects. Non-string scalars are rendered
// with fmt; objects and arrays are skipped.
func (r RawRecord) FirstString(keys ...string) string {
	for _, k := range keys {
		v, ok := r.lookup(k)
		if !ok {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

func (r RawRecord) lookup(key string) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case map[string]any, []any:
		return ""
	case float64:
		// JSON numbers decode as float64; integral values print without an exponent.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return strings.TrimSpace(fmt.Sprint(t))
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Lead is the canonical job posting produced by the filter stage.
type Lead struct {
	Title        string `json:"title"`
	Organization string `json:"organization"`
	Location     string `json:"location"`
	Link         string `json:"link"`
	Description  string `json:"description"`
	ContactLink  string `json:"contact_link,omitempty"`
	PostedAt     string `json:"posted_at,omitempty"`
}

// ProfileLink returns the link enrichment should resolve: the poster's
// profile when the provider disclosed one, otherwise the posting link.
func (l Lead) ProfileLink() string {
	if l.ContactLink != "" {
		return l.ContactLink
	}
	return l.Link
}

// ContactInfo is the hiring contact resolved for a lead.
type ContactInfo struct {
	Name                string `json:"name"`
	Email               string `json:"email"`
	Headline            string `json:"headline"`
	ProfileImage        string `json:"profile_image"`
	ProfileLink         string `json:"profile_link"`
	Organization        string `json:"organization"`
	IsExternalRecruiter bool   `json:"is_external_recruiter"`
}

// EnrichedLead is a Lead plus whatever contact enrichment found.
type EnrichedLead struct {
	Lead
	Contact     *ContactInfo `json:"contact"`
	Contactable bool         `json:"contactable"`
}

// NewEnrichedLead derives Contactable from the contact's email.
func NewEnrichedLead(lead Lead, contact *ContactInfo) EnrichedLead {
	return EnrichedLead{
		Lead:        lead,
		Contact:     contact,
		Contactable: contact != nil && strings.TrimSpace(contact.Email) != "",
	}
}
