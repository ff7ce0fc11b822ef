package pipeline

import (
	"github.com/sells-group/outreach-cli/internal/model"
)

// maxDescriptionRunes caps stored descriptions; providers occasionally
// return whole pages.
const maxDescriptionRunes = 4000

// Raw lead field precedence. The first non-empty key wins; dotted keys walk
// nested objects.
var (
	titleKeys        = []string{"title", "jobTitle", "positionName", "position", "job_title", "name"}
	organizationKeys = []string{"companyName", "company", "organization", "employer", "company_name", "hiringOrganization.name"}
	locationKeys     = []string{"location", "jobLocation", "formattedLocation", "place", "city"}
	linkKeys         = []string{"link", "url", "jobUrl", "applyUrl", "externalApplyLink", "job_url"}
	descriptionKeys  = []string{"description", "descriptionText", "jobDescription", "snippet", "summary"}
	contactLinkKeys  = []string{"jobPosterProfileUrl", "posterProfileUrl", "recruiterProfileUrl", "hiringManagerUrl", "poster.url"}
	postedAtKeys     = []string{"postedAt", "publishedAt", "datePosted", "postedTime", "listedAt"}
)

// NormalizeLead maps a provider record onto the canonical Lead. Title,
// organization, and location fall back to placeholders; other fields to "".
func NormalizeLead(raw model.RawLead) model.Lead {
	return model.Lead{
		Title:        orDefault(raw.FirstString(titleKeys...), model.PlaceholderTitle),
		Organization: orDefault(raw.FirstString(organizationKeys...), model.PlaceholderOrganization),
		Location:     orDefault(raw.FirstString(locationKeys...), model.PlaceholderLocation),
		Link:         raw.FirstString(linkKeys...),
		Description:  truncateRunes(raw.FirstString(descriptionKeys...), maxDescriptionRunes),
		ContactLink:  raw.FirstString(contactLinkKeys...),
		PostedAt:     raw.FirstString(postedAtKeys...),
	}
}

// NormalizeLeads normalizes every record, preserving order and length.
func NormalizeLeads(raws []model.RawLead) []model.Lead {
	out := make([]model.Lead, len(raws))
	for i, r := range raws {
		out[i] = NormalizeLead(r)
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
