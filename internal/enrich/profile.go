package enrich

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/apify"
)

// ProfileLookup fetches the public record behind a profile URL. A nil record
// with a nil error means the provider has nothing for the URL.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, profileURL string) (model.RawRecord, error)
}

// ApifyLookup resolves profiles with a synchronous actor run.
type ApifyLookup struct {
	client  apify.Client
	actorID string
}

// NewApifyLookup creates an ApifyLookup for actorID.
func NewApifyLookup(client apify.Client, actorID string) *ApifyLookup {
	return &ApifyLookup{client: client, actorID: actorID}
}

// LookupProfile implements ProfileLookup. The first dataset item wins.
func (a *ApifyLookup) LookupProfile(ctx context.Context, profileURL string) (model.RawRecord, error) {
	items, err := a.client.RunSync(ctx, a.actorID, map[string]any{"profileUrls": []string{profileURL}})
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: profile actor %s", a.actorID)
	}
	for _, item := range items {
		if len(item) > 0 {
			return model.RawRecord(item), nil
		}
	}
	return nil, nil
}

// Profile field precedence. The first non-empty key wins.
var (
	profileNameKeys     = []string{"fullName", "name"}
	profileEmailKeys    = []string{"email", "emailAddress", "contactEmail"}
	profileHeadlineKeys = []string{"headline", "occupation", "title"}
	profileImageKeys    = []string{"profilePicture", "profilePic", "photoUrl", "profileImage"}
	profileOrgKeys      = []string{"companyName", "currentCompany", "company", "currentPosition.companyName"}
	profileLinkKeys     = []string{"profileUrl", "linkedinUrl", "url"}
)

// contactFromProfile maps a provider profile record onto ContactInfo. It
// returns nil when the record carries neither a name nor an email.
func contactFromProfile(rec model.RawRecord, fallbackLink string) *model.ContactInfo {
	name := rec.FirstString(profileNameKeys...)
	if name == "" {
		name = strings.TrimSpace(rec.FirstString("firstName") + " " + rec.FirstString("lastName"))
	}
	email := rec.FirstString(profileEmailKeys...)
	if name == "" && email == "" {
		return nil
	}
	link := rec.FirstString(profileLinkKeys...)
	if link == "" {
		link = fallbackLink
	}
	return &model.ContactInfo{
		Name:         name,
		Email:        email,
		Headline:     rec.FirstString(profileHeadlineKeys...),
		ProfileImage: rec.FirstString(profileImageKeys...),
		ProfileLink:  link,
		Organization: rec.FirstString(profileOrgKeys...),
	}
}

// IsProfileURL reports whether link points at an individual's profile page
// (linkedin.com/in/... or the legacy /pub/... form).
func IsProfileURL(link string) bool {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host != "linkedin.com" && !strings.HasSuffix(host, ".linkedin.com") {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, prefix := range []string{"/in/", "/pub/"} {
		if strings.HasPrefix(p, prefix) && len(strings.Trim(p[len(prefix):], "/")) > 0 {
			return true
		}
	}
	return false
}
