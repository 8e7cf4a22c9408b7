package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"path"
	"strings"
	"text/template"

	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// FallbackLocale is used when neither the recipient nor the tenant locale has a catalog.
const FallbackLocale = "en"

// TemplateData is what every notification template may reference.
type TemplateData struct {
	RecipientName string
	RecipientRole string
	TenantName    string
	Reference     string
	Title         string
	Reason        string
	Deadline      string
	Token         string
}

// Message is a rendered notification.
type Message struct {
	Locale  string
	Subject string
	Body    string
}

// Renderer renders localized plain-text messages from embedded catalogs.
type Renderer struct {
	catalogs map[string]*template.Template
	policy   *bluemonday.Policy
}

// NewRenderer parses every embedded locale catalog.
func NewRenderer() (*Renderer, error) {
	files, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		catalogs: make(map[string]*template.Template, len(files)),
		policy:   bluemonday.StrictPolicy(),
	}
	for _, f := range files {
		locale := strings.TrimSuffix(f.Name(), path.Ext(f.Name()))
		tmpl, err := template.New(locale).Option("missingkey=error").ParseFS(templateFS, "templates/"+f.Name())
		if err != nil {
			return nil, fmt.Errorf("parse %s catalog: %w", locale, err)
		}
		r.catalogs[locale] = tmpl
	}
	if _, ok := r.catalogs[FallbackLocale]; !ok {
		return nil, fmt.Errorf("missing %s catalog", FallbackLocale)
	}
	return r, nil
}

// Locales lists the available catalogs.
func (r *Renderer) Locales() []string {
	out := make([]string, 0, len(r.catalogs))
	for locale := range r.catalogs {
		out = append(out, locale)
	}
	return out
}

// Render produces subject and body for kind in the first locale that has it.
// Candidates are tried in order, then FallbackLocale.
func (r *Renderer) Render(kind string, data TemplateData, locales ...string) (Message, error) {
	data = r.sanitize(data)
	for _, locale := range append(locales, FallbackLocale) {
		locale = normalizeLocale(locale)
		tmpl, ok := r.catalogs[locale]
		if !ok || tmpl.Lookup(kind+"_subject") == nil {
			continue
		}
		var subject, body bytes.Buffer
		if err := tmpl.ExecuteTemplate(&subject, kind+"_subject", data); err != nil {
			return Message{}, err
		}
		if err := tmpl.ExecuteTemplate(&body, kind+"_body", data); err != nil {
			return Message{}, err
		}
		return Message{
			Locale:  locale,
			Subject: SanitizeHeader(subject.String()),
			Body:    strings.TrimSpace(body.String()) + "\n",
		}, nil
	}
	return Message{}, fmt.Errorf("no template for %q", kind)
}

// sanitize strips markup from user supplied fields. Messages are plain text,
// so entities escaped by the policy are decoded again.
func (r *Renderer) sanitize(data TemplateData) TemplateData {
	data.RecipientName = r.clean(data.RecipientName)
	data.TenantName = r.clean(data.TenantName)
	data.Title = r.clean(data.Title)
	data.Reason = r.clean(data.Reason)
	return data
}

func (r *Renderer) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(s)))
}

// SanitizeHeader removes CR and LF so a value cannot inject mail headers.
func SanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// normalizeLocale maps "de-DE" or "DE_at" to "de".
func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	return locale
}
