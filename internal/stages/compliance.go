package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Compliance checks the merchant's storefront: SSL, required policy pages,
// contact details, and domain age. It gates website_compliant. Merchants
// without a website pass by construction.
type Compliance struct {
	deps   *Deps
	scoped *tools.Scoped
}

func NewCompliance(d *Deps) *Compliance {
	h := &Compliance{deps: d}
	h.scoped = d.Registry.Scope(h.Tools()...)
	return h
}

func (h *Compliance) Stage() schema.Stage { return schema.StageCompliance }

func (h *Compliance) Tools() []string {
	return []string{"check_ssl", "fetch_webpage", "check_page_policies", "check_domain_age"}
}

// sslRenewalWarningDays triggers a non-blocking renewal warning.
const sslRenewalWarningDays = 30

// minDomainAgeDays is the age under which a domain draws a fraud warning.
const minDomainAgeDays = 180

func (h *Compliance) Execute(ctx context.Context, st *schema.RunState, _ []schema.ActionItem) (*schema.StageResult, error) {
	website := h.deps.field(ctx, st, ".business_details.website_url")

	res := &schema.StageResult{}
	res.Update.Stage = schema.StagePtr(schema.StageCompliance)

	if website == "" {
		res.Update.WebsiteCompliant = schema.Bool(true)
		res.Notes = append(res.Notes, "No website provided, skipping compliance checks")
		return res, nil
	}
	if !strings.HasPrefix(website, "http://") && !strings.HasPrefix(website, "https://") {
		website = "https://" + website
	}

	var items []schema.ActionItem

	ssl := h.scoped.Call(ctx, "check_ssl", map[string]any{"url": website})
	switch {
	case !ssl.Success || !resultBool(ssl, "has_ssl"):
		item := schema.NewActionItem(schema.CategoryWebsite, schema.SeverityBlocking,
			"Enable HTTPS on your website",
			"The website is not served over HTTPS.",
			"Install an SSL certificate; most hosting providers offer free certificates.")
		item.FieldToUpdate = "business_details.website_url"
		item.CurrentValue = website
		items = append(items, item)
	case !resultBool(ssl, "certificate_valid"):
		item := schema.NewActionItem(schema.CategoryWebsite, schema.SeverityBlocking,
			"Fix SSL certificate",
			"Your SSL certificate is invalid or expired.",
			"Contact your hosting provider to renew or fix your SSL certificate.")
		item.FieldToUpdate = "business_details.website_url"
		item.CurrentValue = website
		items = append(items, item)
	default:
		expiry := int(resultFloat(ssl, "expiry_days"))
		if expiry > 0 && expiry < sslRenewalWarningDays {
			items = append(items, schema.NewActionItem(schema.CategoryWebsite, schema.SeverityWarning,
				"Renew SSL certificate soon",
				fmt.Sprintf("Your SSL certificate expires in %d days.", expiry),
				"Renew your SSL certificate to avoid disruption."))
		} else {
			res.Notes = append(res.Notes, fmt.Sprintf("SSL valid, expires in %d days", expiry))
		}
	}

	fetch := h.scoped.Call(ctx, "fetch_webpage", map[string]any{"url": website})
	if !fetch.Success || !resultBool(fetch, "success") {
		item := schema.NewActionItem(schema.CategoryWebsite, schema.SeverityBlocking,
			"Make your website reachable",
			"The website could not be fetched for a compliance scan.",
			"Ensure the site is online and responds within 30 seconds.")
		item.FieldToUpdate = "business_details.website_url"
		item.CurrentValue = website
		items = append(items, item)
	} else {
		html := resultString(fetch, "html")
		policies := h.scoped.Call(ctx, "check_page_policies", map[string]any{
			"html":     html,
			"base_url": website,
		})
		if policies.Success {
			items = append(items, h.policyItems(policies, res)...)
		}
	}

	age := h.scoped.Call(ctx, "check_domain_age", map[string]any{"url": website})
	if age.Success && resultBool(age, "found") {
		days := int(resultFloat(age, "age_days"))
		if days < minDomainAgeDays {
			items = append(items, schema.NewActionItem(schema.CategoryWebsite, schema.SeverityWarning,
				"Recently registered domain",
				fmt.Sprintf("The domain was registered %d days ago, which raises the fraud risk profile.", days),
				"No action needed; the application will receive additional review."))
		} else {
			res.Notes = append(res.Notes, fmt.Sprintf("Domain age %d days", days))
		}
	}

	res.ActionItems = items
	if hasBlocking(items) {
		res.Update.WebsiteCompliant = schema.Bool(false)
		res.Update.LastError = schema.Str("website compliance checks failed")
		return res, nil
	}

	res.Update.WebsiteCompliant = schema.Bool(true)
	res.Notes = append(res.Notes, "Website compliance passed")
	return res, nil
}

// policyItems converts missing policy pages into blocking items and records
// found pages as notes.
func (h *Compliance) policyItems(policies *tools.Result, res *schema.StageResult) []schema.ActionItem {
	var items []schema.ActionItem

	type check struct {
		key        string
		note       string
		title      string
		desc       string
		suggestion string
	}
	checks := []check{
		{"has_privacy_policy", "Privacy Policy found", "Add a Privacy Policy page",
			"No privacy policy was found on the website.",
			"Publish a privacy policy describing what customer data you collect and link it from the footer."},
		{"has_terms", "Terms of Service found", "Add a Terms of Service page",
			"No terms of service were found on the website.",
			"Publish terms of service covering purchases and disputes and link them from the footer."},
		{"has_refund_policy", "Refund Policy found", "Add a Refund Policy page",
			"No refund or return policy was found on the website.",
			"Publish a refund policy stating timelines and conditions and link it from the footer."},
		{"has_contact_info", "Contact information found", "Add contact information",
			"No contact information was found on the website.",
			"Add a contact page or footer with a support email address or phone number."},
	}

	for _, c := range checks {
		if resultBool(policies, c.key) {
			res.Notes = append(res.Notes, c.note)
			continue
		}
		item := schema.NewActionItem(schema.CategoryCompliance, schema.SeverityBlocking,
			c.title, c.desc, c.suggestion)
		item.FieldToUpdate = "business_details.website_url"
		items = append(items, item)
	}
	return items
}

func hasBlocking(items []schema.ActionItem) bool {
	for _, it := range items {
		if it.Severity == schema.SeverityBlocking {
			return true
		}
	}
	return false
}
