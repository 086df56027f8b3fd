package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// CVRConfig configures the Danish business registry adapter.
type CVRConfig struct {
	APIURL      string
	APIKey      string
	SearchTerms []string
	// Country is the ISO code sent with every query, default "dk".
	Country string
	Client  *http.Client
	Logger  *slog.Logger
}

// CVR queries the public CVR registry API, one lookup per search term.
type CVR struct {
	cfg     CVRConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewCVR creates the registry adapter. Lookups are spaced to at most one
// request per second.
func NewCVR(cfg CVRConfig) *CVR {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout:   20 * time.Second,
			Transport: otelhttp.NewTransport(nil),
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Country == "" {
		cfg.Country = "dk"
	}
	return &CVR{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		log:     log,
	}
}

func (c *CVR) Name() string { return "cvr" }

// Fetch queries the registry for each configured search term. A failed
// term is logged and skipped so one bad lookup does not abort the rest.
func (c *CVR) Fetch(ctx context.Context) ([]RawItem, error) {
	if len(c.cfg.SearchTerms) == 0 {
		c.log.Warn("cvr: no search terms configured")
		return nil, nil
	}

	var items []RawItem
	for _, term := range c.cfg.SearchTerms {
		if err := c.limiter.Wait(ctx); err != nil {
			return items, err
		}
		item, err := c.query(ctx, term)
		if err != nil {
			c.log.Warn("cvr: lookup failed", "term", term, "error", err)
			continue
		}
		if item != nil {
			items = append(items, *item)
		}
	}

	c.log.Info("cvr: fetched company records", "count", len(items))
	return items, nil
}

func (c *CVR) query(ctx context.Context, term string) (*RawItem, error) {
	q := url.Values{}
	q.Set("search", term)
	q.Set("country", c.cfg.Country)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "enjin-osint/0.1 (contact@enjin.dev)")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var company cvrResponse
	if err := json.Unmarshal(body, &company); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return c.responseToRawItem(company), nil
}

type cvrResponse struct {
	Vat          json.Number `json:"vat"`
	Name         string      `json:"name"`
	Owners       []cvrOwner  `json:"owners"`
	Address      string      `json:"address"`
	Zipcode      string      `json:"zipcode"`
	City         string      `json:"city"`
	IndustryDesc string      `json:"industrydesc"`
	IndustryCode json.Number `json:"industrycode"`
	CompanyDesc  string      `json:"companydesc"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone"`
	Country      string      `json:"country"`
	Status       string      `json:"status"`
	StartDate    string      `json:"startdate"`
}

type cvrOwner struct {
	Name string `json:"name"`
}

// responseToRawItem maps one registry record; nil when the record carries
// neither a registration number nor a name.
func (c *CVR) responseToRawItem(data cvrResponse) *RawItem {
	cvrNumber := strings.TrimSpace(data.Vat.String())
	companyName := strings.TrimSpace(data.Name)
	if cvrNumber == "" && companyName == "" {
		return nil
	}

	var directors []string
	for _, o := range data.Owners {
		if o.Name != "" {
			directors = append(directors, o.Name)
		}
	}

	var addressParts []string
	for _, p := range []string{data.Address, data.Zipcode, data.City} {
		if p != "" {
			addressParts = append(addressParts, p)
		}
	}

	title := companyName
	if cvrNumber != "" {
		title = fmt.Sprintf("%s (CVR: %s)", companyName, cvrNumber)
	}

	sourceURL := ""
	if cvrNumber != "" {
		sourceURL = "https://datacvr.virk.dk/enhed/virksomhed/" + cvrNumber
	}

	country := data.Country
	if country == "" {
		country = c.cfg.Country
	}

	return &RawItem{
		SourceAdapter: c.Name(),
		ExternalID:    ExternalID("cvr", cvrNumber),
		Title:         title,
		Summary:       fmt.Sprintf("Danish company: %s. Industry: %s.", companyName, data.IndustryDesc),
		Authors:       directors,
		PublishedAt:   parseCVRDate(data.StartDate),
		SourceURL:     sourceURL,
		Metadata: map[string]any{
			"cvr_number":           cvrNumber,
			"company_name":         companyName,
			"directors":            directors,
			"address":              strings.Join(addressParts, ", "),
			"industry_code":        data.IndustryCode.String(),
			"industry_description": data.IndustryDesc,
			"company_type":         data.CompanyDesc,
			"email":                data.Email,
			"phone":                data.Phone,
			"country":              country,
			"status":               data.Status,
		},
	}
}

// parseCVRDate tries the registry's historical date formats in order.
func parseCVRDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"02/01 - 2006", "2006-01-02", "02-01-2006"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}
