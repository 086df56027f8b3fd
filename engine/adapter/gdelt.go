package adapter

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// cameoCategories maps CAMEO root codes to event categories.
var cameoCategories = map[string]string{
	"01": "public_statement",
	"02": "appeal",
	"03": "cooperation",
	"04": "consultation",
	"05": "diplomacy",
	"06": "material_cooperation",
	"07": "aid",
	"08": "concession",
	"09": "investigation",
	"10": "demand",
	"11": "disapproval",
	"12": "rejection",
	"13": "threat",
	"14": "protest",
	"15": "force_posture",
	"16": "reduce_relations",
	"17": "coercion",
	"18": "assault",
	"19": "fight",
	"20": "mass_violence",
}

// GDELT v2 event export column indices (58-column format).
const (
	colGlobalEventID     = 0
	colDate              = 1 // YYYYMMDD
	colActor1Name        = 6
	colActor1Country     = 7
	colActor2Name        = 16
	colActor2Country     = 17
	colEventRootCode     = 26
	colEventCode         = 27
	colGoldstein         = 30
	colNumMentions       = 31
	colAvgTone           = 34
	colActionGeoFullname = 49
	colActionGeoLat      = 53
	colActionGeoLong     = 54
	colSourceURL         = 57

	gdeltColumns = 58
)

// GDELTConfig configures the events-export adapter.
type GDELTConfig struct {
	// BaseURL hosts the lastupdate.txt manifest and the export zips.
	BaseURL string
	// FocusCountries keeps only rows where actor1 or actor2 country is in
	// the set. Empty means no filter.
	FocusCountries []string
	Client         *http.Client
	Logger         *slog.Logger
}

// GDELT downloads the latest event export and maps rows to RawItems.
type GDELT struct {
	cfg    GDELTConfig
	client *http.Client
	focus  map[string]bool
	log    *slog.Logger
}

// NewGDELT creates the events-export adapter.
func NewGDELT(cfg GDELTConfig) *GDELT {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(nil)}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	focus := make(map[string]bool, len(cfg.FocusCountries))
	for _, c := range cfg.FocusCountries {
		focus[c] = true
	}
	return &GDELT{cfg: cfg, client: client, focus: focus, log: log}
}

func (g *GDELT) Name() string { return "gdelt" }

// Fetch discovers the latest export zip via the lastupdate manifest,
// downloads and parses it. Rows that fail to map are dropped.
func (g *GDELT) Fetch(ctx context.Context) ([]RawItem, error) {
	exportURL, err := g.latestExportURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("gdelt manifest: %w", err)
	}
	if exportURL == "" {
		g.log.Warn("gdelt: no export url in manifest")
		return nil, nil
	}

	rows, err := g.downloadExport(ctx, exportURL)
	if err != nil {
		return nil, fmt.Errorf("gdelt export: %w", err)
	}

	var items []RawItem
	for _, row := range rows {
		item, ok := g.rowToRawItem(row)
		if !ok {
			continue
		}
		if len(g.focus) > 0 && !g.focus[safeCol(row, colActor1Country)] && !g.focus[safeCol(row, colActor2Country)] {
			continue
		}
		items = append(items, item)
	}

	g.log.Info("gdelt: fetched export", "rows", len(rows), "kept", len(items))
	return items, nil
}

// latestExportURL reads the three-line lastupdate manifest and picks the
// line whose third space-delimited field names the event export zip.
func (g *GDELT) latestExportURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/lastupdate.txt"
	body, err := g.get(ctx, url)
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		parts := strings.Fields(line)
		if len(parts) >= 3 && strings.HasSuffix(parts[2], ".export.CSV.zip") {
			return parts[2], nil
		}
	}
	return "", nil
}

// downloadExport fetches the zip and parses its single TSV entry.
func (g *GDELT) downloadExport(ctx context.Context, url string) ([][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	body, err := g.get(ctx, url)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("unzip: %w", err)
	}

	var csvData []byte
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".CSV") {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("unzip %s: %w", f.Name, err)
			}
			csvData, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, err
			}
			break
		}
	}
	if csvData == nil {
		return nil, fmt.Errorf("no CSV entry in archive")
	}

	reader := csv.NewReader(bytes.NewReader(csvData))
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

func (g *GDELT) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// rowToRawItem maps one 58-column export row. Short rows and rows without
// an event id are dropped.
func (g *GDELT) rowToRawItem(row []string) (RawItem, bool) {
	if len(row) < gdeltColumns {
		return RawItem{}, false
	}
	eventID := safeCol(row, colGlobalEventID)
	if eventID == "" {
		return RawItem{}, false
	}

	actor1 := safeCol(row, colActor1Name)
	actor2 := safeCol(row, colActor2Name)
	eventCode := safeCol(row, colEventCode)
	rootCode := safeCol(row, colEventRootCode)
	category, ok := cameoCategories[rootCode]
	if !ok {
		category = "unknown"
	}

	var titleParts []string
	for _, p := range []string{actor1, strings.ReplaceAll(category, "_", " "), actor2} {
		if p != "" {
			titleParts = append(titleParts, p)
		}
	}
	title := strings.Join(titleParts, " · ")
	if title == "" {
		title = "GDELT event " + eventID
	}

	var authors []string
	for _, a := range []string{actor1, actor2} {
		if a != "" {
			authors = append(authors, a)
		}
	}

	return RawItem{
		SourceAdapter: g.Name(),
		ExternalID:    ExternalID("gdelt", eventID),
		Title:         title,
		Summary:       fmt.Sprintf("CAMEO %s: %s", eventCode, category),
		Authors:       authors,
		PublishedAt:   parseGDELTDate(safeCol(row, colDate)),
		SourceURL:     safeCol(row, colSourceURL),
		Metadata: map[string]any{
			"gdelt_event_id":  eventID,
			"cameo_code":      eventCode,
			"cameo_root":      rootCode,
			"category":        category,
			"actor1":          actor1,
			"actor1_country":  safeCol(row, colActor1Country),
			"actor2":          actor2,
			"actor2_country":  safeCol(row, colActor2Country),
			"goldstein_scale": safeFloat(row, colGoldstein),
			"avg_tone":        safeFloat(row, colAvgTone),
			"num_mentions":    safeInt(row, colNumMentions),
			"location":        safeCol(row, colActionGeoFullname),
			"latitude":        safeFloat(row, colActionGeoLat),
			"longitude":       safeFloat(row, colActionGeoLong),
		},
	}, true
}

func safeCol(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func safeFloat(row []string, idx int) *float64 {
	v := safeCol(row, idx)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func safeInt(row []string, idx int) *int {
	v := safeCol(row, idx)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

// parseGDELTDate parses a YYYYMMDD day column.
func parseGDELTDate(s string) *time.Time {
	if len(s) < 8 {
		return nil
	}
	t, err := time.ParseInLocation("20060102", s[:8], time.UTC)
	if err != nil {
		return nil
	}
	return &t
}
