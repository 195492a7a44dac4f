package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const pexelsEndpoint = "https://api.pexels.com/v1/search"

// Pexels provider. Requires API-key auth and photographer attribution.
// BaseURL overrides the public endpoint, for self-hosted mirrors and tests.
type Pexels struct {
	APIKey  string
	BaseURL string
}

func (p *Pexels) Name() string { return "pexels" }

func (p *Pexels) NewRequest(ctx context.Context, q Query) (*http.Request, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("pexels: missing API key")
	}
	base := p.BaseURL
	if base == "" {
		base = pexelsEndpoint
	}
	vals := url.Values{}
	vals.Set("query", q.Term)
	vals.Set("page", strconv.Itoa(q.Page))
	vals.Set("per_page", strconv.Itoa(q.PerPage))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+vals.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build pexels request: %w", err)
	}
	req.Header.Set("Authorization", p.APIKey)
	return req, nil
}

type pexelsPhoto struct {
	ID              int64  `json:"id"`
	Alt             string `json:"alt"`
	Photographer    string `json:"photographer"`
	PhotographerURL string `json:"photographer_url"`
	Src             struct {
		Tiny     string `json:"tiny"`
		Small    string `json:"small"`
		Medium   string `json:"medium"`
		Large    string `json:"large"`
		Original string `json:"original"`
	} `json:"src"`
}

type pexelsList struct {
	TotalResults int           `json:"total_results"`
	Photos       []pexelsPhoto `json:"photos"`
}

func (p *Pexels) ParseResponse(body []byte) ([]ImageRecord, int, error) {
	var list pexelsList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, 0, fmt.Errorf("decode pexels response: %w", err)
	}
	records := make([]ImageRecord, 0, len(list.Photos))
	for _, ph := range list.Photos {
		large := ph.Src.Large
		if large == "" {
			large = ph.Src.Original
		}
		rec := ImageRecord{
			ID:       fmt.Sprintf("pexels-%d", ph.ID),
			Provider: "pexels",
			Title:    ph.Alt,
			URLs: ResolutionURLs{
				Thumbnail: ph.Src.Tiny,
				Medium:    ph.Src.Medium,
				Large:     large,
			},
			Photographer:     ph.Photographer,
			PhotographerURL:  ph.PhotographerURL,
			NeedsAttribution: true,
		}
		if ph.ID == 0 {
			rec.ID = ""
		}
		if rec.valid() {
			records = append(records, rec)
		}
	}
	return records, list.TotalResults, nil
}
