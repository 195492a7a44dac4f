package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const pixabayEndpoint = "https://pixabay.com/api/"

// Pixabay provider. Key travels as a query parameter, no attribution required.
// BaseURL overrides the public endpoint, for self-hosted mirrors and tests.
type Pixabay struct {
	APIKey  string
	BaseURL string
}

func (p *Pixabay) Name() string { return "pixabay" }

func (p *Pixabay) NewRequest(ctx context.Context, q Query) (*http.Request, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("pixabay: missing API key")
	}
	base := p.BaseURL
	if base == "" {
		base = pixabayEndpoint
	}
	vals := url.Values{}
	vals.Set("key", p.APIKey)
	vals.Set("q", q.Term)
	vals.Set("page", strconv.Itoa(q.Page))
	vals.Set("per_page", strconv.Itoa(q.PerPage))
	vals.Set("image_type", "photo")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+vals.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build pixabay request: %w", err)
	}
	return req, nil
}

type pixabayHit struct {
	ID            int64  `json:"id"`
	Tags          string `json:"tags"`
	User          string `json:"user"`
	PageURL       string `json:"pageURL"`
	PreviewURL    string `json:"previewURL"`
	WebformatURL  string `json:"webformatURL"`
	LargeImageURL string `json:"largeImageURL"`
}

type pixabayList struct {
	TotalHits int          `json:"totalHits"`
	Hits      []pixabayHit `json:"hits"`
}

func (p *Pixabay) ParseResponse(body []byte) ([]ImageRecord, int, error) {
	var list pixabayList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, 0, fmt.Errorf("decode pixabay response: %w", err)
	}
	records := make([]ImageRecord, 0, len(list.Hits))
	for _, hit := range list.Hits {
		rec := ImageRecord{
			ID:       fmt.Sprintf("pixabay-%d", hit.ID),
			Provider: "pixabay",
			URLs: ResolutionURLs{
				Thumbnail: hit.PreviewURL,
				Medium:    hit.WebformatURL,
				Large:     hit.LargeImageURL,
			},
			Photographer:    hit.User,
			PhotographerURL: hit.PageURL,
			Tags:            splitTags(hit.Tags),
		}
		if hit.ID == 0 {
			rec.ID = ""
		}
		if rec.valid() {
			records = append(records, rec)
		}
	}
	return records, list.TotalHits, nil
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
