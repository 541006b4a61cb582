package confluence

import "time"

// Space is a wiki space the syncer can enumerate pages from.
type Space struct {
	Key  string
	Name string
}

// Page is a wiki page with its body expanded in storage format.
// Version and LastUpdated drive change detection downstream.
type Page struct {
	ID          string
	Title       string
	SpaceKey    string
	SpaceName   string
	Version     int
	Body        string
	LastUpdated time.Time
}

// Wire types below mirror the Confluence REST response shapes.
// They are decoded and immediately flattened into Space/Page.

type spaceResult struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type spaceListResponse struct {
	Results []spaceResult `json:"results"`
	Start   int           `json:"start"`
	Limit   int           `json:"limit"`
	Size    int           `json:"size"`
}

type contentResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Space struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"space"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	History struct {
		LastUpdated struct {
			When time.Time `json:"when"`
		} `json:"lastUpdated"`
	} `json:"history"`
}

type contentListResponse struct {
	Results []contentResult `json:"results"`
	Start   int             `json:"start"`
	Limit   int             `json:"limit"`
	Size    int             `json:"size"`
}

func (r contentResult) toPage() Page {
	return Page{
		ID:          r.ID,
		Title:       r.Title,
		SpaceKey:    r.Space.Key,
		SpaceName:   r.Space.Name,
		Version:     r.Version.Number,
		Body:        r.Body.Storage.Value,
		LastUpdated: r.History.LastUpdated.When,
	}
}
