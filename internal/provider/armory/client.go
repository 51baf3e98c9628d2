// Package armory implements the unauthenticated community profile
// provider. It is the primary source for gear and dungeon data; its index
// is eventually consistent, so very recently active characters may be
// missing or stale and the caller falls back to the official API.
package armory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/jensholdgaard/guildsync/internal/provider"
	"github.com/jensholdgaard/guildsync/internal/ratelimit"
)

// SourceName identifies this provider in error records and rate limiting.
const SourceName = "armory"

// Client fetches character profiles from the community armory API.
type Client struct {
	baseURL    string
	region     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	timeout    time.Duration
}

// New returns an armory Client.
func New(baseURL, region string, httpClient *http.Client, limiter *ratelimit.Limiter, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		region:     region,
		httpClient: httpClient,
		limiter:    limiter,
		timeout:    timeout,
	}
}

// Source returns the provider identifier.
func (c *Client) Source() string { return SourceName }

// profileResponse is the armory's character profile payload.
type profileResponse struct {
	Name  string `json:"name"`
	Class string `json:"class"`
	Level int    `json:"level"`
	Gear  *struct {
		ItemLevelEquipped float64 `json:"item_level_equipped"`
	} `json:"gear"`
	MythicPlus *struct {
		SeasonID int `json:"season_id"`
		Scores   struct {
			All float64 `json:"all"`
		} `json:"scores"`
	} `json:"mythic_plus"`
	RaidProgression map[string]struct {
		Summary string `json:"summary"`
	} `json:"raid_progression"`
}

// CharacterProfile fetches the armory's partial profile for a character.
// The armory has no notion of the official lookup handle; it indexes by
// name and realm, which is acceptable here because a miss only triggers
// the official fallback.
func (c *Client) CharacterProfile(ctx context.Context, entry provider.RosterEntry) (*provider.Profile, error) {
	if err := c.limiter.Wait(ctx, SourceName); err != nil {
		return nil, err
	}

	q := url.Values{
		"region": {c.region},
		"realm":  {entry.Identity.Realm},
		"name":   {entry.Identity.Name},
		"fields": {"gear,mythic_plus,raid_progression"},
	}
	reqURL := c.baseURL + "/api/v1/characters/profile?" + q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building armory request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.NewFetchError(provider.ClassifyTransport(err), SourceName, reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewFetchError(provider.ClassifyStatus(resp.StatusCode), SourceName, reqURL,
			fmt.Errorf("armory returned %d", resp.StatusCode))
	}

	var body profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, provider.NewFetchError(provider.ErrParse, SourceName, reqURL, err)
	}

	return body.toProfile(), nil
}

func (r *profileResponse) toProfile() *provider.Profile {
	p := &provider.Profile{}
	if r.Class != "" {
		p.Class = &r.Class
	}
	if r.Level > 0 {
		level := r.Level
		p.Level = &level
	}
	if r.Gear != nil && r.Gear.ItemLevelEquipped > 0 {
		score := r.Gear.ItemLevelEquipped
		p.EquipmentScore = &score
	}
	if r.MythicPlus != nil {
		score := r.MythicPlus.Scores.All
		season := r.MythicPlus.SeasonID
		p.MythicScore = &score
		p.MythicSeasonID = &season
	}
	if len(r.RaidProgression) > 0 {
		p.RaidProgress = raidSummary(r.RaidProgression)
	}
	return p
}

// raidSummary flattens the per-raid progression map into one display
// string, most relevant (alphabetically last, i.e. newest tier naming)
// first is not guaranteed by the provider, so entries are joined in key
// order for determinism.
func raidSummary(raids map[string]struct {
	Summary string `json:"summary"`
}) *string {
	keys := make([]string, 0, len(raids))
	for k := range raids {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for _, k := range keys {
		if raids[k].Summary == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += k + ": " + raids[k].Summary
	}
	if out == "" {
		return nil
	}
	return &out
}
