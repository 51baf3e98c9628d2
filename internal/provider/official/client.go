// Package official implements the authenticated game API client. It is
// the authoritative source for the guild roster and last-seen timestamps,
// and the secondary source for per-character performance data (ranked
// brackets, achievements, equipment fallback).
package official

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

	"github.com/jensholdgaard/guildsync/internal/provider"
	"github.com/jensholdgaard/guildsync/internal/ratelimit"
)

// SourceName identifies this provider in error records and rate limiting.
const SourceName = "official"

// TokenSource supplies and invalidates the API access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client talks to the official game API.
type Client struct {
	baseURL    string
	region     string
	guildRealm string
	guildName  string
	brackets   []string
	tokens     TokenSource
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	timeout    time.Duration
	logger     *slog.Logger
}

// New returns an official API Client for the given guild.
func New(baseURL, region, guildRealm, guildName string, brackets []string, tokens TokenSource, httpClient *http.Client, limiter *ratelimit.Limiter, timeout time.Duration, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		region:     region,
		guildRealm: guildRealm,
		guildName:  guildName,
		brackets:   brackets,
		tokens:     tokens,
		httpClient: httpClient,
		limiter:    limiter,
		timeout:    timeout,
		logger:     logger,
	}
}

// Source returns the provider identifier.
func (c *Client) Source() string { return SourceName }

// get performs an authenticated GET with rate limiting and a single
// token refresh-and-retry when the API rejects the current token.
func (c *Client) get(ctx context.Context, reqURL string, out any) error {
	if err := c.limiter.Wait(ctx, SourceName); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status, body, err := c.do(ctx, reqURL)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		// Token may have expired server-side; refresh once and retry.
		// The retry is a fresh request and pays the source spacing too.
		c.tokens.Invalidate()
		c.logger.WarnContext(ctx, "provider rejected token, refreshing", slog.String("url", reqURL))
		if err := c.limiter.Wait(ctx, SourceName); err != nil {
			return err
		}
		status, body, err = c.do(ctx, reqURL)
		if err != nil {
			return err
		}
	}
	if status != http.StatusOK {
		return provider.NewFetchError(provider.ClassifyStatus(status), SourceName, reqURL,
			fmt.Errorf("api returned %d", status))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return provider.NewFetchError(provider.ErrParse, SourceName, reqURL, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, reqURL string) (int, []byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("acquiring token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, provider.NewFetchError(provider.ClassifyTransport(err), SourceName, reqURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, provider.NewFetchError(provider.ClassifyTransport(err), SourceName, reqURL, err)
	}
	return resp.StatusCode, body, nil
}

// slugify lowercases and hyphenates a name the way the API's URL slugs do.
func slugify(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}

type rosterResponse struct {
	Members []struct {
		Rank      int `json:"rank"`
		Character struct {
			Name  string `json:"name"`
			Level int    `json:"level"`
			Class struct {
				Name string `json:"name"`
			} `json:"playable_class"`
			Realm struct {
				Slug string `json:"slug"`
			} `json:"realm"`
			Key struct {
				Href string `json:"href"`
			} `json:"key"`
		} `json:"character"`
	} `json:"members"`
}

// GuildRoster fetches the authoritative member list. Each entry carries
// the API's own character href as the canonical lookup handle; members of
// federated realms resolve only through that handle.
func (c *Client) GuildRoster(ctx context.Context) ([]provider.RosterEntry, error) {
	reqURL := fmt.Sprintf("%s/data/wow/guild/%s/%s/roster?namespace=profile-%s",
		c.baseURL, slugify(c.guildRealm), slugify(c.guildName), c.region)

	var body rosterResponse
	if err := c.get(ctx, reqURL, &body); err != nil {
		return nil, fmt.Errorf("fetching guild roster: %w", err)
	}

	entries := make([]provider.RosterEntry, 0, len(body.Members))
	for _, m := range body.Members {
		entries = append(entries, provider.RosterEntry{
			Identity: provider.Identity{
				Name:  m.Character.Name,
				Realm: m.Character.Realm.Slug,
			},
			Level:  m.Character.Level,
			Class:  m.Character.Class.Name,
			Handle: m.Character.Key.Href,
		})
	}
	return entries, nil
}

// handleFor returns the canonical per-character URL, falling back to a
// reconstructed one only when no handle was discovered. The fallback is
// correct for same-realm members and the best available guess otherwise.
func (c *Client) handleFor(entry provider.RosterEntry) string {
	if entry.Handle != "" {
		return entry.Handle
	}
	return fmt.Sprintf("%s/profile/wow/character/%s/%s?namespace=profile-%s",
		c.baseURL, slugify(entry.Identity.Realm), url.PathEscape(strings.ToLower(entry.Identity.Name)), c.region)
}

type summaryResponse struct {
	EquippedItemLevel  float64 `json:"equipped_item_level"`
	AchievementPoints  int     `json:"achievement_points"`
	LastLoginTimestamp int64   `json:"last_login_timestamp"`
}

type bracketResponse struct {
	Rating int `json:"rating"`
	Season struct {
		ID int `json:"id"`
	} `json:"season"`
}

// CharacterProfile fetches the official API's partial profile: equipment
// fallback, achievement score, and the configured ranked brackets. A
// bracket the character never entered returns not-found from the API and
// is simply skipped.
func (c *Client) CharacterProfile(ctx context.Context, entry provider.RosterEntry) (*provider.Profile, error) {
	handle := c.handleFor(entry)

	var summary summaryResponse
	if err := c.get(ctx, handle, &summary); err != nil {
		return nil, fmt.Errorf("fetching character summary: %w", err)
	}

	p := &provider.Profile{}
	if summary.EquippedItemLevel > 0 {
		score := summary.EquippedItemLevel
		p.EquipmentScore = &score
	}
	if summary.AchievementPoints > 0 {
		points := summary.AchievementPoints
		p.AchievementScore = &points
	}
	if summary.LastLoginTimestamp > 0 {
		seen := time.UnixMilli(summary.LastLoginTimestamp).UTC()
		p.LastSeen = &seen
	}

	for _, bracket := range c.brackets {
		var body bracketResponse
		err := c.get(ctx, handle+"/pvp-bracket/"+bracket, &body)
		if provider.IsNotFound(err) {
			// Never played this bracket.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetching pvp bracket %s: %w", bracket, err)
		}
		p.Brackets = append(p.Brackets, provider.BracketRating{
			Bracket:  bracket,
			Rating:   body.Rating,
			SeasonID: body.Season.ID,
		})
	}

	return p, nil
}

// LastSeen fetches the character's last-login timestamp. A character the
// API does not know, or knows but has no login record for, yields
// (nil, nil): unknown activity, not a failure.
func (c *Client) LastSeen(ctx context.Context, entry provider.RosterEntry) (*time.Time, error) {
	var summary summaryResponse
	if err := c.get(ctx, c.handleFor(entry), &summary); err != nil {
		if provider.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching last seen: %w", err)
	}
	if summary.LastLoginTimestamp == 0 {
		return nil, nil
	}
	seen := time.UnixMilli(summary.LastLoginTimestamp).UTC()
	return &seen, nil
}
