// Package fixtures looks up the club's next match on the sports data API.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"

	"capitania.club/internal/obs"
)

const (
	defaultLogoBase   = "https://api.sofascore.app/api/v1/team"
	defaultTournament = "Campeonato"
	defaultVenue      = "Estádio a definir"
)

// ErrUpstream wraps failures of the sports API.
var ErrUpstream = errors.New("fixtures: upstream error")

type Team struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo"`
}

// Fixture is the next scheduled match of the club.
type Fixture struct {
	ID         int64     `json:"id"`
	Tournament string    `json:"tournament"`
	Venue      string    `json:"venue"`
	StartsAt   time.Time `json:"starts_at"`
	Home       Team      `json:"home"`
	Away       Team      `json:"away"`
}

type Config struct {
	BaseURL  string
	Host     string
	APIKey   string
	TeamID   int
	CacheTTL time.Duration
	Timeout  time.Duration
	// LogoBaseURL defaults to the public image CDN.
	LogoBaseURL string
	Logger      *charmlog.Logger
}

type Client struct {
	http     *resty.Client
	teamID   int
	logoBase string
	cache    *expirable.LRU[int, *Fixture]
	log      *charmlog.Logger
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	if cfg.APIKey != "" {
		hc.SetHeader("x-rapidapi-key", cfg.APIKey)
	}
	if cfg.Host != "" {
		hc.SetHeader("x-rapidapi-host", cfg.Host)
	}
	hc.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		code := r.StatusCode()
		return code >= 500 || code == 429
	})

	c := &Client{
		http:     hc,
		teamID:   cfg.TeamID,
		logoBase: strings.TrimRight(cfg.LogoBaseURL, "/"),
		log:      cfg.Logger,
	}
	if c.logoBase == "" {
		c.logoBase = defaultLogoBase
	}
	if c.log == nil {
		c.log = obs.Logger()
	}
	if cfg.CacheTTL > 0 {
		c.cache = expirable.NewLRU[int, *Fixture](8, nil, cfg.CacheTTL)
	}
	return c
}

// Next returns the club's next match, or nil when none is scheduled.
func (c *Client) Next(ctx context.Context) (*Fixture, error) {
	if c.cache != nil {
		if f, ok := c.cache.Get(c.teamID); ok {
			return f, nil
		}
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("team", fmt.Sprint(c.teamID)).
		Get("/api/v1/team/{team}/events/next/0")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode())
	}
	f, err := Parse(resp.Body(), int64(c.teamID), c.logoBase)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Add(c.teamID, f)
	}
	if f != nil {
		c.log.Debug("fixtures: next match", "id", f.ID, "home", f.Home.Name, "away", f.Away.Name)
	}
	return f, nil
}

// Parse picks the first event of body in which teamID plays at home or
// away. It returns nil when there is none.
func Parse(body []byte, teamID int64, logoBase string) (*Fixture, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrUpstream)
	}
	var found *Fixture
	gjson.GetBytes(body, "events").ForEach(func(_, ev gjson.Result) bool {
		if ev.Get("homeTeam.id").Int() != teamID && ev.Get("awayTeam.id").Int() != teamID {
			return true
		}
		found = &Fixture{
			ID:         ev.Get("id").Int(),
			Tournament: firstNonEmpty(ev.Get("tournament.uniqueTournament.name").String(), ev.Get("tournament.name").String(), defaultTournament),
			Venue:      firstNonEmpty(ev.Get("venue.name").String(), defaultVenue),
			StartsAt:   time.Unix(ev.Get("startTimestamp").Int(), 0).UTC(),
			Home:       team(ev.Get("homeTeam"), logoBase),
			Away:       team(ev.Get("awayTeam"), logoBase),
		}
		return false
	})
	return found, nil
}

func team(r gjson.Result, logoBase string) Team {
	id := r.Get("id").Int()
	name := r.Get("name").String()
	if short := r.Get("shortName").String(); short != "" {
		name = strings.ToUpper(short)
	}
	return Team{ID: id, Name: name, Logo: fmt.Sprintf("%s/%d/image", logoBase, id)}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
