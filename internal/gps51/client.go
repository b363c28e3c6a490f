package gps51

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"fleet-monitor/gps-poller/internal/domain"
	"fleet-monitor/gps-poller/internal/logging"
)

const (
	ActionLogin            = "login"
	ActionLastPosition     = "lastposition"
	ActionQueryMonitorList = "querymonitorlist"
)

type Config struct {
	BaseURL       string
	Username      string
	Password      string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	SessionTTL    time.Duration
}

// Client talks to the GPS51 open API. Every request waits on a shared token
// bucket so overlapping cycles stay inside the vendor quota.
type Client struct {
	baseURL      string
	username     string
	passwordHash string
	sessionTTL   time.Duration
	http         *http.Client
	limiter      *rate.Limiter
	now          func() time.Time
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 23 * time.Hour
	}

	sum := md5.Sum([]byte(cfg.Password))
	return &Client{
		baseURL:      cfg.BaseURL,
		username:     cfg.Username,
		passwordHash: hex.EncodeToString(sum[:]),
		sessionTTL:   ttl,
		http:         httpClient,
		limiter:      rate.NewLimiter(limit, burst),
		now:          time.Now,
	}
}

type envelope struct {
	Status int    `json:"status"`
	Cause  string `json:"cause"`
}

type loginResponse struct {
	Token    string        `json:"token"`
	ServerID domain.Number `json:"serverid"`
}

// Login opens a new vendor session.
func (c *Client) Login(ctx context.Context) (domain.Session, error) {
	body := map[string]string{
		"type":     "USER",
		"from":     "web",
		"username": c.username,
		"password": c.passwordHash,
		"browser":  "gps-poller",
	}

	var resp loginResponse
	if err := c.call(ctx, ActionLogin, nil, body, &resp); err != nil {
		return domain.Session{}, err
	}
	if resp.Token == "" {
		return domain.Session{}, &APIError{Action: ActionLogin, Message: "empty token in login response"}
	}

	now := c.now().UTC()
	s := domain.Session{
		Token:     resp.Token,
		Username:  c.username,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.sessionTTL),
	}
	if resp.ServerID.Valid {
		s.ServerID = strconv.FormatInt(int64(resp.ServerID.Value), 10)
	}
	return s, nil
}

type LastPositionResult struct {
	Records []domain.RawRecord
	// LastQueryTime is the vendor cursor to pass to the next call.
	LastQueryTime int64
	// Dropped counts records that were not JSON objects.
	Dropped int
}

type lastPositionResponse struct {
	Records       []json.RawMessage `json:"records"`
	LastQueryTime domain.Number     `json:"lastquerypositiontime"`
}

// LastPosition fetches the latest record of every listed device that changed
// since the cursor (epoch ms, 0 for all).
func (c *Client) LastPosition(ctx context.Context, s domain.Session, deviceIDs []string, since int64) (LastPositionResult, error) {
	body := map[string]any{
		"deviceids":             deviceIDs,
		"lastquerypositiontime": since,
	}

	var resp lastPositionResponse
	if err := c.call(ctx, ActionLastPosition, &s, body, &resp); err != nil {
		return LastPositionResult{}, err
	}

	out := LastPositionResult{Records: make([]domain.RawRecord, 0, len(resp.Records))}
	if resp.LastQueryTime.Valid {
		out.LastQueryTime = int64(resp.LastQueryTime.Value)
	}
	for i, raw := range resp.Records {
		var rec domain.RawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			out.Dropped++
			logging.FromContext(ctx).Warn("gps51_record_dropped", "index", i, "error", err)
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

type monitorListResponse struct {
	Groups []struct {
		GroupName string `json:"groupname"`
		Devices   []struct {
			DeviceID   string        `json:"deviceid"`
			DeviceName string        `json:"devicename"`
			SimNum     string        `json:"simnum"`
			DeviceType domain.Number `json:"devicetype"`
		} `json:"devices"`
	} `json:"groups"`
}

// MonitorList returns every device visible to the account.
func (c *Client) MonitorList(ctx context.Context, s domain.Session) ([]domain.Vehicle, error) {
	var resp monitorListResponse
	if err := c.call(ctx, ActionQueryMonitorList, &s, map[string]string{"username": s.Username}, &resp); err != nil {
		return nil, err
	}

	var out []domain.Vehicle
	for _, g := range resp.Groups {
		for _, d := range g.Devices {
			if d.DeviceID == "" {
				continue
			}
			v := domain.Vehicle{
				DeviceID:  d.DeviceID,
				Name:      d.DeviceName,
				GroupName: g.GroupName,
				SimNumber: d.SimNum,
			}
			if d.DeviceType.Valid {
				v.DeviceType = strconv.FormatInt(int64(d.DeviceType.Value), 10)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, action string, s *domain.Session, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gps51 %s: rate limit wait: %w", action, err)
	}

	q := url.Values{}
	q.Set("action", action)
	if s != nil {
		q.Set("token", s.Token)
		q.Set("serverid", s.ServerID)
	}
	endpoint := c.baseURL + "?" + q.Encode()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gps51 %s: marshal request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gps51 %s: build request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gps51 %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("gps51 %s: read body: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gps51 %s: unexpected http status %d", action, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("gps51 %s: decode envelope: %w", action, err)
	}
	if env.Status != 0 {
		return &APIError{Action: action, Status: env.Status, Message: env.Cause}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gps51 %s: decode response: %w", action, err)
	}
	return nil
}
