// Package syncer mirrors members from an upstream membership directory.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gym-checkin-backend/config"
	"gym-checkin-backend/internal/model"
)

// DirectoryStore is the part of the store the syncer writes to.
type DirectoryStore interface {
	UpsertDirectoryMembers(ctx context.Context, members []model.Member) error
	DeactivateMissing(ctx context.Context, source string, keepIDs []string) (int64, error)
}

// ApiItem is one member as served by the directory.
type ApiItem struct {
	ID       string  `json:"id"`
	FullName string  `json:"fullName"`
	Email    string  `json:"email"`
	Phone    string  `json:"phone"`
	Status   string  `json:"status"`
	Code     *string `json:"code"`
}

// ApiData is one page of the directory listing.
type ApiData struct {
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Total    int       `json:"total"`
	Items    []ApiItem `json:"items"`
}

// ApiResponse wraps every directory response; a non-zero Code is a failure.
type ApiResponse struct {
	Code    int     `json:"code"`
	Message string  `json:"message"`
	Data    ApiData `json:"data"`
}

// Result summarises one sync cycle.
type Result struct {
	Fetched     int
	Upserted    int
	Deactivated int64
	Complete    bool
}

// Service periodically pulls the directory into the member table.
type Service struct {
	cfg    config.DirectorySyncConfig
	store  DirectoryStore
	client *http.Client
	log    *zap.Logger

	onChange func()
}

// NewService creates and initializes a new directory sync service.
func NewService(cfg config.DirectorySyncConfig, s DirectoryStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("syncer")

	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn("invalid proxy URL, directory sync will not use a proxy",
				zap.String("proxy", cfg.HTTPProxy), zap.Error(err))
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}

	return &Service{
		cfg:   cfg,
		store: s,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		log: log,
	}
}

// Run syncs once immediately and then every configured interval until ctx
// is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("directory sync is disabled")
		return
	}
	s.log.Info("starting directory sync", zap.String("url", s.cfg.URL), zap.Duration("interval", s.cfg.Interval))

	s.syncAndLog(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("directory sync shutting down")
			return
		case <-timer.C:
			s.syncAndLog(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Service) syncAndLog(ctx context.Context) {
	res, err := s.SyncOnce(ctx)
	if err != nil {
		s.log.Error("directory sync failed", zap.Error(err))
		return
	}
	s.log.Info("directory sync finished",
		zap.Int("fetched", res.Fetched),
		zap.Int("upserted", res.Upserted),
		zap.Int64("deactivated", res.Deactivated),
		zap.Bool("complete", res.Complete))
}

// SyncOnce fetches every page and writes the members. Members missing from
// the feed are only deactivated when the feed reported a non-zero total and
// every one of those items arrived.
func (s *Service) SyncOnce(ctx context.Context) (Result, error) {
	var res Result
	var items []ApiItem
	total := 1
	reported := 0
	var fetchErr error
	for page := 1; (page-1)*s.cfg.PageSize < total; page++ {
		resp, err := s.fetchPage(ctx, page)
		if err != nil {
			s.log.Warn("failed to fetch directory page", zap.Int("page", page), zap.Error(err))
			fetchErr = err
			break
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		reported = resp.Data.Total
		items = append(items, resp.Data.Items...)
		s.log.Debug("fetched directory page", zap.Int("page", page), zap.Int("items", len(items)), zap.Int("total", total))
	}
	res.Fetched = len(items)

	// Without any items there is nothing to trust; leave the members alone.
	if len(items) == 0 {
		if fetchErr != nil {
			return res, fmt.Errorf("directory fetch returned no items: %w", fetchErr)
		}
		s.log.Warn("directory feed is empty, members left unchanged")
		return res, nil
	}
	res.Complete = fetchErr == nil && reported > 0 && len(items) >= reported

	members := make([]model.Member, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		m, ok := s.toMember(item)
		if !ok {
			continue
		}
		members = append(members, m)
		ids = append(ids, m.ID)
	}

	if err := s.store.UpsertDirectoryMembers(ctx, members); err != nil {
		return res, err
	}
	res.Upserted = len(members)
	defer s.changed()

	if !res.Complete {
		s.log.Warn("directory fetch incomplete, skipping deactivation",
			zap.Int("fetched", len(items)), zap.Int("reported", reported), zap.Error(fetchErr))
		return res, nil
	}
	n, err := s.store.DeactivateMissing(ctx, model.SourceDirectory, ids)
	if err != nil {
		return res, err
	}
	res.Deactivated = n
	return res, nil
}

// OnChange registers fn to run after every cycle that wrote members, e.g. to
// flush cached reports.
func (s *Service) OnChange(fn func()) {
	s.onChange = fn
}

func (s *Service) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Service) toMember(item ApiItem) (model.Member, bool) {
	id := strings.TrimSpace(item.ID)
	if id == "" {
		s.log.Warn("skipping directory item without id", zap.String("name", item.FullName))
		return model.Member{}, false
	}
	status, err := model.ParseMemberStatus(item.Status)
	if err != nil {
		s.log.Warn("unknown directory status, treating as inactive", zap.String("member_id", id), zap.String("status", item.Status))
		status = model.MemberStatusInactive
	}
	m := model.Member{
		ID:       id,
		FullName: strings.TrimSpace(item.FullName),
		Email:    strings.TrimSpace(item.Email),
		Phone:    strings.TrimSpace(item.Phone),
		Status:   status,
		Source:   model.SourceDirectory,
	}
	if item.Code != nil {
		if code := strings.TrimSpace(*item.Code); code != "" {
			m.Code = &code
		}
	}
	return m, true
}

func (s *Service) fetchPage(ctx context.Context, page int) (*ApiResponse, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid directory url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(s.cfg.PageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp ApiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api response: %w", err)
	}
	if apiResp.Code != 0 {
		msg := apiResp.Message
		if msg == "" {
			msg = "no message"
		}
		return nil, fmt.Errorf("directory returned application code %d: %w", apiResp.Code, errors.New(msg))
	}
	return &apiResp, nil
}
