package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
)

const metabaseSessionHeader = "X-Metabase-Session"

// MetabaseError is returned for a failed Metabase API call.
type MetabaseError struct {
	Method     string
	Path       string
	Body       string
	StatusCode int
}

func (err MetabaseError) Error() string {
	return fmt.Sprintf("metabase %s %s: status %d: %s", err.Method, err.Path, err.StatusCode, err.Body)
}

type metabaseCard struct {
	CardID *int `json:"card_id"`
	Card   *struct {
		ID *int `json:"id"`
	} `json:"card"`
}

type metabaseDashboard struct {
	Name         string         `json:"name"`
	OrderedCards []metabaseCard `json:"ordered_cards"`
	DashCards    []metabaseCard `json:"dashcards"`
	ID           int            `json:"id"`
}

// RefreshDashboard re-runs the query of every card of the dashboard. Without credentials the
// refresh is skipped and the unit succeeds.
func (s *Stages) RefreshDashboard(ctx context.Context) error {
	mb := s.opts.Metabase

	if !mb.Enabled() {
		s.logger.Warnf("MB_USER/MB_PASS not set. Skipping dashboard refresh.")
		return nil
	}

	token, err := s.metabaseSession(ctx)
	if err != nil {
		return err
	}

	dashboardID, err := s.metabaseDashboardID(ctx, token)
	if err != nil {
		return err
	}

	cardIDs, err := s.metabaseCardIDs(ctx, token, dashboardID)
	if err != nil {
		return err
	}

	if len(cardIDs) == 0 {
		s.logger.Warnf("No cards found for dashboard %d", dashboardID)
		return nil
	}

	s.logger.Infof("Refreshing %d cards for dashboard %d", len(cardIDs), dashboardID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, mb.Parallelism))

	for _, cardID := range cardIDs {
		g.Go(func() error {
			cardCtx, cancel := context.WithTimeout(gctx, mb.CardTimeout)
			defer cancel()

			return s.metabaseCall(cardCtx, http.MethodPost, fmt.Sprintf("/api/card/%d/query/json", cardID), token, nil, nil)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Infof("Metabase refresh complete")

	return nil
}

func (s *Stages) metabaseSession(ctx context.Context) (string, error) {
	mb := s.opts.Metabase

	var session struct {
		ID string `json:"id"`
	}

	credentials := map[string]string{"username": mb.User, "password": mb.Password}

	if err := s.metabaseCall(ctx, http.MethodPost, "/api/session", "", credentials, &session); err != nil {
		return "", err
	}

	if session.ID == "" {
		return "", task.MarkPermanent(errors.Errorf("metabase auth failed: missing session token"))
	}

	return session.ID, nil
}

func (s *Stages) metabaseDashboardID(ctx context.Context, token string) (int, error) {
	mb := s.opts.Metabase

	if mb.DashboardID != "" {
		id, err := strconv.Atoi(mb.DashboardID)
		if err != nil {
			return 0, task.MarkPermanent(errors.Errorf("invalid DASHBOARD_ID %q: %w", mb.DashboardID, err))
		}

		return id, nil
	}

	if mb.DashboardName == "" {
		return 0, task.MarkPermanent(errors.Errorf("DASHBOARD_NAME or DASHBOARD_ID must be set"))
	}

	var dashboards []metabaseDashboard
	if err := s.metabaseCall(ctx, http.MethodGet, "/api/dashboard", token, nil, &dashboards); err != nil {
		return 0, err
	}

	for _, dashboard := range dashboards {
		if dashboard.Name == mb.DashboardName {
			return dashboard.ID, nil
		}
	}

	return 0, task.MarkPermanent(errors.Errorf("dashboard %q not found", mb.DashboardName))
}

func (s *Stages) metabaseCardIDs(ctx context.Context, token string, dashboardID int) ([]int, error) {
	var dashboard metabaseDashboard
	if err := s.metabaseCall(ctx, http.MethodGet, fmt.Sprintf("/api/dashboard/%d", dashboardID), token, nil, &dashboard); err != nil {
		return nil, err
	}

	// newer Metabase versions renamed ordered_cards to dashcards
	cards := append(dashboard.OrderedCards, dashboard.DashCards...) //nolint:gocritic

	ids := make([]int, 0, len(cards))

	for _, card := range cards {
		switch {
		case card.CardID != nil:
			ids = append(ids, *card.CardID)
		case card.Card != nil && card.Card.ID != nil:
			ids = append(ids, *card.Card.ID)
		}
	}

	return ids, nil
}

// metabaseCall sends a JSON request to the Metabase API and decodes the response into out, if given.
func (s *Stages) metabaseCall(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.New(err)
		}

		body = bytes.NewReader(data)
	}

	url := strings.TrimRight(s.opts.Metabase.Host, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return task.MarkPermanent(errors.New(err))
	}

	req.Header.Set("Content-Type", "application/json")

	if token != "" {
		req.Header.Set(metabaseSessionHeader, token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.New(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		mbErr := MetabaseError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}

		if (StatusError{StatusCode: resp.StatusCode}).Retryable() {
			return errors.New(mbErr)
		}

		return task.MarkPermanent(errors.New(mbErr))
	}

	if out == nil {
		return nil
	}

	respBody, err := s.readBody(url, resp.Body)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return task.MarkPermanent(errors.Errorf("metabase %s %s: invalid response: %w", method, path, err))
	}

	return nil
}
