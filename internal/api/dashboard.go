package api

import (
	"context"
	"encoding/json"

	"github.com/advancex/advx/internal/common/httpclient"
)

const (
	PathDashboardStats      = "/dashboard/stats"
	PathDashboardActivities = "/dashboard/activities"
	PathDashboardWidgets    = "/dashboard/widgets"
)

type Dashboard struct {
	d httpclient.Dispatcher
}

func (db *Dashboard) Stats(ctx context.Context, params httpclient.Params) (json.RawMessage, error) {
	resp, err := db.d.Get(ctx, PathDashboardStats, params)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Activities returns the recent activity feed.
func (db *Dashboard) Activities(ctx context.Context, params httpclient.Params) (json.RawMessage, error) {
	resp, err := db.d.Get(ctx, PathDashboardActivities, params)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (db *Dashboard) CreateWidget(ctx context.Context, payload any) (json.RawMessage, error) {
	body, err := checked[Widget](payload)
	if err != nil {
		return nil, err
	}
	resp, err := db.d.Post(ctx, PathDashboardWidgets, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
