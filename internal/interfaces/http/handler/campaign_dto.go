package handler

import (
	"time"

	"github.com/admetric/backend/internal/infrastructure/persistence/models"
)

// CreateCampaignRequest is the payload for creating a campaign.
type CreateCampaignRequest struct {
	Name       string `json:"name" binding:"required,max=200"`
	Platform   string `json:"platform" binding:"omitempty,oneof=google_ads meta_ads tiktok_ads linkedin_ads"`
	ExternalID string `json:"external_id" binding:"omitempty,max=100"`
	Budget     int64  `json:"budget" binding:"omitempty,min=0"`
}

// UpdateCampaignRequest is the payload for updating a campaign. Nil fields
// are left untouched.
type UpdateCampaignRequest struct {
	Name   *string `json:"name" binding:"omitempty,max=200"`
	Status *string `json:"status" binding:"omitempty,oneof=draft active paused archived"`
	Budget *int64  `json:"budget" binding:"omitempty,min=0"`
}

// CampaignResponse is the wire shape of a campaign.
type CampaignResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Platform   string     `json:"platform"`
	ExternalID string     `json:"external_id,omitempty"`
	Status     string     `json:"status"`
	Budget     int64      `json:"budget"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func toCampaignResponse(c *models.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:         c.ID.String(),
		Name:       c.Name,
		Platform:   c.Platform,
		ExternalID: c.ExternalID,
		Status:     c.Status,
		Budget:     c.Budget,
		StartedAt:  c.StartedAt,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func toCampaignResponses(cs []models.Campaign) []CampaignResponse {
	out := make([]CampaignResponse, 0, len(cs))
	for i := range cs {
		out = append(out, toCampaignResponse(&cs[i]))
	}
	return out
}

// CreateUtmLinkRequest is the payload for creating a tracked link under a
// campaign.
type CreateUtmLinkRequest struct {
	Slug        string `json:"slug" binding:"required,max=64"`
	Destination string `json:"destination" binding:"required,url"`
	Source      string `json:"source" binding:"omitempty,max=100"`
	Medium      string `json:"medium" binding:"omitempty,max=100"`
}

// UtmLinkResponse is the wire shape of a tracked link.
type UtmLinkResponse struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	Slug        string    `json:"slug"`
	Destination string    `json:"destination"`
	Source      string    `json:"source,omitempty"`
	Medium      string    `json:"medium,omitempty"`
	Clicks      int64     `json:"clicks"`
	CreatedAt   time.Time `json:"created_at"`
}

func toUtmLinkResponse(l *models.UtmLink) UtmLinkResponse {
	return UtmLinkResponse{
		ID:          l.ID.String(),
		CampaignID:  l.CampaignID.String(),
		Slug:        l.Slug,
		Destination: l.Destination,
		Source:      l.Source,
		Medium:      l.Medium,
		Clicks:      l.Clicks,
		CreatedAt:   l.CreatedAt,
	}
}
