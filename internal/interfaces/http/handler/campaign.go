package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/admetric/backend/internal/infrastructure/cache"
	"github.com/admetric/backend/internal/infrastructure/logger"
	"github.com/admetric/backend/internal/infrastructure/persistence/models"
	"github.com/admetric/backend/internal/infrastructure/persistence/scope"
	"github.com/admetric/backend/internal/interfaces/http/dto"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// campaignsTag groups cached campaign reads for invalidation on any write.
const campaignsTag = "campaigns"

// ConnectionSource resolves the bound tenant to its schema-pinned handle.
type ConnectionSource interface {
	ConnectionFor(ctx context.Context, tc tenancy.TenantContext) (*gorm.DB, error)
}

// CampaignHandler serves the tenant-scoped campaign API. Every request runs
// against the bound tenant's schema handle through the scoped gateway; the
// handler itself never mentions tenant ids.
type CampaignHandler struct {
	BaseHandler
	conns    ConnectionSource
	registry *scope.Registry
	cache    cache.TenantCache
	cacheTTL time.Duration
}

// CampaignHandlerOption configures a CampaignHandler.
type CampaignHandlerOption func(*CampaignHandler)

// WithCampaignCache caches list reads in the tenant cache.
func WithCampaignCache(c cache.TenantCache, ttl time.Duration) CampaignHandlerOption {
	return func(h *CampaignHandler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

// NewCampaignHandler creates a new CampaignHandler.
func NewCampaignHandler(conns ConnectionSource, registry *scope.Registry, opts ...CampaignHandlerOption) *CampaignHandler {
	h := &CampaignHandler{
		conns:    conns,
		registry: registry,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the campaign routes.
func (h *CampaignHandler) RegisterRoutes(rg *gin.RouterGroup) {
	campaigns := rg.Group("/campaigns")
	campaigns.GET("", h.List)
	campaigns.POST("", h.Create)
	campaigns.GET("/:id", h.Get)
	campaigns.PUT("/:id", h.Update)
	campaigns.DELETE("/:id", h.Delete)
	campaigns.GET("/:id/links", h.ListLinks)
	campaigns.POST("/:id/links", h.CreateLink)
}

// gateway builds the scoped gateway over the bound tenant's handle.
func (h *CampaignHandler) gateway(ctx context.Context) (*scope.Gateway, error) {
	tc, err := tenancy.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	db, err := h.conns.ConnectionFor(ctx, tc)
	if err != nil {
		return nil, err
	}
	return scope.NewGateway(db, h.registry)
}

func (h *CampaignHandler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, 400, dto.ErrCodeInvalidInput, "Invalid id, expected a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// List returns the tenant's campaigns, paginated. Pages are cached per tenant
// under the campaigns tag; any campaign write flushes them.
func (h *CampaignHandler) List(c *gin.Context) {
	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	req.Normalize()
	ctx := c.Request.Context()

	load := func(ctx context.Context) ([]byte, error) {
		gw, err := h.gateway(ctx)
		if err != nil {
			return nil, err
		}
		db, err := gw.DB(ctx)
		if err != nil {
			return nil, err
		}

		var campaigns []models.Campaign
		q := db.Order("created_at DESC").Limit(req.PageSize).Offset(req.Offset())
		if req.Search != "" {
			q = q.Where("name ILIKE ?", "%"+req.Search+"%")
		}
		if err := q.Find(&campaigns).Error; err != nil {
			return nil, err
		}
		return json.Marshal(toCampaignResponses(campaigns))
	}

	payload, err := h.cachedList(ctx, req, load)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var out []CampaignResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		h.InternalError(c, "Corrupt cached payload")
		return
	}
	h.Success(c, out)
}

// cachedList serves list pages through the tenant cache, tagged so any
// campaign write flushes them. Searches bypass the cache; a cache backend
// failure degrades to a direct read.
func (h *CampaignHandler) cachedList(ctx context.Context, req dto.ListRequest, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if h.cache == nil || req.Search != "" {
		return load(ctx)
	}
	key := fmt.Sprintf("campaigns:list:p%d:s%d", req.Page, req.PageSize)

	cached, hit, err := h.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantContextMissing) {
			return nil, err
		}
		logger.L(ctx).Warn("campaign list cache read failed", zap.Error(err))
	} else if hit {
		return cached, nil
	}

	payload, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.cache.SetWithTags(ctx, key, payload, h.cacheTTL, campaignsTag); err != nil {
		logger.L(ctx).Warn("campaign list cache write failed", zap.Error(err))
	}
	return payload, nil
}

// Create inserts a campaign for the bound tenant.
func (h *CampaignHandler) Create(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	gw, err := h.gateway(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	campaign := models.Campaign{
		Name:       req.Name,
		Platform:   req.Platform,
		ExternalID: req.ExternalID,
		Budget:     req.Budget,
		Status:     "draft",
	}
	campaign.ID = uuid.New()
	if campaign.Platform == "" {
		campaign.Platform = "google_ads"
	}

	if err := gw.Create(ctx, &campaign); err != nil {
		h.HandleError(c, err)
		return
	}
	h.invalidateCampaignCache(ctx)
	h.Created(c, toCampaignResponse(&campaign))
}

// Get returns one campaign. A campaign belonging to another tenant is
// reported as not found.
func (h *CampaignHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	gw, err := h.gateway(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var campaign models.Campaign
	if err := gw.First(ctx, &campaign, "id = ?", id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toCampaignResponse(&campaign))
}

// Update applies partial changes to one campaign.
func (h *CampaignHandler) Update(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req UpdateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	values := map[string]any{}
	if req.Name != nil {
		values["name"] = *req.Name
	}
	if req.Status != nil {
		values["status"] = *req.Status
	}
	if req.Budget != nil {
		values["budget"] = *req.Budget
	}
	if len(values) == 0 {
		h.BadRequest(c, "No fields to update")
		return
	}

	ctx := c.Request.Context()
	gw, err := h.gateway(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	affected, err := gw.Updates(ctx, &models.Campaign{}, values, "id = ?", id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if affected == 0 {
		h.NotFound(c, "Campaign not found")
		return
	}
	h.invalidateCampaignCache(ctx)

	var campaign models.Campaign
	if err := gw.First(ctx, &campaign, "id = ?", id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toCampaignResponse(&campaign))
}

// Delete removes one campaign.
func (h *CampaignHandler) Delete(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	gw, err := h.gateway(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	affected, err := gw.Delete(ctx, &models.Campaign{}, "id = ?", id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if affected == 0 {
		h.NotFound(c, "Campaign not found")
		return
	}
	h.invalidateCampaignCache(ctx)
	h.NoContent(c)
}

// ListLinks returns the tracked links of one campaign.
func (h *CampaignHandler) ListLinks(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	gw, err := h.gateway(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	// Confirm the campaign is visible to this tenant before listing.
	owned, err := gw.ValidateOwnership(ctx, &models.Campaign{}, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !owned {
		h.NotFound(c, "Campaign not found")
		return
	}

	var links []models.UtmLink
	if err := gw.Find(ctx, &links, "campaign_id = ?", id); err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]UtmLinkResponse, 0, len(links))
	for i := range links {
		out = append(out, toUtmLinkResponse(&links[i]))
	}
	h.Success(c, out)
}

// CreateLink creates a tracked link under one campaign. The insert is refused
// when the campaign does not belong to the bound tenant.
func (h *CampaignHandler) CreateLink(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req CreateUtmLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	gw, err := h.gateway(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	link := models.UtmLink{
		CampaignID:  id,
		Slug:        req.Slug,
		Destination: req.Destination,
		Source:      req.Source,
		Medium:      req.Medium,
	}
	link.ID = uuid.New()

	if err := gw.Create(ctx, &link); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toUtmLinkResponse(&link))
}

// invalidateCampaignCache flushes cached campaign pages after a write.
func (h *CampaignHandler) invalidateCampaignCache(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateByTag(ctx, campaignsTag); err != nil {
		logger.L(ctx).Warn("campaign cache invalidation failed", zap.Error(err))
	}
}
