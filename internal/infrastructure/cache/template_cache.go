package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/core/ports"
)

// TemplateCache is a read-through cache in front of a TemplateRepository.
// Only successful single-template reads are cached; writes through the cache
// evict the touched id.
type TemplateCache struct {
	next  ports.TemplateRepository
	cache *gocache.Cache
}

func NewTemplateCache(next ports.TemplateRepository, ttl time.Duration) *TemplateCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TemplateCache{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *TemplateCache) CreateTemplate(ctx context.Context, tmpl *domain.Template) error {
	return c.next.CreateTemplate(ctx, tmpl)
}

func (c *TemplateCache) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	if cached, found := c.cache.Get(id); found {
		tmpl := cached.(domain.Template)
		return &tmpl, nil
	}
	tmpl, err := c.next.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Set(id, *tmpl, gocache.DefaultExpiration)
	return tmpl, nil
}

func (c *TemplateCache) ListTemplates(ctx context.Context, filter domain.TemplateFilter) ([]domain.Template, error) {
	return c.next.ListTemplates(ctx, filter)
}

func (c *TemplateCache) UpdateTemplate(ctx context.Context, tmpl *domain.Template) error {
	c.cache.Delete(tmpl.ID)
	err := c.next.UpdateTemplate(ctx, tmpl)
	c.cache.Delete(tmpl.ID)
	return err
}

func (c *TemplateCache) DeleteTemplate(ctx context.Context, id string) error {
	err := c.next.DeleteTemplate(ctx, id)
	c.cache.Delete(id)
	return err
}

// Invalidate drops id after a change made by another process.
func (c *TemplateCache) Invalidate(id string) {
	c.cache.Delete(id)
}
