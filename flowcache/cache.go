// Package flowcache fronts the flow dao with a short lived definition cache
// so the hot inbound path does not hit storage for every message.
package flowcache

import (
	"context"
	"time"

	c "github.com/patrickmn/go-cache"

	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/persistence"
)

const activeFlowsKey = "__active__"

type Cache struct {
	dao   persistence.FlowDao
	cache *c.Cache
}

func New(dao persistence.FlowDao, ttl time.Duration) *Cache {
	return &Cache{
		dao:   dao,
		cache: c.New(ttl, 10*time.Minute),
	}
}

func (fc *Cache) Get(ctx context.Context, id string) (*model.Flow, error) {
	if cached, found := fc.cache.Get(id); found {
		f := cached.(model.Flow)
		return &f, nil
	}
	f, err := fc.dao.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fc.cache.SetDefault(id, *f)
	return f, nil
}

func (fc *Cache) ListActive(ctx context.Context) ([]model.Flow, error) {
	if cached, found := fc.cache.Get(activeFlowsKey); found {
		return cached.([]model.Flow), nil
	}
	flows, err := fc.dao.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	fc.cache.SetDefault(activeFlowsKey, flows)
	return flows, nil
}

// Invalidate drops cached entries after a flow is saved, deleted or its
// status changed.
func (fc *Cache) Invalidate(id string) {
	fc.cache.Delete(id)
	fc.cache.Delete(activeFlowsKey)
}
