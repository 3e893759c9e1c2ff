package engine

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// permitPool enforces two concurrency caps at once: a global ceiling across
// every job name, and a per-name ceiling so one noisy job can't starve the
// rest. The per-name channels live in an LRU cache bounded by
// Config.NameCacheSize rather than a plain map, so a deployment with many
// distinct job names doesn't grow this unboundedly — the fixed-size
// alternative to the teacher's adaptive autoscaler (see DESIGN.md).
//
// Eviction note: if a name's channel is evicted while permits from it are
// still held, the holder still releases correctly (it closed over the
// channel value directly), but a subsequent acquire for that name builds a
// fresh channel with full capacity — briefly over-admitting that name until
// the old holders finish. Acceptable: NameCacheSize only needs to be large
// enough that hot job names are not evicted under normal operation.
type permitPool struct {
	global  chan struct{}
	perName *lru.Cache[string, chan struct{}]
	perCap  int
}

func newPermitPool(cfg Config) *permitPool {
	cache, _ := lru.New[string, chan struct{}](cfg.NameCacheSize)
	return &permitPool{
		global:  make(chan struct{}, cfg.MaxConcurrency),
		perName: cache,
		perCap:  cfg.DefaultConcurrency,
	}
}

func (p *permitPool) nameChan(name string) chan struct{} {
	if ch, ok := p.perName.Get(name); ok {
		return ch
	}
	ch := make(chan struct{}, p.perCap)
	p.perName.Add(name, ch)
	return ch
}

// acquire blocks until both a global and a per-name slot are free, or ctx is
// done. The returned func releases both; call it exactly once.
func (p *permitPool) acquire(ctx context.Context, name string) (func(), error) {
	nameCh := p.nameChan(name)

	select {
	case p.global <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case nameCh <- struct{}{}:
	case <-ctx.Done():
		<-p.global
		return nil, ctx.Err()
	}
	return func() {
		<-nameCh
		<-p.global
	}, nil
}

func (p *permitPool) inFlight() int { return len(p.global) }
