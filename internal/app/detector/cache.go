package detector

import (
	"bytes"
	"context"
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
	"github.com/kdimentionaltree/ton-index-worker/lru"
)

// codeHashKey identifies one (code_hash, interface) verdict.
type codeHashKey struct {
	codeHash string
	kind     core.EntityKind
}

type entityKey struct {
	address string
	kind    core.EntityKind
}

// caches hold the two detector memos: the three-state code-hash
// verdict map and the bounded write-through entity cache.
type caches struct {
	repo core.EntityRepository

	verdicts map[codeHashKey]bool
	mx       sync.Mutex

	entities *lru.Cache[entityKey, core.Entity]
}

func newCaches(repo core.EntityRepository, entityCapacity int) *caches {
	return &caches{
		repo:     repo,
		verdicts: make(map[codeHashKey]bool),
		entities: lru.New[entityKey, core.Entity](entityCapacity),
	}
}

// checkCodeHash returns the memoized verdict, if any. An unknown code
// hash is never memoized.
func (c *caches) checkCodeHash(codeHash []byte, kind core.EntityKind) (verdict, known bool) {
	if len(codeHash) == 0 {
		return false, false
	}

	c.mx.Lock()
	defer c.mx.Unlock()

	v, ok := c.verdicts[codeHashKey{hex.EncodeToString(codeHash), kind}]
	return v, ok
}

// setCodeHash memoizes a verdict. A verdict, once set, never flips.
func (c *caches) setCodeHash(codeHash []byte, kind core.EntityKind, verdict bool) {
	if len(codeHash) == 0 {
		return
	}

	c.mx.Lock()
	defer c.mx.Unlock()

	k := codeHashKey{hex.EncodeToString(codeHash), kind}
	if _, ok := c.verdicts[k]; ok {
		return
	}
	c.verdicts[k] = verdict
}

// getEntity resolves an entity by address: memory first, then the
// repository. Misses return core.ErrNotFound.
func (c *caches) getEntity(ctx context.Context, kind core.EntityKind, a addr.Address) (core.Entity, error) {
	k := entityKey{a.String(), kind}

	if e, ok := c.entities.Get(k); ok {
		return e, nil
	}

	var (
		e   core.Entity
		err error
	)
	switch kind {
	case core.KindJettonMaster:
		e, err = c.repo.GetJettonMaster(ctx, a)
	case core.KindJettonWallet:
		e, err = c.repo.GetJettonWallet(ctx, a)
	case core.KindNFTCollection:
		e, err = c.repo.GetNFTCollection(ctx, a)
	case core.KindNFTItem:
		e, err = c.repo.GetNFTItem(ctx, a)
	default:
		return nil, errors.Wrapf(core.ErrNotFound, "unknown entity kind %s", kind)
	}
	if err != nil {
		return nil, err
	}

	c.entities.Put(k, e)
	return e, nil
}

// storeEntity writes through to memory and the repository; a failed
// repository write is logged, the memory cache stays authoritative.
func (c *caches) storeEntity(ctx context.Context, e core.Entity) {
	c.entities.Put(entityKey{e.EntityAddress().String(), e.Kind()}, e)

	if err := c.repo.UpsertEntity(ctx, e); err != nil {
		log.Error().Err(err).
			Str("address", e.EntityAddress().String()).
			Str("kind", string(e.Kind())).
			Msg("upsert entity")
	}
}

// authoritative reports whether a cached entity answers the request
// without re-running getters: same code and data, or the cached state
// is at least as fresh as the requested logical time.
func authoritative(cached core.Entity, codeHash, dataHash []byte, requestedLT uint64) bool {
	c, d := cached.Hashes()
	if len(c) > 0 && len(d) > 0 && bytes.Equal(c, codeHash) && bytes.Equal(d, dataHash) {
		return true
	}
	return cached.LastLT() >= requestedLT
}
