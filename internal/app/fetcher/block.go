package fetcher

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/xssnick/tonutils-go/ton"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

func (s *Service) GetLastMasterchainSeqno(ctx context.Context) (uint32, error) {
	master, err := s.API.GetMasterchainInfo(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "get masterchain info")
	}
	return master.SeqNo, nil
}

func (s *Service) lookupMaster(ctx context.Context, seqNo uint32) (*ton.BlockIDExt, error) {
	master, err := s.API.LookupBlock(ctx, s.masterWorkchain, s.masterShard, seqNo)
	if err != nil {
		return nil, errors.Wrap(err, "lookup masterchain block")
	}
	return master, nil
}

func (s *Service) getShardsInfo(ctx context.Context, master *ton.BlockIDExt) ([]*ton.BlockIDExt, error) {
	shards, err := s.API.GetBlockShardsInfo(ctx, master)
	if err != nil {
		return nil, errors.Wrap(err, "get masterchain shards info")
	}
	return shards, nil
}

func getShardID(shard *ton.BlockIDExt) string {
	return fmt.Sprintf("%d|%d", shard.Workchain, shard.Shard)
}

// getNotSeenShards walks shard parents until the heights referenced by
// the previous masterchain block.
func (s *Service) getNotSeenShards(ctx context.Context, shard *ton.BlockIDExt, shardLastSeqNo map[string]uint32) (ret []*ton.BlockIDExt, err error) {
	if no, ok := shardLastSeqNo[getShardID(shard)]; ok && no == shard.SeqNo {
		return nil, nil
	}

	b, err := s.API.GetBlockData(ctx, shard)
	if err != nil {
		return nil, fmt.Errorf("get block data: %w", err)
	}

	parents, err := b.BlockInfo.GetParentBlocks()
	if err != nil {
		return nil, fmt.Errorf("get parent blocks (%d:%x:%d): %w", shard.Workchain, uint64(shard.Shard), shard.SeqNo, err)
	}

	for _, parent := range parents {
		ext, err := s.getNotSeenShards(ctx, parent, shardLastSeqNo)
		if err != nil {
			return nil, err
		}
		ret = append(ret, ext...)
	}

	ret = append(ret, shard)
	return ret, nil
}

func (s *Service) unseenShards(ctx context.Context, master *ton.BlockIDExt) ([]*ton.BlockIDExt, error) {
	curShards, err := s.getShardsInfo(ctx, master)
	if err != nil {
		return nil, err
	}

	prevMaster, err := s.lookupMaster(ctx, master.SeqNo-1)
	if err != nil {
		return nil, errors.Wrap(err, "lookup previous master")
	}
	prevShards, err := s.getShardsInfo(ctx, prevMaster)
	if err != nil {
		return nil, err
	}

	shardLastSeqNo := map[string]uint32{}
	for _, shard := range prevShards {
		shardLastSeqNo[getShardID(shard)] = shard.SeqNo
	}

	var newShards []*ton.BlockIDExt
	for _, shard := range curShards {
		notSeen, err := s.getNotSeenShards(ctx, shard, shardLastSeqNo)
		if err != nil {
			return nil, errors.Wrap(err, "get not seen shards")
		}
		newShards = append(newShards, notSeen...)
	}

	return newShards, nil
}

// Fetch materializes one masterchain height: the master block, the
// shard blocks it references for the first time, their transactions
// and the touched account states.
func (s *Service) Fetch(ctx context.Context, seqno uint32) (*core.BlockDataState, error) {
	master, err := s.lookupMaster(ctx, seqno)
	if err != nil {
		return nil, err
	}

	shards, err := s.unseenShards(ctx, master)
	if err != nil {
		return nil, err
	}

	ds := new(core.BlockDataState)

	s.configOnce.Do(func() {
		cfg, cfgErr := app.GetBlockchainConfig(ctx, s.API)
		if cfgErr == nil {
			s.configBOC = cfg
		}
	})
	ds.ConfigBOC = s.configBOC

	masterID := core.BlockID{Workchain: master.Workchain, Shard: master.Shard, SeqNo: master.SeqNo}

	ds.Master, err = s.fetchRawBlock(ctx, master, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetch master block")
	}

	for _, shard := range shards {
		raw, err := s.fetchRawBlock(ctx, shard, &masterID)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch shard block (%d, %x, %d)", shard.Workchain, uint64(shard.Shard), shard.SeqNo)
		}
		ds.ShardBlocks = append(ds.ShardBlocks, raw)
	}
	ds.ShardsDiff = ds.ShardBlocks

	return ds, nil
}
