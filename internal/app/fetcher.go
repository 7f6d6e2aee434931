package app

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/xssnick/tonutils-go/tl"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

type FetcherConfig struct {
	API *ton.APIClient
}

// GetBlockchainConfig fetches the current config snapshot the getter
// VM is seeded with.
func GetBlockchainConfig(ctx context.Context, api *ton.APIClient) ([]byte, error) {
	var res tl.Serializable

	b, err := api.GetMasterchainInfo(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get masterchain info")
	}

	err = api.Client().QueryLiteserver(ctx, ton.GetConfigAll{Mode: 0, BlockID: b}, &res)
	if err != nil {
		return nil, err
	}

	switch t := res.(type) {
	case ton.ConfigAll:
		var state tlb.ShardStateUnsplit

		configProof, err := cell.FromBOC(t.ConfigProof)
		if err != nil {
			return nil, err
		}

		ref, err := configProof.BeginParse().LoadRef()
		if err != nil {
			return nil, err
		}

		err = tlb.LoadFromCell(&state, ref)
		if err != nil {
			return nil, err
		}

		if state.McStateExtra == nil {
			return nil, fmt.Errorf("no mc extra state found")
		}

		configCell, err := state.McStateExtra.ConfigParams.Config.ToCell()
		if err != nil {
			return nil, err
		}

		return configCell.ToBOC(), nil

	case ton.LSError:
		return nil, t

	default:
		return nil, fmt.Errorf("got unknown response")
	}
}
