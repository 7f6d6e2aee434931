package detector

import (
	"github.com/xssnick/tonutils-go/ton/nft"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// mapContent converts a parsed content cell into the flat metadata
// record, tagging where it was stored.
func mapContent(c any) *core.TokenContent {
	switch content := c.(type) {
	case *nft.ContentSemichain:
		return &core.TokenContent{
			Provenance:  core.ContentSemichain,
			URI:         content.URI,
			Name:        content.Name,
			Description: content.Description,
			Image:       content.Image,
			ImageData:   content.ImageData,
		}

	case *nft.ContentOnchain:
		return &core.TokenContent{
			Provenance:  core.ContentOnchain,
			Name:        content.Name,
			Description: content.Description,
			Image:       content.Image,
			ImageData:   content.ImageData,
		}

	case *nft.ContentOffchain:
		return &core.TokenContent{
			Provenance: core.ContentOffchain,
			URI:        content.URI,
		}
	}

	return nil
}
