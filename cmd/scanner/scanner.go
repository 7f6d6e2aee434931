package scanner

import (
	"encoding/base64"
	"encoding/hex"

	"github.com/allisson/go-env"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/app/detector"
	"github.com/kdimentionaltree/ton-index-worker/internal/app/scanner"
	"github.com/kdimentionaltree/ton-index-worker/internal/core/repository"
)

var Command = &cli.Command{
	Name:    "scanner",
	Aliases: []string{"scan"},
	Usage:   "Sweeps all account states at a masterchain height",

	Flags: []cli.Flag{
		&cli.UintFlag{
			Name:  "seqno",
			Usage: "masterchain height to scan at (default: last indexed)",
		},
		&cli.StringFlag{
			Name:  "cur-addr",
			Usage: "address cursor to start from, hex",
		},
		&cli.BoolFlag{
			Name:  "from-checkpoint",
			Usage: "resume from the persisted cursor",
		},
		&cli.BoolFlag{
			Name:  "index-interfaces",
			Usage: "run interface detection on scanned accounts",
			Value: true,
		},
	},

	Action: func(ctx *cli.Context) error {
		chURL := env.GetString("DB_CH_URL", "")
		pgURL := env.GetString("DB_PG_URL", "")

		conn, err := repository.ConnectDB(ctx.Context, chURL, pgURL)
		if err != nil {
			return errors.Wrap(err, "cannot connect to a database")
		}
		defer conn.Close()

		blockRepo := repository.NewBlockRepository(conn.CH, conn.PG)

		mcSeqno := uint32(ctx.Uint("seqno"))
		if mcSeqno == 0 {
			mcSeqno, err = blockRepo.GetLastMasterSeqno(ctx.Context)
			if err != nil {
				return errors.Wrap(err, "cannot resolve last indexed masterchain seqno")
			}
		}

		var curAddr []byte
		if hexAddr := ctx.String("cur-addr"); hexAddr != "" {
			curAddr, err = hex.DecodeString(hexAddr)
			if err != nil {
				return errors.Wrap(err, "malformed cur-addr")
			}
		}

		var cfgBOC []byte
		if b64 := env.GetString("BLOCKCHAIN_CONFIG_BOC", ""); b64 != "" {
			cfgBOC, err = base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return errors.Wrap(err, "malformed BLOCKCHAIN_CONFIG_BOC")
			}
		}

		d := detector.NewService(&app.DetectorConfig{
			EntityRepo:          repository.NewEntityRepository(conn.CH, conn.PG),
			ConfigBOC:           cfgBOC,
			EntityCacheCapacity: env.GetInt("ENTITY_CACHE_CAPACITY", 0),
		})

		s := scanner.NewService(&app.ScannerConfig{
			States:     repository.NewAccountRepository(conn.CH, conn.PG),
			Detector:   d,
			Checkpoint: repository.NewCheckpointRepository(conn.PG),

			MCSeqno: mcSeqno,

			BatchSize:       env.GetInt("BATCH_SIZE", 0),
			IndexInterfaces: ctx.Bool("index-interfaces"),

			FromCheckpoint: ctx.Bool("from-checkpoint"),
			CurAddr:        curAddr,

			SkipThreshold: env.GetInt("SKIP_THRESHOLD", 0),
		})

		return s.Run(ctx.Context)
	},
}
