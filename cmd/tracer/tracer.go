package tracer

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/allisson/go-env"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/app/detector"
	"github.com/kdimentionaltree/ton-index-worker/internal/app/fetcher"
	"github.com/kdimentionaltree/ton-index-worker/internal/app/parser"
	"github.com/kdimentionaltree/ton-index-worker/internal/app/tracer"
	"github.com/kdimentionaltree/ton-index-worker/internal/core/repository"
)

var Command = &cli.Command{
	Name:    "tracer",
	Aliases: []string{"trace"},
	Usage:   "Emulates transaction traces of live blocks",

	Action: func(ctx *cli.Context) error {
		chURL := env.GetString("DB_CH_URL", "")
		pgURL := env.GetString("DB_PG_URL", "")
		redisURI := env.GetString("REDIS_URI", "redis://127.0.0.1:6379")

		conn, err := repository.ConnectDB(ctx.Context, chURL, pgURL)
		if err != nil {
			return errors.Wrap(err, "cannot connect to a database")
		}
		defer conn.Close()

		client := liteclient.NewConnectionPool()
		for _, a := range strings.Split(env.GetString("LITESERVERS", ""), ",") {
			split := strings.Split(a, "|")
			if len(split) != 2 {
				return errors.Errorf("wrong liteserver address format '%s'", a)
			}
			if err := client.AddConnection(ctx.Context, split[0], split[1]); err != nil {
				return errors.Wrapf(err, "cannot add connection with %s host", split[0])
			}
		}
		api := ton.NewAPIClient(client)

		bcConfig, err := app.GetBlockchainConfig(ctx.Context, api)
		if err != nil {
			return errors.Wrap(err, "cannot get blockchain config")
		}

		d := detector.NewService(&app.DetectorConfig{
			EntityRepo:          repository.NewEntityRepository(conn.CH, conn.PG),
			ConfigBOC:           bcConfig,
			EntityCacheCapacity: env.GetInt("ENTITY_CACHE_CAPACITY", 0),
		})

		p := parser.NewService(&app.ParserConfig{Detector: d})

		f := fetcher.NewService(&app.FetcherConfig{API: api})

		emu, err := tracer.NewQueueEmulator(redisURI, env.GetString("EMULATOR_QUEUE", ""))
		if err != nil {
			return errors.Wrap(err, "cannot create emulator client")
		}
		defer func() { _ = emu.Close() }()

		ins, err := tracer.NewRedisInserter(redisURI)
		if err != nil {
			return errors.Wrap(err, "cannot create trace inserter")
		}
		defer func() { _ = ins.Close() }()

		t := tracer.NewService(&app.TracerConfig{
			Parser:   p,
			Detector: d,
			Emulator: emu,
			Inserter: ins,
			MaxDepth: env.GetInt("TRACE_MAX_DEPTH", 0),
		})

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		seqno, err := f.GetLastMasterchainSeqno(ctx.Context)
		if err != nil {
			return errors.Wrap(err, "cannot get last masterchain seqno")
		}

		tick := time.NewTicker(250 * time.Millisecond)
		defer tick.Stop()

		for {
			select {
			case <-stop:
				return nil

			case <-tick.C:
				tip, err := f.GetLastMasterchainSeqno(ctx.Context)
				if err != nil {
					log.Warn().Err(err).Msg("get last masterchain seqno")
					continue
				}

				for ; seqno <= tip; seqno++ {
					ds, err := f.Fetch(ctx.Context, seqno)
					if err != nil {
						log.Error().Err(err).Uint32("seqno", seqno).Msg("fetch block data state")
						break
					}
					if err := t.EmulateBlockTraces(ctx.Context, ds); err != nil {
						log.Error().Err(err).Uint32("seqno", seqno).Msg("emulate block traces")
					}
				}
			}
		}
	},
}
