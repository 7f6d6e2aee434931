package indexer

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/allisson/go-env"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/app/detector"
	"github.com/kdimentionaltree/ton-index-worker/internal/app/fetcher"
	"github.com/kdimentionaltree/ton-index-worker/internal/app/indexer"
	"github.com/kdimentionaltree/ton-index-worker/internal/app/parser"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
	"github.com/kdimentionaltree/ton-index-worker/internal/core/repository"
)

func connectLiteservers(ctx *cli.Context) (*ton.APIClient, error) {
	client := liteclient.NewConnectionPool()

	for _, a := range strings.Split(env.GetString("LITESERVERS", ""), ",") {
		split := strings.Split(a, "|")
		if len(split) != 2 {
			return nil, errors.Errorf("wrong liteserver address format '%s'", a)
		}
		host, key := split[0], split[1]
		if err := client.AddConnection(ctx.Context, host, key); err != nil {
			return nil, errors.Wrapf(err, "cannot add connection with %s host and %s key", host, key)
		}
	}

	return ton.NewAPIClient(client), nil
}

var Command = &cli.Command{
	Name:    "indexer",
	Aliases: []string{"idx"},
	Usage:   "Scans new blocks",

	Action: func(ctx *cli.Context) error {
		chURL := env.GetString("DB_CH_URL", "")
		pgURL := env.GetString("DB_PG_URL", "")

		conn, err := repository.ConnectDB(ctx.Context, chURL, pgURL)
		if err != nil {
			return errors.Wrap(err, "cannot connect to a database")
		}
		if err := repository.CreateTables(ctx.Context, conn); err != nil {
			return errors.Wrap(err, "cannot create tables")
		}

		api, err := connectLiteservers(ctx)
		if err != nil {
			return err
		}

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

		ins := repository.NewInsertManager(conn, env.GetInt("INSERT_WORKERS", 0))

		i := indexer.NewService(&app.IndexerConfig{
			Reader:         f,
			Parser:         p,
			Inserter:       ins,
			FromSeqno:      uint32(env.GetInt32("FROM_BLOCK", 1)),
			MaxActiveTasks: env.GetInt("MAX_ACTIVE_TASKS", 0),
			QueueCaps: core.QueueStatus{
				MCBlocks: env.GetInt("MAX_QUEUE_MC_BLOCKS", 0),
				Blocks:   env.GetInt("MAX_QUEUE_BLOCKS", 0),
				Txs:      env.GetInt("MAX_QUEUE_TXS", 0),
				Msgs:     env.GetInt("MAX_QUEUE_MSGS", 0),
			},
		})
		if err = i.Start(); err != nil {
			return err
		}

		c := make(chan os.Signal, 1)
		done := make(chan struct{}, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-c
			i.Stop()
			ins.Close()
			conn.Close()
			done <- struct{}{}
		}()

		<-done

		return nil
	},
}
