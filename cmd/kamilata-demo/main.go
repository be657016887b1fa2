// Command kamilata-demo runs a single Kamilata node backed by an in-memory
// store, optionally seeding it with documents and dialing a peer to join
// its mesh.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/multiformats/go-multihash"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kamilata/kamilata"
	"github.com/kamilata/kamilata/internal/hostutil"
	"github.com/kamilata/kamilata/internal/memstore"
)

type seedDocument struct {
	Words   []string `json:"words"`
	Payload string   `json:"payload"`
}

func main() {
	app := &cli.App{
		Name:  "kamilata-demo",
		Usage: "run a Kamilata gossip-search node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "identity", Value: "kamilata_identity.json", Usage: "path to persist this node's key pair"},
			&cli.StringSliceFlag{Name: "listen", Value: cli.NewStringSlice("/ip4/0.0.0.0/tcp/0"), Usage: "libp2p listen addresses"},
			&cli.StringFlag{Name: "docs", Usage: "path to a JSON file of seed documents"},
			&cli.StringFlag{Name: "dial", Usage: "multiaddr of a peer to connect to on startup"},
			&cli.StringFlag{Name: "search", Usage: "free text to search for once connected"},
			&cli.IntFlag{Name: "filter-bytes", Value: 256, Usage: "byte length of this node's bit filters"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "kamilata-demo:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log, err := newLogger(c.Bool("debug"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)
	sugar := log.Sugar()

	store := memstore.New(uint(c.Int("filter-bytes")))
	if path := c.String("docs"); path != "" {
		if err := seedDocuments(store, path); err != nil {
			return fmt.Errorf("seed documents: %w", err)
		}
		sugar.Infow("seeded documents", "count", store.Len())
	}

	h, err := hostutil.NewHost(c.String("identity"), c.StringSlice("listen")...)
	if err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	defer h.Close()

	db := kamilata.NewDatabase(kamilata.DefaultKamilataConfig(), store)
	b := kamilata.NewBehaviour(h, db)
	b.Start()
	defer b.Close()

	for _, addr := range h.Addrs() {
		sugar.Infow("listening", "addr", fmt.Sprintf("%s/p2p/%s", addr, h.ID()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dial := c.String("dial"); dial != "" {
		if err := dialPeer(ctx, b, dial); err != nil {
			return fmt.Errorf("dial peer: %w", err)
		}
	}

	if text := c.String("search"); text != "" {
		runSearch(ctx, b, text, sugar)
	}

	<-ctx.Done()
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func seedDocuments(store *memstore.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var docs []seedDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	for _, d := range docs {
		sum, err := multihash.Sum([]byte(d.Payload), multihash.SHA2_256, -1)
		if err != nil {
			return fmt.Errorf("hash document: %w", err)
		}
		id := cid.NewCidV1(cid.Raw, sum)
		store.AddDocument(id, d.Words, []byte(d.Payload))
	}
	return nil
}

func dialPeer(ctx context.Context, b *kamilata.Behaviour, addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("parse multiaddr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("parse peer address: %w", err)
	}
	return b.Controller().DialPeer(ctx, info.ID, info.Addrs)
}

func runSearch(ctx context.Context, b *kamilata.Behaviour, text string, log *zap.SugaredLogger) {
	queries := kamilata.QueriesFromText(text)
	cfg := kamilata.DefaultSearchConfig()
	handle := b.Search(ctx, queries, cfg)

	searchCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	for {
		result, ok := handle.Recv(searchCtx)
		if !ok {
			log.Infow("search finished", "queriedPeers", len(handle.QueriedPeers()))
			return
		}
		log.Infow("search match", "cid", result.Cid().String())
	}
}
