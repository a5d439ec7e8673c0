// Command node starts a vaccination-record chain node: it opens local
// storage, rebuilds or bootstraps the block tree, and wires together the
// creator-election scheduler, the peer transport, and the REST surface.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/Benedikt1992/blockchain-vaccination-records/api"
	"github.com/Benedikt1992/blockchain-vaccination-records/config"
	"github.com/Benedikt1992/blockchain-vaccination-records/consensus"
	"github.com/Benedikt1992/blockchain-vaccination-records/controller"
	"github.com/Benedikt1992/blockchain-vaccination-records/core"
	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
	"github.com/Benedikt1992/blockchain-vaccination-records/events"
	"github.com/Benedikt1992/blockchain-vaccination-records/indexer"
	"github.com/Benedikt1992/blockchain-vaccination-records/network"
	"github.com/Benedikt1992/blockchain-vaccination-records/storage"
	"github.com/Benedikt1992/blockchain-vaccination-records/wallet"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "", "path to this node's keystore file (defaults to <key_folder>/node.key)")
	genKey := flag.Bool("genkey", false, "generate a new node key and exit")
	nodeID := flag.String("id", "node0", "this node's P2P identifier")
	flag.Parse()

	password := os.Getenv("NODE_KEY_PASSWORD")
	if password == "" {
		log.Println("WARNING: NODE_KEY_PASSWORD not set, keystore will use an empty password")
	}
	if os.Getenv("CONFIRM_BLOCKSENDING") != "" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *keyPath == "" {
		*keyPath = cfg.KeyFolder + "/node.key"
	}

	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := os.MkdirAll(cfg.KeyFolder, 0755); err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key: %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	pubKey := privKey.Public()

	if err := os.MkdirAll(cfg.PersistanceFolder, 0755); err != nil {
		log.Fatalf("mkdir persistence dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.PersistanceFolder)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	blockStore := storage.NewLevelBlockStore(db)

	chain, err := core.LoadFromStore(blockStore, cfg.BlockTime(), cfg.BlockSize)
	if errors.Is(err, core.ErrNotFound) {
		genesisPriv, genesisErr := crypto.PrivKeyFromHex(cfg.Genesis.Admissions[0].PrivKeyHex)
		if genesisErr != nil {
			log.Fatalf("genesis creator key: %v", genesisErr)
		}
		genesisBlock, genesisErr := config.BuildGenesisBlock(cfg, genesisPriv)
		if genesisErr != nil {
			log.Fatalf("build genesis: %v", genesisErr)
		}
		chain, err = core.NewChain(blockStore, cfg.BlockTime(), cfg.BlockSize, genesisBlock)
		if err != nil {
			log.Fatalf("init chain: %v", err)
		}
		log.Printf("Genesis block committed: %s", genesisBlock.Hash)
	} else if err != nil {
		log.Fatalf("load chain: %v", err)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	_ = idx // exposed for a future query surface; kept alive by its event subscriptions

	mempool := core.NewMempool()

	listenPort := cfg.DefaultPort
	if p := os.Getenv("SERVER_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			listenPort = parsed
		}
	}
	listenAddr := fmt.Sprintf(":%d", listenPort)
	node := network.NewNode(*nodeID, listenAddr, nil) // receiver set below, after ctrl exists

	ctrl := controller.New(chain, mempool, emitter, node, privKey, pubKey)
	node.Handle(network.MsgBlock, func(_ *network.Peer, msg network.Message) { ctrl.ReceiveBlock(msg.Payload) })
	node.Handle(network.MsgTransaction, func(_ *network.Peer, msg network.Message) { ctrl.ReceiveTransaction(msg.Payload) })
	node.Handle(network.MsgJudgement, func(_ *network.Peer, msg network.Message) { ctrl.ReceiveJudgement(msg.Payload) })
	node.Handle(network.MsgSyncRequest, func(peer *network.Peer, msg network.Message) { ctrl.ReceiveSyncRequest(peer.ID, msg.Payload) })

	if err := node.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer node.Stop()
	log.Printf("P2P listening on %s", listenAddr)

	if neighbors := os.Getenv("NEIGHBORS_HOST_PORT"); neighbors != "" {
		for _, hp := range splitNeighbors(neighbors) {
			if err := node.AddPeer(hp, hp); err != nil {
				log.Printf("neighbor %s: %v", hp, err)
				continue
			}
			log.Printf("Connected to neighbor %s", hp)
		}
		if err := ctrl.Synchronize(); err != nil {
			log.Printf("initial sync: %v", err)
		}
	}

	if os.Getenv("REGISTER_AS_ADMISSION") != "" {
		if err := ctrl.RegisterSelfAsAdmission(); err != nil {
			log.Printf("register self as admission: %v", err)
		}
	}

	restAddr := ":8080"
	if rp := os.Getenv("API_PORT"); rp != "" {
		restAddr = ":" + rp
	}
	restServer := api.NewServer(restAddr, ctrl)
	if err := restServer.Start(); err != nil {
		log.Fatalf("api start: %v", err)
	}
	defer restServer.Stop()
	log.Printf("REST API listening on %s", restAddr)

	scheduler := consensus.New(chain, mempool, privKey, pubKey, ctrl)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(done)
	}()
	log.Printf("Election scheduler running (identity: %s)", pubKey.Hex())

	if os.Getenv("START_CLI") != "" {
		go runREPL(ctrl, scheduler, privKey, pubKey)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	close(done)
	wg.Wait()
	log.Println("Shutdown complete.")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func splitNeighbors(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
