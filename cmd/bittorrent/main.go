// Command bittorrent downloads a single torrent to a local file over the
// BitTorrent peer wire protocol and a UDP tracker, with no DHT, no resume
// support, and no multi-torrent session (spec.md §1).
//
// Grounded on mccartykim-wong's demos/bittorrent/main.go (argument parsing,
// exit on SIGINT/SIGTERM) adapted to spec.md §6's
// positional-argument CLI surface, and on schollz/progressbar/v3 for the
// per-piece progress display.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/derinil/bittorrent/internal/config"
	"github.com/derinil/bittorrent/internal/listener"
	"github.com/derinil/bittorrent/internal/logger"
	"github.com/derinil/bittorrent/internal/metainfo"
	"github.com/derinil/bittorrent/internal/peer"
	"github.com/derinil/bittorrent/internal/pool"
	"github.com/derinil/bittorrent/internal/storage"
	"github.com/derinil/bittorrent/internal/tracker"
	"github.com/schollz/progressbar/v3"
)

func main() {
	os.Exit(run())
}

// run implements the CLI surface of spec.md §6: positional
// <torrent_file> <output_file>, exit 0 on completion, non-zero on any
// fatal initialization error.
func run() int {
	log := logger.New("main")

	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: bittorrent <torrent_file> <output_file>")
		return 1
	}
	torrentPath, outputPath := os.Args[1], os.Args[2]

	cfg, err := config.Load("bittorrent.yaml")
	if err != nil {
		log.WithError(err).Errorln("load config")
		return 1
	}

	tor, err := parseTorrentFile(torrentPath)
	if err != nil {
		log.WithError(err).Errorln("parse torrent file")
		return 1
	}

	out, err := storage.Create(outputPath, tor.TotalLength)
	if err != nil {
		log.WithError(err).Errorln("create output file")
		return 1
	}
	defer out.Close()

	ln, err := listener.New(fmt.Sprintf(":%d", cfg.ListenPort), logger.New("listener"))
	if err != nil {
		log.WithError(err).Errorln("bind listener")
		return 1
	}
	defer ln.Close()

	peerID := tracker.NewPeerID()
	pl := pool.New(cfg, tor, out, ln, peerID)

	trackerClient, err := tracker.NewClient(cfg.UDPAnnounceTimeout, cfg.UDPAnnounceBackoffBase, cfg.UDPAnnounceRetries, cfg.UDPConnectionIDTTL)
	if err != nil {
		log.WithError(err).Errorln("create tracker client")
		return 1
	}
	defer trackerClient.Close()

	peers, err := trackerClient.AnnounceAny(tor.AnnounceURLs, tracker.Torrent{
		InfoHash:  tor.InfoHash,
		PeerID:    peerID,
		Port:      int(cfg.ListenPort),
		BytesLeft: tor.TotalLength,
	})
	if err != nil {
		log.WithError(err).Errorln("announce")
		return 1
	}
	if len(peers) == 0 {
		log.Errorln("tracker returned no peers")
		return 1
	}
	pl.Seed(toEndpoints(peers))

	bar := progressbar.NewOptions(tor.PieceCount(),
		progressbar.OptionSetDescription(tor.Name),
		progressbar.OptionShowCount(),
	)
	pl.Progress = func(event string) { log.Infoln(event) }
	pl.OnPieceComplete = func(index int) { _ = bar.Add(1) }

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigC
		log.Infoln("shutting down")
		os.Exit(130)
	}()

	go ln.Run()
	pl.Run()
	fmt.Println()
	return 0
}

func parseTorrentFile(path string) (*metainfo.Torrent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return metainfo.Parse(f)
}

func toEndpoints(peers []tracker.Peer) []peer.Endpoint {
	out := make([]peer.Endpoint, len(peers))
	for i, p := range peers {
		out[i] = peer.Endpoint{IP: p.IP, Port: p.Port}
	}
	return out
}
