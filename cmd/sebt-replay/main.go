package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/replay"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/store"
)

func main() {
	var pcapPath string
	var dbPath string
	var port int

	flag.StringVar(&pcapPath, "pcap", "", "path to captured relay session")
	flag.StringVar(&dbPath, "db", "sebt.db", "path to sqlite journal")
	flag.IntVar(&port, "port", 0, "bridge tcp port; only payloads it sent are replayed (0 keeps both directions)")
	flag.Parse()

	if pcapPath == "" {
		log.Fatalf("pcap must be provided")
	}

	st, err := store.OpenAndMigrate(dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	src, err := replay.OpenPcap(pcapPath, port)
	if err != nil {
		log.Fatalf("open capture: %v", err)
	}
	defer src.Close()

	device := "replay:" + filepath.Base(pcapPath)
	run, err := st.StartRun(time.Now(), device, "replay")
	if err != nil {
		log.Fatalf("start run: %v", err)
	}

	fmt.Printf("replaying %s into run %s\n", pcapPath, run.RunID)
	stats, err := replay.Run(context.Background(), src, st, device)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	fmt.Printf("replayed %d packets (%d bytes), journalled %d frames\n", stats.Packets, stats.Bytes, stats.Frames)
	fmt.Println("replay complete")
}
