package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/channel"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/store"
)

func main() {
	var dbPath string
	var runPrefix string
	var outDir string
	var listRuns bool

	flag.StringVar(&dbPath, "db", "sebt.db", "path to sqlite journal")
	flag.StringVar(&runPrefix, "run", "", "run id (or unique prefix); latest run when empty")
	flag.StringVar(&outDir, "out", "report", "output directory")
	flag.BoolVar(&listRuns, "list", false, "list journalled runs and exit")
	flag.Parse()

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer st.Close()

	runs, err := st.Runs()
	if err != nil {
		log.Fatalf("list runs: %v", err)
	}

	if listRuns {
		for _, r := range runs {
			fmt.Printf("%s  %s  %s %s\n", r.RunID, r.StartedAt.Format(time.RFC3339), r.Source, r.Device)
		}
		return
	}

	run, err := resolveRun(runs, runPrefix)
	if err != nil {
		log.Fatalf("%v", err)
	}

	frames, err := st.FramesForRun(run.RunID)
	if err != nil {
		log.Fatalf("read frames: %v", err)
	}
	evs, err := st.EventsForRun(run.RunID)
	if err != nil {
		log.Fatalf("read events: %v", err)
	}

	fmt.Printf("run %s: %d frames, %d events, %d/%d channels completed\n",
		run.RunID, len(frames), len(evs), len(completionValues(evs)), channel.Count)

	written, err := writeReport(run, frames, evs, outDir)
	if err != nil {
		log.Fatalf("report failed: %v", err)
	}
	for _, path := range written {
		fmt.Printf("wrote %s\n", path)
	}
	fmt.Println("report complete")
}

// resolveRun picks the run to report on: the newest when prefix is empty,
// otherwise the first run whose id starts with prefix.
func resolveRun(runs []store.Run, prefix string) (store.Run, error) {
	if len(runs) == 0 {
		return store.Run{}, errors.New("journal has no runs")
	}
	if prefix == "" {
		return runs[0], nil
	}
	for _, r := range runs {
		if strings.HasPrefix(r.RunID, prefix) {
			return r, nil
		}
	}
	return store.Run{}, fmt.Errorf("no run matches %q", prefix)
}
