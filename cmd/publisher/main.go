package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aevon-lab/event-aggregator/internal/logging"
	"github.com/aevon-lab/event-aggregator/internal/publisher"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Path to a YAML scenario file (optional)")
	target := flag.String("target", "", "Aggregator base URL (overrides scenario and AGGREGATOR_URL)")
	total := flag.Int("events", 0, "Total events to send (overrides scenario)")
	dupRate := flag.Float64("duplicate-rate", -1, "Fraction of events that repeat earlier ones (overrides scenario)")
	batchSize := flag.Int("batch-size", 0, "Events per batch (overrides scenario)")
	concurrency := flag.Int("concurrency", 0, "Concurrent batch senders (overrides scenario)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	slog.SetDefault(logging.New(os.Stdout, *logLevel, "text"))

	sc := publisher.DefaultScenario()
	if *scenarioPath != "" {
		loaded, err := publisher.LoadScenario(*scenarioPath)
		if err != nil {
			slog.Error("Failed to load scenario", "error", err)
			os.Exit(1)
		}
		sc = loaded
	}

	if url := os.Getenv("AGGREGATOR_URL"); url != "" {
		sc.TargetURL = url
	}
	if *target != "" {
		sc.TargetURL = *target
	}
	if *total > 0 {
		sc.TotalEvents = *total
	}
	if *dupRate >= 0 {
		sc.DuplicateRate = *dupRate
	}
	if *batchSize > 0 {
		sc.BatchSize = *batchSize
	}
	if *concurrency > 0 {
		sc.Concurrency = *concurrency
	}
	if err := sc.Validate(); err != nil {
		slog.Error("Invalid scenario", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := publisher.New(sc, publisher.NewClient(sc.TargetURL, 30*time.Second))
	report, err := p.Run(ctx)
	if err != nil {
		slog.Error("Publisher stopped with error", "error", err)
		os.Exit(1)
	}

	printReport(report)
}

func printReport(r *publisher.Report) {
	fmt.Printf("Events sent:        %d\n", r.Sent)
	fmt.Printf("Duplicates sent:    %d\n", r.Duplicates)
	fmt.Printf("Batches:            %d (%d failed)\n", r.Batches, r.FailedBatches)
	fmt.Printf("Elapsed:            %s (%.1f events/sec)\n", r.Elapsed.Round(time.Millisecond), r.EventsPerSecond)

	if r.Final == nil {
		return
	}
	fmt.Println("Final aggregator statistics:")
	fmt.Printf("  Received:           %d\n", r.Final.ReceivedCount)
	fmt.Printf("  Unique processed:   %d\n", r.Final.UniqueProcessedCount)
	fmt.Printf("  Duplicates dropped: %d\n", r.Final.DuplicateDroppedCount)
	fmt.Printf("  Duplicate ratio:    %s\n", r.Final.DuplicateRatio)
	fmt.Printf("  Topics:             %d\n", r.Final.TopicsCount)
	fmt.Printf("  Queue length:       %d\n", r.Final.QueueLength)
}
