package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kunal/batch-runner/pkg/runner"
	"github.com/kunal/batch-runner/pkg/worker"
)

func main() {
	addr := flag.String("addr", "localhost:50052", "Worker address")
	concurrency := flag.Int("concurrency", 50, "Number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	batchPct := flag.Int("batch-pct", 20, "Percentage of calls sent through InferBatch")
	batchSize := flag.Int("batch-size", 8, "Items per InferBatch call")
	flag.Parse()

	log.Printf("🚀 Load test starting: addr=%s, concurrency=%d, duration=%v", *addr, *concurrency, *duration)

	client, err := worker.Dial(*addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	var (
		totalRequests atomic.Int64
		totalErrors   atomic.Int64
		mu            sync.Mutex
		latencies     []time.Duration
		workerDist    = make(map[string]int)
		entryDist     = make(map[string]int)
	)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < *concurrency; i++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
			for gctx.Err() == nil {
				entry := "single"
				var (
					reply *worker.Reply
					err   error
				)
				reqStart := time.Now()
				if rng.Intn(100) < *batchPct {
					entry = "batch"
					items := make([]any, *batchSize)
					for j := range items {
						items[j] = rng.Float64() * 10
					}
					reply, err = client.InferBatch(gctx, runner.Args(items))
				} else {
					reply, err = client.Infer(gctx, runner.Args(rng.Float64()*10))
				}

				if err != nil {
					if gctx.Err() == nil {
						totalErrors.Add(1)
					}
					continue
				}

				elapsed := time.Since(reqStart)
				totalRequests.Add(1)

				mu.Lock()
				latencies = append(latencies, elapsed)
				workerDist[reply.WorkerID]++
				entryDist[entry]++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("load test aborted: %v", err)
	}
	elapsed := time.Since(start)

	// Calculate percentiles
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	total := totalRequests.Load()
	failed := totalErrors.Load()
	throughput := float64(total) / elapsed.Seconds()

	fmt.Println("\n" + "═══════════════════════════════════════════════════")
	fmt.Println("   🏁 LOAD TEST RESULTS")
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Printf("   Duration:      %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("   Concurrency:   %d\n", *concurrency)
	fmt.Printf("   Total Reqs:    %d\n", total)
	if total+failed > 0 {
		fmt.Printf("   Errors:        %d (%.1f%%)\n", failed, float64(failed)/float64(total+failed)*100)
	}
	fmt.Printf("   Throughput:    %.1f req/sec\n", throughput)
	fmt.Println()

	if len(latencies) > 0 {
		fmt.Println("   📊 Latency Percentiles:")
		fmt.Printf("      p50:  %v\n", latencies[len(latencies)*50/100])
		fmt.Printf("      p95:  %v\n", latencies[len(latencies)*95/100])
		fmt.Printf("      p99:  %v\n", latencies[len(latencies)*99/100])
		fmt.Printf("      max:  %v\n", latencies[len(latencies)-1])
	}

	if total > 0 {
		fmt.Println()
		fmt.Println("   🎯 Entry Point Distribution:")
		for entry, count := range entryDist {
			pct := float64(count) / float64(total) * 100
			fmt.Printf("      %s: %d (%.1f%%)\n", entry, count, pct)
		}
		fmt.Println()
		fmt.Println("   🖥️  Workers:")
		for id, count := range workerDist {
			fmt.Printf("      %s: %d\n", id, count)
		}
	}

	mctx, mcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer mcancel()
	if m, err := client.Metrics(mctx); err == nil {
		fmt.Println()
		fmt.Println("   ⚙️  Runner:")
		fmt.Printf("      %v (%v) state=%v avg_latency_ms=%v\n", m["runner"], m["kind"], m["state"], m["avg_latency_ms"])
	}
	fmt.Println("═══════════════════════════════════════════════════")
}
