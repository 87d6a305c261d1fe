// Command sse_load opens many concurrent connections to the live-metrics SSE
// stream and reports connect errors and event throughput. Used to size the
// poll interval and proxy keep-alive settings.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	liveEvents  atomic.Int64
}

func main() {
	var (
		targetURL string
		token     string
		conns     int
		duration  time.Duration
		rampUp    time.Duration
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8080/live/stream", "SSE endpoint URL")
	flag.StringVar(&token, "token", "", "bearer token, matches the server auth_token")
	flag.IntVar(&conns, "conns", 500, "concurrent connections")
	flag.DurationVar(&duration, "dur", time.Minute, "test duration, 0 runs until interrupted")
	flag.DurationVar(&rampUp, "ramp", 0, "spread connection starts across this window")
	flag.Parse()

	if conns <= 0 {
		log.Fatalf("invalid conns: %d", conns)
	}
	if rampUp == 0 && conns > 100 {
		rampUp = time.Duration(conns/500+1) * time.Second
		log.Printf("using default ramp-up %s", rampUp)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if duration > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, duration)
		defer timeoutCancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     conns + 100,
			MaxIdleConnsPerHost: conns + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	log.Printf("starting: url=%s conns=%d dur=%s ramp=%s", targetURL, conns, duration, rampUp)

	var stats counters
	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(conns)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			stream(ctx, client, targetURL, token, &stats)
		}()
	}

	go report(ctx, &stats, start)

	wg.Wait()

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d live_events=%d elapsed=%s events/s=%.2f\n",
		stats.connected.Load(), stats.connectErrs.Load(), stats.streamErrs.Load(),
		stats.liveEvents.Load(), elapsed.Truncate(time.Millisecond),
		float64(stats.liveEvents.Load())/elapsed.Seconds())
}

// stream holds one SSE connection open until the context ends, counting
// received live events. Heartbeat comments are ignored.
func stream(ctx context.Context, client *http.Client, url, token string, stats *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		stats.connectErrs.Add(1)
		return
	}
	stats.connected.Add(1)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				stats.streamErrs.Add(1)
			}
			return
		}
		if strings.HasPrefix(line, "event: live") {
			stats.liveEvents.Add(1)
		}
	}
}

func report(ctx context.Context, stats *counters, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("status: connected=%d connect_errs=%d stream_errs=%d live_events=%d elapsed=%s",
				stats.connected.Load(), stats.connectErrs.Load(), stats.streamErrs.Load(),
				stats.liveEvents.Load(), time.Since(start).Truncate(time.Second))
		}
	}
}
