// loadgen is a tiny, dependency-free HTTP load generator tailored for the
// rate filter demo. It reuses HTTP connections (keep-alive) and supports
// concurrency, and reports the observed admit/reject split so a caller can
// confirm that driving one identity past its configured rate actually
// gets it rejected.
//
// Usage example:
//
//	loadgen -base=http://127.0.0.1:8080 -n=5000 -c=16
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	var (
		base    = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host")
		path    = flag.String("path", "/", "Request path")
		n       = flag.Int("n", 5000, "Total requests to send")
		conc    = flag.Int("c", 16, "Number of concurrent workers, all sharing one source address so they land in one tracked identity")
		timeout = flag.Duration("timeout", 20*time.Second, "Overall timeout for the run")
	)
	flag.Parse()

	if *n <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 256,
		IdleConnTimeout:     30 * time.Second,
	}
	client := &http.Client{Transport: tr, Timeout: 10 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	url := *base + *path

	var admitted, rejected, failed int64
	start := time.Now()

	worker := func(count int) {
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				time.Sleep(200 * time.Microsecond)
				continue
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == 420 {
				atomic.AddInt64(&rejected, 1)
			} else {
				atomic.AddInt64(&admitted, 1)
			}
		}
	}

	per := *n / *conc
	rem := *n - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(count int) {
			defer wg.Done()
			worker(count)
		}(count)
	}
	wg.Wait()

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(*n) / elapsed.Seconds()
	fmt.Printf("LoadGen: N=%d c=%d go=%d duration=%s throughput=%.0f req/s admitted=%d rejected=%d failed=%d\n",
		*n, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond), ops, admitted, rejected, failed)

	if rejected == 0 {
		fmt.Fprintln(os.Stderr, "warning: no requests were rejected; the configured rate may be too generous for this load")
	}
}
