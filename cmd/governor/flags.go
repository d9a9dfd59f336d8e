package main

import (
	"fmt"
	"io"
)

func printUsage(w io.Writer) {
	if w == nil {
		return
	}
	fmt.Fprintln(w, "Usage")
	fmt.Fprintln(w, "  governor [print_config] [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Flags")
	fmt.Fprintln(w, "  config string config file path")
	fmt.Fprintln(w, "  enable_http bool enable http")
	fmt.Fprintln(w, "  http_addr string http address")
	fmt.Fprintln(w, "  enable_auth bool enable auth")
	fmt.Fprintln(w, "  admin_token string admin token")
	fmt.Fprintln(w, "  redis_addr string redis address")
	fmt.Fprintln(w, "  upstream_url string upstream base url")
	fmt.Fprintln(w, "  upstream_key string upstream api key")
	fmt.Fprintln(w, "  upstream_retries int upstream retry count")
	fmt.Fprintln(w, "  bucket_capacity int token bucket capacity")
	fmt.Fprintln(w, "  refill_per_minute float token refill per minute")
	fmt.Fprintln(w, "  acquire_max_wait_ms int acquire max wait ms")
	fmt.Fprintln(w, "  breaker_failure_threshold int breaker failure threshold")
	fmt.Fprintln(w, "  breaker_cooldown_ms int breaker cooldown ms")
}
