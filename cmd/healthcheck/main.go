package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ericfisherdev/docanalyst/internal/config"
)

func main() {
	os.Exit(check(os.Getenv("DOCANALYST_LISTEN_ADDR")))
}

// check probes the health endpoint and returns the process exit code.
func check(listenAddr string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/v1/health", probeAddr(listenAddr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 1
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		return 1
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintln(os.Stderr, "healthcheck: status", resp.StatusCode)
		return 1
	}
	return 0
}

// probeAddr turns a listen address into one the probe can dial: wildcard
// hosts become loopback, and anything unparseable falls back to the default.
func probeAddr(listenAddr string) string {
	if listenAddr == "" {
		return config.DefaultListenAddr
	}

	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil || port == "" {
		return config.DefaultListenAddr
	}

	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return net.JoinHostPort(host, port)
}
