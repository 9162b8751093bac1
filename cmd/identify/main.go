package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	_ "net/http/pprof" // profiling

	"identify/internal/identify/cmd"
	"identify/internal/identify/log"
)

const defaultProfileAddr = "localhost:6060"

func main() {
	defer log.RecoverPanic("main", func() {
		slog.Error("identify terminated by an unhandled panic")
		os.Exit(2)
	})

	if addr := profileAddr(os.Getenv("IDENTIFY_PROFILE")); addr != "" {
		go func() {
			slog.Info("Serving pprof", "addr", addr)
			if httpErr := http.ListenAndServe(addr, nil); httpErr != nil {
				slog.Error("Failed to pprof listen", "addr", addr, "error", httpErr)
			}
		}()
	}

	os.Exit(cmd.Execute())
}

// profileAddr maps IDENTIFY_PROFILE to the pprof listen address. Unset, "0"
// and "false" disable profiling; a value holding a port is used as given;
// anything else selects defaultProfileAddr.
func profileAddr(v string) string {
	switch v = strings.TrimSpace(v); {
	case v == "", v == "0", strings.EqualFold(v, "false"):
		return ""
	case strings.Contains(v, ":"):
		return v
	default:
		return defaultProfileAddr
	}
}
