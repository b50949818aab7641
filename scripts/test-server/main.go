// Command test-server is a local target for exercising barrage's retry
// paths. It serves fixed statuses, a flaky endpoint and a JWT-style login.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	failRate := flag.Float64("fail-rate", 0.3, "probability that /flaky answers 503")
	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))

	var served atomic.Int64
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		fmt.Fprint(w, "healthy")
	})

	// /status/503 answers 503, and so on.
	mux.HandleFunc("/status/{code}", func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		code, err := strconv.Atoi(r.PathValue("code"))
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "bad status", http.StatusBadRequest)
			return
		}
		w.WriteHeader(code)
	})

	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		rate := *failRate
		if v, err := strconv.ParseFloat(r.URL.Query().Get("fail"), 64); err == nil {
			rate = v
		}
		if rand.Float64() < rate {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": uuid.NewString()})
	})

	// Accepts any non-empty credentials.
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		if r.ParseForm() != nil || r.PostForm.Get("username") == "" || r.PostForm.Get("password") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"token": uuid.NewString(), "expires_in": 300})
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		for range time.Tick(5 * time.Second) {
			log.Info("requests served", "total", served.Load())
		}
	}()

	log.Info("starting test server", "addr", *addr, "fail_rate", *failRate)
	if err := server.ListenAndServe(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
