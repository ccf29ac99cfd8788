// Package web serves a small JSON status API for checking the display from a
// phone or laptop on the same network.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"stratux-hud/internal/traffic"
)

type trafficEntry struct {
	ID          string   `json:"id"`
	Tail        string   `json:"tail,omitempty"`
	Source      string   `json:"source,omitempty"`
	LatDeg      *float64 `json:"lat_deg,omitempty"`
	LonDeg      *float64 `json:"lon_deg,omitempty"`
	AltFeet     *float64 `json:"alt_feet,omitempty"`
	HeadingDeg  *float64 `json:"heading_deg,omitempty"`
	GroundKt    *float64 `json:"ground_kt,omitempty"`
	VvelFpm     *float64 `json:"vvel_fpm,omitempty"`
	SeenUTC     string   `json:"seen_utc"`
	ReportedUTC string   `json:"reported_utc,omitempty"`
}

func toEntry(r traffic.Record) trafficEntry {
	e := trafficEntry{ID: r.ID, Tail: r.Tail, Source: string(r.Source), SeenUTC: r.SeenAt.UTC().Format(time.RFC3339Nano)}
	if !r.ReportedAt.IsZero() {
		e.ReportedUTC = r.ReportedAt.UTC().Format(time.RFC3339Nano)
	}
	if r.HasPosition {
		e.LatDeg, e.LonDeg = ptr(r.LatDeg), ptr(r.LonDeg)
	}
	if v, ok := r.Altitude(); ok {
		e.AltFeet = ptr(v)
	}
	if v, ok := r.Heading(); ok {
		e.HeadingDeg = ptr(v)
	}
	if v, ok := r.GroundSpeed(); ok {
		e.GroundKt = ptr(v)
	}
	if v, ok := r.VerticalSpeed(); ok {
		e.VvelFpm = ptr(v)
	}
	return e
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func Handler(status *Status) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/traffic", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		recs := status.Manager.Snapshot()
		out := make([]trafficEntry, 0, len(recs))
		for _, rec := range recs {
			out = append(out, toEntry(rec))
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/api/traffic/clear", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		writeJSON(w, map[string]int{"removed": status.Manager.Clear()})
	})

	mux.HandleFunc("/api/ahrs/level", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if status.Provider == nil {
			http.Error(w, "ahrs unavailable", http.StatusNotFound)
			return
		}
		if err := status.Provider.SetLevel(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	})

	return mux
}

// Serve runs the status API on listenAddr until ctx is done.
func Serve(ctx context.Context, listenAddr string, status *Status) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(status),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
