package server

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"path"
	"strings"
	"time"
)

const recoveryPage = `<!DOCTYPE html>
<html>
<head>
    <title>J.A.R.V.I.S. Recovery</title>
    <style>
        body { background: #020617; color: #22d3ee; font-family: 'Courier New', monospace; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; text-align: center; }
        .box { border: 1px solid #22d3ee; padding: 40px; border-radius: 10px; background: rgba(34, 211, 238, 0.05); }
        h1 { letter-spacing: 5px; }
        p { opacity: 0.7; max-width: 500px; line-height: 1.6; }
        a { color: #22d3ee; }
    </style>
</head>
<body>
    <div class="box">
        <h1>SYSTEM_INITIALIZING</h1>
        <p>The holographic interface has not been built yet. The API and voice systems are online.</p>
        <a href="javascript:location.reload()">RETRY_CONNECTION</a>
    </div>
</body>
</html>
`

func Handler(staticFS fs.FS, hub *Hub, deps Deps) (http.Handler, error) {
	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerAPIRoutes(mux, hub, deps)

	built := uiBuilt(staticFS)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		voice := "offline"
		if deps.Voice != nil {
			voice = deps.Voice.State().Phase.String()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "online",
			"system":       "J.A.R.V.I.S.",
			"voice":        voice,
			"build_exists": built,
		})
	})

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	if built {
		fileServer := http.FileServer(http.FS(staticFS))
		mux.HandleFunc("/", serveSPA(fileServer))
	} else {
		mux.HandleFunc("/", serveRecovery)
	}

	return mux, nil
}

// Serve runs the HTTP server until ctx is cancelled, then drains it.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web UI at http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func uiBuilt(staticFS fs.FS) bool {
	if staticFS == nil {
		return false
	}
	info, err := fs.Stat(staticFS, "index.html")
	return err == nil && !info.IsDir()
}

func serveRecovery(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(recoveryPage))
}

func serveSPA(fileServer http.Handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		if r.URL.Path == "/manifest.json" || r.URL.Path == "/manifest.webmanifest" {
			w.Header().Set("Content-Type", "application/manifest+json")
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" {
			r.URL.Path = "/"
		} else if !strings.Contains(cleanPath, ".") {
			r.URL.Path = "/index.html"
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
