package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/assocops/memberbridge/internal/api"
	"github.com/assocops/memberbridge/internal/auth"
	"github.com/assocops/memberbridge/internal/db"
	"github.com/assocops/memberbridge/internal/middleware"
	"github.com/assocops/memberbridge/internal/services"
	"github.com/assocops/memberbridge/internal/utils"
)

func main() {
	addr := utils.SafeEnv("MB_ADDR", ":8080")
	dbPath := utils.SafeEnv("MB_DB_PATH", "data/memberbridge.db")
	baseURL := strings.TrimRight(utils.SafeEnv("MB_BASE_URL", "http://localhost:8080"), "/")
	commit := os.Getenv("MB_COMMIT")
	buildTime := os.Getenv("MB_BUILD_TIME")

	jwtSecret := os.Getenv("MB_JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("MB_JWT_SECRET is required")
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create data dir: %v", err)
		}
	}
	sqlDB, err := sql.Open("sqlite3", "file:"+dbPath+"?cache=shared&_busy_timeout=5000")
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = sqlDB.Close() }()
	if err := db.RunMigrations(sqlDB, os.Getenv("MB_MIGRATIONS_DIR")); err != nil {
		log.Fatalf("run migrations: %v", err)
	}
	store, err := db.NewSQLiteStore(sqlDB)
	if err != nil {
		log.Fatalf("init store: %v", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	crm := services.NewHTTPCRMClient(utils.SafeEnv("MB_CRM_BASE", "https://api.hubapi.com"), os.Getenv("MB_CRM_TOKEN"), httpClient)

	// Auth runs in-process unless an external provider base URL is set; the
	// magic-link exchange endpoint only exists in the in-process case.
	var provider services.AuthProvider
	var exchanger api.MagicLinkExchanger
	if authBase := os.Getenv("MB_AUTH_BASE"); authBase != "" {
		provider = auth.NewHTTPProvider(authBase, os.Getenv("MB_AUTH_TOKEN"), httpClient)
	} else {
		local := auth.NewLocalProvider(store, []byte(jwtSecret), baseURL)
		provider = local
		exchanger = local
	}

	reconcile := services.NewReconcileService(store, crm, provider)
	view := services.NewMembershipViewService(store, provider)
	surveys := services.NewSurveyResponseService(store, reconcile)

	mux := http.NewServeMux()
	api.NewRouter(reconcile, view, surveys, provider, exchanger).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "MemberBridge API",
			"commit":     commit,
			"build_time": buildTime,
		})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	origins := strings.Split(utils.SafeEnv("MB_ALLOWED_ORIGINS", "http://localhost:5173"), ",")
	handler := middleware.CORS(origins, middleware.SecureHeaders(middleware.NoStore(mux)))

	log.Printf("MemberBridge server listening on %s (db=%s)", addr, dbPath)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
