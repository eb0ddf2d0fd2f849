package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/slatehq/slate-server/internal/access"
	"github.com/slatehq/slate-server/internal/api"
	"github.com/slatehq/slate-server/internal/db"
	"github.com/slatehq/slate-server/internal/doc"
	"github.com/slatehq/slate-server/internal/docstore"
	"github.com/slatehq/slate-server/internal/persist"
	"github.com/slatehq/slate-server/internal/room"
	"github.com/slatehq/slate-server/internal/session"
	"github.com/slatehq/slate-server/internal/ws"
)

func main() {
	dbPath := os.Getenv("SLATE_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/slate.db"
	}

	database, err := db.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	docs := docstore.New(doc.NewEngine(), database)

	persister := persist.New(database, docs, persist.DefaultConfig())
	persister.Start()

	manager := room.NewManager()

	dispatcher := session.NewDispatcher(
		manager,
		access.NewResolver(database),
		docs,
		persister,
		database,
	)

	apiHandler := api.New(manager, docs, database)

	// WebSocket endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(dispatcher, w, r)
	})

	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)
	http.HandleFunc("/api/boards", apiHandler.BoardsRouter)
	http.HandleFunc("/api/boards/", apiHandler.BoardsRouter)

	// Apply CORS middleware
	handler := corsMiddleware(http.DefaultServeMux)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		persister.Stop()
		database.Close()
		os.Exit(0)
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("🪨 Slate server starting on :%s", port)
	log.Printf("📁 Database: %s", dbPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Boards:    GET/POST /api/boards")
	log.Println("  - Board:     GET/DELETE /api/boards/{id}")
	log.Println("  - Members:   POST /api/boards/{id}/members")

	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
