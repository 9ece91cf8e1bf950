package main

import (
	"fmt"
	"log"
	"time"

	"consentchain/api/server"
	"consentchain/core/audit"
	"consentchain/core/config"
	"consentchain/core/ledger"
	"consentchain/core/projection"
	"consentchain/core/query"
	"consentchain/core/registry"
	"consentchain/core/storage"
)

func main() {
	fmt.Println("Starting consentchain node")

	cfg := config.Load()

	// === Storage ===
	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		log.Fatalf("[STARTUP] failed to open storage at %s: %v", cfg.DBPath, err)
	}
	defer store.Close()

	// === Event log (recovers last position from the seq key) ===
	eventLog, err := ledger.OpenEventLog(store)
	if err != nil {
		log.Fatalf("[STARTUP] failed to open event log: %v", err)
	}
	fmt.Printf("[STARTUP] event log recovered at position %d\n", eventLog.LastPosition())

	// === Core wiring ===
	reg := registry.New(store)
	auditLogger := audit.NewStdoutAuditLogger()
	led := ledger.New(store, reg, eventLog, cfg, auditLogger)
	engine := projection.NewEngine(store, eventLog, cfg.ProjectionBatch)
	qry := query.New(engine, eventLog, reg, cfg)

	// === Projection scheduler ===
	// One ticker drives every category; a tick that finds another tick
	// still running just skips the slot.
	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for range ticker.C {
			for _, cat := range ledger.Categories {
				result, err := engine.Tick(cat)
				if err == projection.ErrTickInProgress {
					continue
				}
				if err != nil {
					log.Printf("[PROJECTION] tick %s failed: %v", cat, err)
					continue
				}
				if result.Processed > 0 {
					log.Printf("[PROJECTION] %s processed %d events, cursor now %d", cat, result.Processed, result.Cursor)
				}
			}
		}
	}()

	// === API Server ===
	apiServer := server.NewServer(led, qry, engine, cfg)
	if err := apiServer.Start(); err != nil {
		log.Fatalf("[STARTUP] API server failed: %v", err)
	}
}
