package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/velocity.planner/internal/monitoring"
)

// AttachAdminRoutes mounts the SQL console and the backup download under
// /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://planner.db", db.DB, &tailsql.DBOptions{
		Label: "Planner DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "planner-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			monitoring.Logf("db: failed to remove backup dir: %v", err)
		}
	}()

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		monitoring.Logf("db: failed to stream backup: %v", err)
	}
}
