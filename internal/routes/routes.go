package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/merchkit/syncbridge/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(
	src *handlers.SourceHandler,
	tgt *handlers.TargetHandler,
	mapping *handlers.MappingHandler,
	worker *handlers.WorkerHandler,
	migration *handlers.MigrationHandler,
	notif *handlers.NotificationHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Source store introspection
	router.HandleFunc("/api/source/test", src.TestConnection).Methods(http.MethodPost)
	router.HandleFunc("/api/source/schemas", src.ListSchemas).Methods(http.MethodGet)
	router.HandleFunc("/api/source/schemas/{schema}/tables/{table}/columns", src.ListColumns).Methods(http.MethodGet)
	router.HandleFunc("/api/source/schemas/{schema}/tables/{table}/preview", src.Preview).Methods(http.MethodGet)

	// Target store introspection
	router.HandleFunc("/api/target/tables", tgt.ListTables).Methods(http.MethodGet)
	router.HandleFunc("/api/target/tables/{schema}/{table}/schema", tgt.GetTableSchema).Methods(http.MethodGet)
	router.HandleFunc("/api/target/tables/{schema}/{table}/sample", tgt.Sample).Methods(http.MethodGet)

	// Column mapping preview
	router.HandleFunc("/api/mapping/preview", mapping.Preview).Methods(http.MethodPost)

	// Sync workers
	router.HandleFunc("/api/workers", worker.Upsert).Methods(http.MethodPost)
	router.HandleFunc("/api/workers", worker.List).Methods(http.MethodGet)
	router.HandleFunc("/api/workers/{id}", worker.Get).Methods(http.MethodGet)
	router.HandleFunc("/api/workers/{id}/run", worker.Run).Methods(http.MethodPost)
	router.HandleFunc("/api/workers/{id}/enabled", worker.SetEnabled).Methods(http.MethodPost)
	router.HandleFunc("/api/workers/{id}/interval", worker.SetInterval).Methods(http.MethodPost)
	router.HandleFunc("/api/workers/{id}/notifications", worker.SetNotifications).Methods(http.MethodPost)

	// Migration jobs
	router.HandleFunc("/api/migrations", migration.Start).Methods(http.MethodPost)
	router.HandleFunc("/api/migrations", migration.List).Methods(http.MethodGet)
	router.HandleFunc("/api/migrations/{id}", migration.GetStatus).Methods(http.MethodGet)

	// Notifications
	router.HandleFunc("/api/notifications", notif.ListRecent).Methods(http.MethodGet)
	router.HandleFunc("/api/notifications/{id}/read", notif.MarkRead).Methods(http.MethodPost)

	return router
}
