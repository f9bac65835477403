package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "test")

	rr := httptest.NewRecorder()
	checker.Liveness(rr, httptest.NewRequest("GET", "/health/live", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("Liveness returned %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != StatusHealthy {
		t.Errorf("Expected status %q, got %v", StatusHealthy, response["status"])
	}
}

func TestHealthChecker_Check(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()

	tests := []struct {
		name      string
		pingErr   error
		redisErr  string
		want      string
		wantDeps  int
		withRedis bool
	}{
		{name: "all healthy", want: StatusHealthy, wantDeps: 2, withRedis: true},
		{name: "database only", want: StatusHealthy, wantDeps: 1},
		{name: "database down", pingErr: errors.New("connection refused"), want: StatusUnhealthy, wantDeps: 1},
		{name: "redis down degrades", redisErr: "ERR redis unavailable", want: StatusDegraded, wantDeps: 2, withRedis: true},
		{name: "both down", pingErr: errors.New("connection refused"), redisErr: "ERR redis unavailable", want: StatusUnhealthy, wantDeps: 2, withRedis: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			if err != nil {
				t.Fatalf("Failed to create mock db: %v", err)
			}
			defer db.Close()
			mock.ExpectPing().WillReturnError(tt.pingErr)

			mr.SetError(tt.redisErr)
			defer mr.SetError("")

			var client redis.UniversalClient
			if tt.withRedis {
				client = rdb
			}
			status := NewHealthChecker(db, client, "1.2.3").Check(context.Background())

			if status.Status != tt.want {
				t.Errorf("Status = %q, want %q", status.Status, tt.want)
			}
			if len(status.Dependencies) != tt.wantDeps {
				t.Errorf("Got %d dependencies, want %d", len(status.Dependencies), tt.wantDeps)
			}
			if status.Version != "1.2.3" {
				t.Errorf("Version = %q", status.Version)
			}
			if tt.pingErr != nil && status.Dependencies["database"].Message == "" {
				t.Error("Expected the database failure to be reported")
			}
		})
	}
}

func TestHealthChecker_ReadinessUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("database is down"))

	router := mux.NewRouter()
	RegisterHealthRoutes(router, NewHealthChecker(db, nil, "test"))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Readiness returned %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/health/live", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Liveness must not depend on the database, got %d", rr.Code)
	}
}
