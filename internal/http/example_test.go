package http_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/ingestd/internal/http"
)

// ExampleServer_Handler shows a server with no backends wired. Routes whose
// service is nil answer 503 and /status reports them as disabled.
func ExampleServer_Handler() {
	server, err := httpserver.NewServer(httpserver.Services{}, zap.NewNop(), &httpserver.Config{
		Host:    "localhost",
		Port:    9090,
		Version: "example",
	})
	if err != nil {
		panic(err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	var status httpserver.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		panic(err)
	}
	fmt.Println(rec.Code, status.Version, status.Services["tables"])

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil))
	fmt.Println(rec.Code)
	// Output:
	// 200 example disabled
	// 503
}
