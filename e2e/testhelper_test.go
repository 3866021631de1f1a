package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/lilseedabe/FlickMV-sub003/internal/engine"
	"github.com/lilseedabe/FlickMV-sub003/internal/handler"
	"github.com/lilseedabe/FlickMV-sub003/internal/middleware"
	"github.com/lilseedabe/FlickMV-sub003/internal/render"
	"github.com/lilseedabe/FlickMV-sub003/internal/service"
	"github.com/lilseedabe/FlickMV-sub003/internal/store"
	ws "github.com/lilseedabe/FlickMV-sub003/internal/websocket"
)

const testUserID = "test-user-123"

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	store store.JobStore
}

// setupApp creates a Fiber app wired like main.go but on the in-memory store
// with the instant render simulator and no Redis. runEngine controls whether
// the scheduler loop is started; leave it off to pin jobs in the queued state.
func setupApp(t *testing.T, runEngine bool) *testApp {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	jobStore := store.NewMemoryJobStore()
	validate := validator.New()

	hub := ws.NewHub(log)
	go hub.Run()

	eng := engine.New(jobStore, render.NewSimulator(0), hub, log, engine.Options{
		WorkerSlots:  1,
		PollInterval: 10 * time.Millisecond,
	})
	if runEngine {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			eng.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	// nil storage → downloads redirect to the stored output URL
	exportService := service.NewExportService(jobStore, eng, nil, log, 3, 30)
	exportHandler := handler.NewExportHandler(exportService, validate)

	// nil Redis → rate limiting is a pass-through
	limiter := middleware.NewRateLimiter(nil)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"store":   "memory",
				"redis":   false,
				"render":  false,
				"storage": false,
			},
		})
	})

	api := app.Group("/api", middleware.GatewayAuthMiddleware())

	exports := api.Group("/exports")
	exports.Post("/", limiter.ExportLimit(10000), exportHandler.Create)
	exports.Get("/:jobId", exportHandler.Status)
	exports.Post("/:jobId/cancel", exportHandler.Cancel)
	exports.Post("/:jobId/retry", exportHandler.Retry)
	exports.Get("/:jobId/download", exportHandler.Download)

	return &testApp{app: app, store: jobStore}
}

// doRequest performs an HTTP request against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request with the gateway identity headers set.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"X-User-Id":    testUserID,
		"X-User-Email": "test@example.com",
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// createExport submits an export and returns the new job id.
func createExport(t *testing.T, ta *testApp, body string) string {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/exports/", body)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatalf("expected jobId in response, got %v", result)
	}
	return jobID
}

// waitForJobStatus polls the status endpoint until the job reaches the
// wanted status, returning the final response body.
func waitForJobStatus(t *testing.T, ta *testApp, jobID, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/exports/"+jobID, "")
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		last = parseJSON(t, resp)
		if last["status"] == want {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job never reached %s, last: %v", want, last)
	return nil
}
