package e2e

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func exportBody(projectID string) string {
	return fmt.Sprintf(`{
		"projectId": "%s",
		"name": "Final cut",
		"settings": {"resolution": "1080p", "fps": 30, "format": "mp4"},
		"priority": 10
	}`, projectID)
}

func TestExportCreate_Success(t *testing.T) {
	ta := setupApp(t, false)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/exports/", exportBody(uuid.New().String()))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["jobId"] == nil || result["jobId"] == "" {
		t.Error("expected 'jobId' in response")
	}
	if result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}
	if result["priority"] != float64(10) {
		t.Errorf("expected priority 10, got %v", result["priority"])
	}
	if result["expiresAt"] == nil {
		t.Error("expected 'expiresAt' in response")
	}
}

func TestExportCreate_NoAuth(t *testing.T) {
	ta := setupApp(t, false)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/exports/", exportBody(uuid.New().String()), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestExportCreate_InvalidBody(t *testing.T) {
	ta := setupApp(t, false)

	tests := []struct {
		name string
		body string
	}{
		{"missing settings", `{"projectId": "p1"}`},
		{"missing projectId", `{"settings": {"resolution": "1080p"}}`},
		{"priority out of range", `{"projectId": "p1", "settings": {}, "priority": 5000}`},
		{"not json", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/exports/", tt.body)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, http.StatusBadRequest)

			result := parseJSON(t, resp)
			errBody, ok := result["error"].(map[string]interface{})
			if !ok || errBody["code"] != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR envelope, got %v", result)
			}
		})
	}
}

func TestExportLifecycle_Completes(t *testing.T) {
	ta := setupApp(t, true)

	jobID := createExport(t, ta, exportBody(uuid.New().String()))

	result := waitForJobStatus(t, ta, jobID, "completed")
	if result["progress"] != float64(100) {
		t.Errorf("expected progress 100, got %v", result["progress"])
	}
	output, ok := result["output"].(map[string]interface{})
	if !ok || output["url"] == "" {
		t.Fatalf("expected output with url, got %v", result["output"])
	}
	if result["completedAt"] == nil || result["startedAt"] == nil {
		t.Error("expected startedAt and completedAt on a completed job")
	}
	if result["formattedOutputSize"] == nil {
		t.Error("expected formattedOutputSize on a completed job")
	}

	// Download redirects to the artifact and bumps the counter
	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/exports/"+jobID+"/download", "")
	if err != nil {
		t.Fatalf("download request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusFound)
	if loc := resp.Header.Get("Location"); loc != output["url"] {
		t.Errorf("expected redirect to %v, got %v", output["url"], loc)
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/exports/"+jobID, "")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	result = parseJSON(t, resp)
	if result["downloadCount"] != float64(1) {
		t.Errorf("expected downloadCount 1, got %v", result["downloadCount"])
	}
}

func TestExportStatus_NotFound(t *testing.T) {
	ta := setupApp(t, false)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/exports/"+uuid.New().String(), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)

	result := parseJSON(t, resp)
	errBody, ok := result["error"].(map[string]interface{})
	if !ok || errBody["code"] != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND envelope, got %v", result)
	}
}

func TestExportCancel_QueuedJob(t *testing.T) {
	// Engine off: the job stays queued
	ta := setupApp(t, false)

	jobID := createExport(t, ta, exportBody(uuid.New().String()))

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/exports/"+jobID+"/cancel", "")
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["success"] != true || result["status"] != "cancelled" {
		t.Errorf("unexpected cancel response: %v", result)
	}

	// A second cancel conflicts
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/exports/"+jobID+"/cancel", "")
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestExportCancel_CompletedJobConflicts(t *testing.T) {
	ta := setupApp(t, true)

	jobID := createExport(t, ta, exportBody(uuid.New().String()))
	waitForJobStatus(t, ta, jobID, "completed")

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/exports/"+jobID+"/cancel", "")
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)

	result := parseJSON(t, resp)
	errBody, ok := result["error"].(map[string]interface{})
	if !ok || errBody["code"] != "CONFLICT" {
		t.Errorf("expected CONFLICT envelope, got %v", result)
	}
}

func TestExportRetry_NonFailedJobConflicts(t *testing.T) {
	ta := setupApp(t, false)

	jobID := createExport(t, ta, exportBody(uuid.New().String()))

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/exports/"+jobID+"/retry", "")
	if err != nil {
		t.Fatalf("retry request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestExportDownload_NotCompletedConflicts(t *testing.T) {
	ta := setupApp(t, false)

	jobID := createExport(t, ta, exportBody(uuid.New().String()))

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/exports/"+jobID+"/download", "")
	if err != nil {
		t.Fatalf("download request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestHealth(t *testing.T) {
	ta := setupApp(t, false)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != "ok" {
		t.Errorf("expected status ok, got %v", result["status"])
	}
}
