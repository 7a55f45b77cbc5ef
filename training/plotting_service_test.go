package training

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestSidecar(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/plot", func(w http.ResponseWriter, r *http.Request) {
		var pd PlotData
		if err := json.NewDecoder(r.Body).Decode(&pd); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(PlottingResponse{Success: false, Message: "bad payload"})
			return
		}
		json.NewEncoder(w).Encode(PlottingResponse{
			Success: true,
			Message: "ok",
			PlotID:  "plot-123",
			PlotURL: "/plots/plot-123",
		})
	})
	mux.HandleFunc("/api/plot/plot-123/render", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG-fake"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestService(t *testing.T, baseURL string) *PlottingService {
	t.Helper()
	config := DefaultPlottingServiceConfig()
	config.BaseURL = baseURL
	config.Timeout = 2 * time.Second
	config.RetryAttempts = 1
	service := NewPlottingService(config)
	service.Enable()
	return service
}

// TestPlottingServiceDisabled tests that a disabled client never sends
func TestPlottingServiceDisabled(t *testing.T) {
	service := NewPlottingService(DefaultPlottingServiceConfig())

	resp, err := service.SendPlotData(PlotData{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Success {
		t.Error("Disabled service should report failure response")
	}

	if err := service.CheckHealth(); err == nil {
		t.Error("Expected health check error while disabled")
	}
	if _, err := service.FetchRenderedPNG("plot-123"); err == nil {
		t.Error("Expected render fetch error while disabled")
	}
}

// TestPlottingServiceSendPlotData tests a successful round trip
func TestPlottingServiceSendPlotData(t *testing.T) {
	server := newTestSidecar(t)
	service := newTestService(t, server.URL)

	if err := service.CheckHealth(); err != nil {
		t.Fatalf("Health check failed: %v", err)
	}

	vc := NewVisualizationCollector("resnet_pret")
	vc.Enable()
	vc.RecordEpoch(0, 1.0, 50, 0.9, 55)

	resp, err := service.SendPlotData(vc.GenerateTrainingCurvesPlot())
	if err != nil {
		t.Fatalf("SendPlotData failed: %v", err)
	}
	if !resp.Success || resp.PlotID != "plot-123" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

// TestPlottingServiceFetchRenderedPNG tests PNG retrieval
func TestPlottingServiceFetchRenderedPNG(t *testing.T) {
	server := newTestSidecar(t)
	service := newTestService(t, server.URL)

	png, err := service.FetchRenderedPNG("plot-123")
	if err != nil {
		t.Fatalf("FetchRenderedPNG failed: %v", err)
	}
	if len(png) == 0 {
		t.Error("Expected PNG bytes")
	}

	if _, err := service.FetchRenderedPNG(""); err == nil {
		t.Error("Expected error for empty plot ID")
	}
}

// TestGenerateAndSendPlot tests the collector-to-sidecar path
func TestGenerateAndSendPlot(t *testing.T) {
	server := newTestSidecar(t)
	service := newTestService(t, server.URL)

	vc := NewVisualizationCollector("resnet_pret")
	vc.Enable()

	// No matrix recorded yet: not an error, just a failed response.
	resp, err := service.GenerateAndSendPlot(vc, ConfusionMatrixPlot)
	if err != nil {
		t.Fatalf("GenerateAndSendPlot failed: %v", err)
	}
	if resp.Success {
		t.Error("Expected failure response for empty collector")
	}

	vc.RecordEpoch(0, 1.0, 50, 0.9, 55)
	resp, err = service.GenerateAndSendPlot(vc, TrainingCurves)
	if err != nil {
		t.Fatalf("GenerateAndSendPlot failed: %v", err)
	}
	if !resp.Success {
		t.Errorf("Expected success, got %+v", resp)
	}

	if _, err := service.GenerateAndSendPlot(vc, PlotType("bogus")); err == nil {
		t.Error("Expected error for unsupported plot type")
	}
}
