package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/pipeline-live-service/internal/lifecycle"
	"github.com/kjstillabower/pipeline-live-service/internal/traffic"
)

func testActionRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/test", h.GetTestStatus).Methods("GET")
	router.HandleFunc("/test/{action}", h.PostTestAction).Methods("POST")
	return router
}

func postAction(t *testing.T, router http.Handler, action, body string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest("POST", "/test/"+action, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /test/%s status = %d, want 200; body %s", action, w.Code, w.Body.String())
	}
	return decodeJSON(t, w)
}

func TestPostTestAction_LoadWithoutLimiter(t *testing.T) {
	h, tr, _ := newTestHandler(t, zap.NewNop())
	router := testActionRouter(h)

	resp := postAction(t, router, "load", `{"count": 25}`)

	if resp["accepted"] != float64(25) || resp["denied"] != float64(0) {
		t.Errorf("accepted/denied = %v/%v, want 25/0", resp["accepted"], resp["denied"])
	}
	if n := tr.RequestCount(time.Minute); n != 25 {
		t.Errorf("RequestCount() = %d, want 25", n)
	}
}

// TestPostTestAction_LoadThroughLimiter verifies that synthetic load beyond the
// burst is denied and pushes the service into overloaded.
func TestPostTestAction_LoadThroughLimiter(t *testing.T) {
	// Arrange: 1 rps, burst 5; overload threshold = 1 * 60 * 80% = 48
	cfg := testHealthConfig()
	cfg.RateLimitRPS = 1
	tr := traffic.NewTracker(0)
	h := NewHandler(Options{
		Marker:      testMarker,
		Health:      cfg,
		Traffic:     tr,
		RateLimiter: rate.NewLimiter(rate.Limit(1), 5),
	})
	router := testActionRouter(h)

	// Act
	resp := postAction(t, router, "load", `{"count": 60}`)

	// Assert
	accepted := resp["accepted"].(float64)
	denied := resp["denied"].(float64)
	if accepted < 5 || accepted > 6 || accepted+denied != 60 {
		t.Errorf("accepted/denied = %v/%v, want about 5/55", accepted, denied)
	}
	if resp["state"] != "overloaded" {
		t.Errorf("state = %v, want overloaded", resp["state"])
	}
	if n := tr.DenialCount(time.Minute); n != int(denied) {
		t.Errorf("DenialCount() = %d, want %v", n, denied)
	}
}

func TestPostTestAction_ErrorDegrades(t *testing.T) {
	h, _, _ := newTestHandler(t, zap.NewNop())
	router := testActionRouter(h)

	postAction(t, router, "load", `{"count": 10}`)
	resp := postAction(t, router, "error", `{"count": 2}`)

	if resp["state"] != "degraded" {
		t.Errorf("state = %v, want degraded", resp["state"])
	}
	// 2 errors of 12 outcomes
	if resp["error_rate_pct"] != float64(16) {
		t.Errorf("error_rate_pct = %v, want 16", resp["error_rate_pct"])
	}
}

func TestPostTestAction_DefaultCounts(t *testing.T) {
	h, tr, _ := newTestHandler(t, zap.NewNop())
	router := testActionRouter(h)

	postAction(t, router, "load", "")
	postAction(t, router, "error", "not json")

	if errors, total := tr.ErrorRate(time.Minute); errors != 1 || total != 11 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 11)", errors, total)
	}
}

func TestPostTestAction_ShutdownAndReset(t *testing.T) {
	h, tr, st := newTestHandler(t, zap.NewNop())
	router := testActionRouter(h)

	postAction(t, router, "error", `{"count": 3}`)
	postAction(t, router, "shutdown", "")
	if !st.IsShuttingDown() {
		t.Fatal("shutdown action did not set shutting-down phase")
	}

	postAction(t, router, "reset", "")
	if st.Phase() != lifecycle.Serving {
		t.Errorf("Phase() after reset = %v, want serving", st.Phase())
	}
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() after reset = %d, want 0", n)
	}
}

func TestPostTestAction_CountTooLarge(t *testing.T) {
	h, tr, _ := newTestHandler(t, zap.NewNop())
	router := testActionRouter(h)

	for _, action := range []string{"load", "error"} {
		t.Run(action, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("POST", "/test/"+action,
				strings.NewReader(`{"count": 2000000000}`)))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if errObj := decodeJSON(t, w)["error"].(map[string]interface{}); errObj["code"] != "INVALID_COUNT" {
				t.Errorf("code = %v, want INVALID_COUNT", errObj["code"])
			}
		})
	}
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0 after rejected counts", n)
	}

	postAction(t, router, "load", `{"count": 10000}`)
	if n := tr.RequestCount(time.Minute); n != MaxTestCount {
		t.Errorf("RequestCount() = %d, want %d at the cap", n, MaxTestCount)
	}
}

func TestPostTestAction_Unknown(t *testing.T) {
	h, _, _ := newTestHandler(t, zap.NewNop())
	w := httptest.NewRecorder()
	testActionRouter(h).ServeHTTP(w, httptest.NewRequest("POST", "/test/explode", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if errObj := decodeJSON(t, w)["error"].(map[string]interface{}); errObj["code"] != "UNKNOWN_ACTION" {
		t.Errorf("code = %v, want UNKNOWN_ACTION", errObj["code"])
	}
}

func TestGetTestStatus(t *testing.T) {
	h, tr, _ := newTestHandler(t, zap.NewNop())
	tr.RecordN(traffic.Success, 4)
	tr.Record(traffic.Denied)
	tr.Record(traffic.Error)

	w := httptest.NewRecorder()
	testActionRouter(h).ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	body := decodeJSON(t, w)
	if body["total_requests_in_window"] != float64(6) {
		t.Errorf("total_requests_in_window = %v, want 6", body["total_requests_in_window"])
	}
	if body["denied_requests_in_window"] != float64(1) {
		t.Errorf("denied_requests_in_window = %v, want 1", body["denied_requests_in_window"])
	}
	if body["errors_in_window"] != float64(1) {
		t.Errorf("errors_in_window = %v, want 1", body["errors_in_window"])
	}
	cfg := body["config"].(map[string]interface{})
	if cfg["overload_threshold"] != float64(480) {
		t.Errorf("overload_threshold = %v, want 480", cfg["overload_threshold"])
	}
}
