package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewChecker(t *testing.T) {
	checker := NewChecker()
	if checker == nil {
		t.Fatal("NewChecker returned nil")
	}
	if len(checker.livenessChecks) != 0 || len(checker.readinessChecks) != 0 {
		t.Error("New checker should start with no checks")
	}
}

func TestAddChecks(t *testing.T) {
	checker := NewChecker()

	checker.AddLivenessCheck(func() Check { return Check{Name: "live", Status: StatusUp} })
	checker.AddReadinessCheck(func() Check { return Check{Name: "ready", Status: StatusUp} })

	if len(checker.livenessChecks) != 1 {
		t.Errorf("Expected 1 liveness check, got %d", len(checker.livenessChecks))
	}
	if len(checker.readinessChecks) != 1 {
		t.Errorf("Expected 1 readiness check, got %d", len(checker.readinessChecks))
	}
}

func TestGetLivenessAggregation(t *testing.T) {
	checker := NewChecker()
	checker.AddLivenessCheck(func() Check { return Check{Name: "a", Status: StatusUp} })
	checker.AddLivenessCheck(func() Check { return Check{Name: "b", Status: StatusUp} })

	response := checker.GetLiveness()
	if response.Status != StatusUp {
		t.Errorf("Expected UP, got %s", response.Status)
	}
	if len(response.Checks) != 2 {
		t.Errorf("Expected 2 checks, got %d", len(response.Checks))
	}

	checker.AddLivenessCheck(func() Check { return Check{Name: "c", Status: StatusDown} })
	if checker.GetLiveness().Status != StatusDown {
		t.Error("One failing check should make the aggregate DOWN")
	}
}

func TestGetHealthCombinesLivenessAndReadiness(t *testing.T) {
	checker := NewChecker()
	checker.AddLivenessCheck(func() Check { return Check{Name: "live", Status: StatusUp} })
	checker.AddReadinessCheck(func() Check { return Check{Name: "mongo", Status: StatusUp} })

	response := checker.GetHealth()
	if response.Status != StatusUp {
		t.Errorf("Expected UP, got %s", response.Status)
	}
	if len(response.Checks) != 2 {
		t.Errorf("Expected 2 combined checks, got %d", len(response.Checks))
	}
}

func TestHandleHealthStatusCodes(t *testing.T) {
	t.Run("200 when healthy", func(t *testing.T) {
		checker := NewChecker()
		checker.AddReadinessCheck(func() Check { return Check{Name: "mongo", Status: StatusUp} })

		w := httptest.NewRecorder()
		checker.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/q/health", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %s", ct)
		}
	})

	t.Run("503 when unhealthy", func(t *testing.T) {
		checker := NewChecker()
		checker.AddReadinessCheck(func() Check {
			return Check{
				Name:   "mongo",
				Status: StatusDown,
				Data:   map[string]interface{}{"error": "connection refused"},
			}
		})

		w := httptest.NewRecorder()
		checker.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/q/health", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", w.Code)
		}

		var response HealthResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if response.Status != StatusDown {
			t.Errorf("Expected DOWN in body, got %s", response.Status)
		}
		if response.Checks[0].Data["error"] != "connection refused" {
			t.Error("Expected error detail in check data")
		}
	})
}

func TestHandleLiveAndReadyWithNoChecks(t *testing.T) {
	checker := NewChecker()

	for _, h := range []http.HandlerFunc{checker.HandleLive, checker.HandleReady} {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/q/health/x", nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected 200 with no checks, got %d", w.Code)
		}
	}
}

func TestHandleReadyUnhealthy(t *testing.T) {
	checker := NewChecker()
	checker.AddReadinessCheck(func() Check { return Check{Name: "queue", Status: StatusDown} })

	w := httptest.NewRecorder()
	checker.HandleReady(w, httptest.NewRequest(http.MethodGet, "/q/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestErrorBackedChecks(t *testing.T) {
	tests := []struct {
		name     string
		check    CheckFunc
		wantName string
		wantUp   bool
	}{
		{"mongo up", MongoDBCheck(func() error { return nil }), "MongoDB", true},
		{"mongo down", MongoDBCheck(func() error { return errors.New("refused") }), "MongoDB", false},
		{"sqs up", SQSCheck(func() error { return nil }), "SQS", true},
		{"sqs down", SQSCheck(func() error { return errors.New("no queue") }), "SQS", false},
		{"redis up", RedisCheck(func() error { return nil }), "Redis", true},
		{"redis down", RedisCheck(func() error { return errors.New("refused") }), "Redis", false},
		{"object store up", ObjectStoreCheck(func() error { return nil }), "ObjectStore", true},
		{"object store down", ObjectStoreCheck(func() error { return errors.New("no bucket") }), "ObjectStore", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := tt.check()
			if check.Name != tt.wantName {
				t.Errorf("Expected name %q, got %q", tt.wantName, check.Name)
			}
			wantStatus := StatusDown
			if tt.wantUp {
				wantStatus = StatusUp
			}
			if check.Status != wantStatus {
				t.Errorf("Expected %s, got %s", wantStatus, check.Status)
			}
			if !tt.wantUp && check.Data["error"] == nil {
				t.Error("Expected error detail on a failing check")
			}
		})
	}
}

func TestNATSCheck(t *testing.T) {
	if check := NATSCheck(func() bool { return true })(); check.Status != StatusUp || check.Name != "NATS" {
		t.Errorf("Connected NATS should be UP, got %s/%s", check.Name, check.Status)
	}
	if check := NATSCheck(func() bool { return false })(); check.Status != StatusDown {
		t.Errorf("Disconnected NATS should be DOWN, got %s", check.Status)
	}
}

func TestDispatcherCheck(t *testing.T) {
	tests := []struct {
		name    string
		running bool
		primary bool
		want    Status
	}{
		{"primary", true, true, StatusUp},
		{"standby still reports up", true, false, StatusUp},
		{"stopped", false, false, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := DispatcherCheck(
				func() bool { return tt.running },
				func() bool { return tt.primary },
			)()
			if check.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, check.Status)
			}
			if check.Data["running"] != tt.running || check.Data["primary"] != tt.primary {
				t.Errorf("Expected data running=%v primary=%v, got %v", tt.running, tt.primary, check.Data)
			}
		})
	}
}

func TestMultipleFailingChecks(t *testing.T) {
	checker := NewChecker()
	checker.AddReadinessCheck(func() Check {
		return Check{Name: "mongo", Status: StatusDown, Data: map[string]interface{}{"error": "timeout"}}
	})
	checker.AddReadinessCheck(func() Check {
		return Check{Name: "queue", Status: StatusDown, Data: map[string]interface{}{"error": "unreachable"}}
	})
	checker.AddReadinessCheck(func() Check { return Check{Name: "redis", Status: StatusUp} })

	response := checker.GetReadiness()
	if response.Status != StatusDown {
		t.Errorf("Expected DOWN, got %s", response.Status)
	}

	failed := 0
	for _, check := range response.Checks {
		if check.Status == StatusDown {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("Expected 2 failed checks, got %d", failed)
	}
}

func TestHealthResponseJSONShape(t *testing.T) {
	checker := NewChecker()
	checker.AddReadinessCheck(func() Check { return Check{Name: "mongo", Status: StatusUp} })

	w := httptest.NewRecorder()
	checker.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/q/health", nil))

	var raw map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if _, ok := raw["status"]; !ok {
		t.Error("Expected 'status' field")
	}
	if _, ok := raw["checks"]; !ok {
		t.Error("Expected 'checks' field")
	}
}

func TestConcurrentHealthReads(t *testing.T) {
	checker := NewChecker()
	for i := 0; i < 10; i++ {
		checker.AddReadinessCheck(func() Check { return Check{Name: "check", Status: StatusUp} })
	}

	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		go func() {
			checker.GetHealth()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}
