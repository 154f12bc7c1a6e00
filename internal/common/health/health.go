// Package health implements the /q/health endpoints: liveness, readiness,
// and a combined view, aggregated from per-dependency checks.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Status is the health state of a component.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Check is the result of a single health check.
type Check struct {
	Name   string                 `json:"name"`
	Status Status                 `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// HealthResponse is the aggregated endpoint payload.
type HealthResponse struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks,omitempty"`
}

// CheckFunc performs one health check.
type CheckFunc func() Check

// Checker aggregates liveness and readiness checks.
type Checker struct {
	mu              sync.RWMutex
	livenessChecks  []CheckFunc
	readinessChecks []CheckFunc
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{}
}

// AddLivenessCheck registers a liveness check.
func (c *Checker) AddLivenessCheck(check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.livenessChecks = append(c.livenessChecks, check)
}

// AddReadinessCheck registers a readiness check.
func (c *Checker) AddReadinessCheck(check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessChecks = append(c.readinessChecks, check)
}

// runChecks evaluates checks; any DOWN makes the aggregate DOWN.
func (c *Checker) runChecks(checks []CheckFunc) HealthResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	response := HealthResponse{
		Status: StatusUp,
		Checks: make([]Check, 0, len(checks)),
	}
	for _, fn := range checks {
		check := fn()
		response.Checks = append(response.Checks, check)
		if check.Status == StatusDown {
			response.Status = StatusDown
		}
	}
	return response
}

// GetLiveness evaluates the liveness checks.
func (c *Checker) GetLiveness() HealthResponse {
	return c.runChecks(c.livenessChecks)
}

// GetReadiness evaluates the readiness checks.
func (c *Checker) GetReadiness() HealthResponse {
	return c.runChecks(c.readinessChecks)
}

// GetHealth evaluates liveness and readiness together.
func (c *Checker) GetHealth() HealthResponse {
	c.mu.RLock()
	all := make([]CheckFunc, 0, len(c.livenessChecks)+len(c.readinessChecks))
	all = append(all, c.livenessChecks...)
	all = append(all, c.readinessChecks...)
	c.mu.RUnlock()

	return c.runChecks(all)
}

// HandleHealth serves /q/health.
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	c.writeResponse(w, c.GetHealth())
}

// HandleLive serves /q/health/live. With no checks registered, a running
// process is live.
func (c *Checker) HandleLive(w http.ResponseWriter, r *http.Request) {
	response := c.GetLiveness()
	if len(response.Checks) == 0 {
		response.Status = StatusUp
	}
	c.writeResponse(w, response)
}

// HandleReady serves /q/health/ready.
func (c *Checker) HandleReady(w http.ResponseWriter, r *http.Request) {
	response := c.GetReadiness()
	if len(response.Checks) == 0 {
		response.Status = StatusUp
	}
	c.writeResponse(w, response)
}

func (c *Checker) writeResponse(w http.ResponseWriter, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// errorCheck adapts an error-returning probe into a CheckFunc.
func errorCheck(name string, probe func() error) CheckFunc {
	return func() Check {
		if err := probe(); err != nil {
			return Check{
				Name:   name,
				Status: StatusDown,
				Data:   map[string]interface{}{"error": err.Error()},
			}
		}
		return Check{Name: name, Status: StatusUp}
	}
}

// MongoDBCheck reports MongoDB reachability. pingFunc should ping the
// primary.
func MongoDBCheck(pingFunc func() error) CheckFunc {
	return errorCheck("MongoDB", pingFunc)
}

// NATSCheck reports NATS connection state.
func NATSCheck(isConnected func() bool) CheckFunc {
	return func() Check {
		if !isConnected() {
			return Check{Name: "NATS", Status: StatusDown}
		}
		return Check{Name: "NATS", Status: StatusUp}
	}
}

// SQSCheck reports SQS queue accessibility. checkFunc should call
// GetQueueAttributes.
func SQSCheck(checkFunc func() error) CheckFunc {
	return errorCheck("SQS", checkFunc)
}

// RedisCheck reports Redis reachability for the lock and leader stores.
func RedisCheck(pingFunc func() error) CheckFunc {
	return errorCheck("Redis", pingFunc)
}

// ObjectStoreCheck reports object store accessibility. checkFunc should
// call HeadBucket on the upload bucket.
func ObjectStoreCheck(checkFunc func() error) CheckFunc {
	return errorCheck("ObjectStore", checkFunc)
}

// DispatcherCheck reports outbox dispatcher state. A standby instance
// (running but not primary) still reports up.
func DispatcherCheck(isRunning func() bool, isPrimary func() bool) CheckFunc {
	return func() Check {
		running := isRunning()
		check := Check{
			Name:   "OutboxDispatcher",
			Status: StatusUp,
			Data: map[string]interface{}{
				"running": running,
				"primary": isPrimary(),
			},
		}
		if !running {
			check.Status = StatusDown
		}
		return check
	}
}
