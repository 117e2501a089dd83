package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// MockPinger is a Pinger whose outcome is controlled by the test.
type MockPinger struct {
	ShouldFail bool
	Err        error
}

func (m *MockPinger) Ping(ctx context.Context) error {
	if m.ShouldFail {
		if m.Err != nil {
			return m.Err
		}
		return errors.New("ping failed")
	}
	return nil
}

// SlowMockPinger delays before answering, honoring context cancellation.
type SlowMockPinger struct {
	Delay time.Duration
}

func (m *SlowMockPinger) Ping(ctx context.Context) error {
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TestDatabaseComponentTracksPinger checks that the database component and
// the overall status follow the pinger outcome.
func TestDatabaseComponentTracksPinger(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	genVersion := gen.RegexMatch(`v?[0-9]+\.[0-9]+\.[0-9]+`)

	properties.Property("database status and overall status track the pinger", prop.ForAll(
		func(version string, dbHealthy bool) bool {
			checker := NewChecker(&MockPinger{ShouldFail: !dbHealthy}, version)
			response := checker.Check(context.Background())

			dbStatus, ok := response.Components["database"]
			if !ok {
				return false
			}
			if response.Version != version {
				return false
			}

			if dbHealthy {
				return dbStatus.Status == StatusHealthy && response.Status == StatusHealthy
			}
			return dbStatus.Status == StatusUnhealthy && response.Status == StatusUnhealthy
		},
		genVersion,
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestNilPingerIsUnhealthy(t *testing.T) {
	checker := NewChecker(nil, "dev")
	response := checker.Check(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("overall status = %s, want unhealthy", response.Status)
	}
	if response.Components["database"].Status != StatusUnhealthy {
		t.Errorf("database status = %s, want unhealthy", response.Components["database"].Status)
	}
}

func TestHandlerStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		shouldFail bool
		wantCode   int
	}{
		{"healthy database returns 200", false, http.StatusOK},
		{"unhealthy database returns 503", true, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checker := NewChecker(&MockPinger{ShouldFail: tc.shouldFail}, "1.2.3")

			req := httptest.NewRequest("GET", "/health", nil)
			rr := httptest.NewRecorder()
			checker.Handler()(rr, req)

			if rr.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tc.wantCode)
			}

			var response Response
			if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if _, ok := response.Components["database"]; !ok {
				t.Error("response missing database component")
			}
			if response.Version != "1.2.3" {
				t.Errorf("version = %q", response.Version)
			}
		})
	}
}

func TestSlowPingerHitsTimeout(t *testing.T) {
	checker := NewChecker(&SlowMockPinger{Delay: 10 * time.Second}, "dev")
	checker.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	response := checker.Check(context.Background())
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("check took %v, timeout not applied", elapsed)
	}
	if response.Components["database"].Status != StatusUnhealthy {
		t.Errorf("database status = %s, want unhealthy", response.Components["database"].Status)
	}
}
