/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the store with realistic driver requests so the admin
	calendar, the quota messages and the live feed can be shown without
	real drivers. Every request goes through requests.Service, so the
	admission checks and events behave exactly as in production.

AVAILABLE SCENARIOS:

	busy-day:       One day next week with a single slot left
	full-day:       One day next week fully booked
	cycle-limit:    A driver who already used the whole cycle allowance
	pending-review: Shift changes and other requests waiting for an admin

HOW SCENARIOS WORK:
 1. Dates are relative to the service clock (Service.Today)
 2. Drivers are named demo-<scenario>-NN so repeated loads don't collide
 3. Loading the same scenario twice on the same day is rejected by the
    duplicate-date check, which is reported back per request

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "full-day"}

NOTE:

	Routes are only registered when the server runs with demo scenarios
	enabled (DEMO_SCENARIOS=true). Nothing is ever deleted.

SEE ALSO:
  - handlers.go: Shared helpers
  - server.go: Route registration
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/driver-requests/requests"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioResult summarizes what a load did.
type ScenarioResult struct {
	Scenario ScenarioDTO `json:"scenario"`
	Created  int         `json:"created"`
	Rejected []string    `json:"rejected,omitempty"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "busy-day",
		Name:        "Busy Day",
		Description: "A day next week with exactly one day-off slot left",
	},
	{
		ID:          "full-day",
		Name:        "Full Day",
		Description: "A day next week where every day-off slot is taken",
	},
	{
		ID:          "cycle-limit",
		Name:        "Cycle Limit",
		Description: "A driver who already holds the maximum day-off requests for the next billing cycle",
	},
	{
		ID:          "pending-review",
		Name:        "Pending Review",
		Description: "Shift changes and other requests waiting for an administrator",
	},
}

type scenarioLoader func(ctx context.Context, svc *requests.Service, res *ScenarioResult) error

var scenarioLoaders = map[string]scenarioLoader{
	"busy-day":       loadBusyDayScenario,
	"full-day":       loadFullDayScenario,
	"cycle-limit":    loadCycleLimitScenario,
	"pending-review": loadPendingReviewScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var found *ScenarioDTO
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			found = &scenarios[i]
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	res := &ScenarioResult{Scenario: *found}
	if err := scenarioLoaders[found.ID](r.Context(), h.Service, res); err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}
	h.Logger.InfoContext(r.Context(), "scenario loaded",
		"scenario", found.ID, "created", res.Created, "rejected", len(res.Rejected))
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// LOADERS
// =============================================================================

func loadBusyDayScenario(ctx context.Context, svc *requests.Service, res *ScenarioResult) error {
	day := svc.Today().AddDays(7)
	return fillDay(ctx, svc, res, "busy-day", day, svc.Limits().MaxPerDay-1)
}

func loadFullDayScenario(ctx context.Context, svc *requests.Service, res *ScenarioResult) error {
	day := svc.Today().AddDays(8)
	return fillDay(ctx, svc, res, "full-day", day, svc.Limits().MaxPerDay)
}

func loadCycleLimitScenario(ctx context.Context, svc *requests.Service, res *ScenarioResult) error {
	next := requests.CycleContaining(svc.Today()).Next()
	driver := demoDriver("cycle-limit", 1)
	for i := 0; i < svc.Limits().MaxPerCycle; i++ {
		day := next.Start.AddDays(2 * i)
		if err := submitDemo(ctx, svc, res, requests.SubmitInput{
			DriverID:   driver,
			DriverName: "Demo Driver",
			Type:       requests.TypeDayOff,
			DayOffDate: &day,
		}); err != nil {
			return err
		}
	}
	return nil
}

func loadPendingReviewScenario(ctx context.Context, svc *requests.Service, res *ScenarioResult) error {
	inputs := []requests.SubmitInput{
		{Type: requests.TypeShiftChange, Subject: "Swap Monday morning for Wednesday evening"},
		{Type: requests.TypeShiftChange, Subject: "Move Friday route to Saturday"},
		{Type: requests.TypeOther, Subject: "Vehicle seat needs adjusting", Description: "Driver seat lever is broken"},
	}
	for i, in := range inputs {
		in.DriverID = demoDriver("pending-review", i+1)
		in.DriverName = fmt.Sprintf("Demo Driver %d", i+1)
		if err := submitDemo(ctx, svc, res, in); err != nil {
			return err
		}
	}

	// Leave one request mid-review so the in_progress state shows up.
	list, _, err := svc.List(ctx, requests.Filter{
		DriverID: demoDriver("pending-review", 1),
		Statuses: []requests.Status{requests.StatusPending},
		Limit:    1,
	})
	if err != nil {
		return err
	}
	if len(list) == 1 {
		_, err = svc.Respond(ctx, list[0].ID, requests.Response{
			Status:      requests.StatusInProgress,
			Message:     "Checking the rota",
			ResponderID: "demo-admin",
		})
	}
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func fillDay(ctx context.Context, svc *requests.Service, res *ScenarioResult, scenario string, day requests.Day, n int) error {
	for i := 1; i <= n; i++ {
		d := day
		if err := submitDemo(ctx, svc, res, requests.SubmitInput{
			DriverID:   demoDriver(scenario, i),
			DriverName: fmt.Sprintf("Demo Driver %d", i),
			Type:       requests.TypeDayOff,
			DayOffDate: &d,
		}); err != nil {
			return err
		}
	}
	return nil
}

// submitDemo counts admitted requests and collects rejection messages.
// Only persistence failures abort the scenario.
func submitDemo(ctx context.Context, svc *requests.Service, res *ScenarioResult, in requests.SubmitInput) error {
	sub, err := svc.Submit(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to submit demo request for %s: %w", in.DriverID, err)
	}
	if !sub.Decision.Admitted {
		res.Rejected = append(res.Rejected, in.DriverID+": "+sub.Decision.Rejection.Message)
		return nil
	}
	res.Created++
	return nil
}

func demoDriver(scenario string, n int) string {
	return fmt.Sprintf("demo-%s-%02d", scenario, n)
}
