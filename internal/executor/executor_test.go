package executor_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"shop-qa/internal/dataset"
	"shop-qa/internal/executor"
	"shop-qa/internal/ir"
	"shop-qa/internal/partition"
)

func newShopServer() (*httptest.Server, *int32) {
	cleanupCount := new(int32)
	mux := http.NewServeMux()

	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			type req struct {
				Email string `json:"email"`
				Name  string `json:"name"`
			}
			var in req
			_ = json.NewDecoder(r.Body).Decode(&in)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":    "u-123",
				"email": in.Email,
				"name":  in.Name,
			})
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		// Always 200 to trigger a failing expectation (e.g., expect 418)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/cleanup", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			atomic.AddInt32(cleanupCount, 1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	})

	srv := httptest.NewServer(mux)
	return srv, cleanupCount
}

func writeUsersCSV(t *testing.T, n int) string {
	t.Helper()
	out := "email,status\n"
	for i := 0; i < n; i++ {
		status := "active"
		if i%2 == 1 {
			status = "inactive"
		}
		out += fmt.Sprintf("user%d@example.com,%s\n", i, status)
	}
	fp := filepath.Join(t.TempDir(), "users.csv")
	if err := os.WriteFile(fp, []byte(out), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return fp
}

func TestExecutor_StatusAndJSONPath_WithUUIDAndTeardown(t *testing.T) {
	srv, cleanupCount := newShopServer()
	defer srv.Close()

	suite := &ir.TestSuite{
		Name: "Shop API",
		Scenarios: []ir.Scenario{
			{
				Name: "Register 201, jsonPath email matches, teardown runs",
				Steps: []ir.Step{
					{
						Request: ir.Request{
							Method: http.MethodPost,
							URL:    srv.URL + "/register",
							Headers: map[string]string{
								"Content-Type": "application/json",
							},
							Body: map[string]any{
								"email": "qa+${uuid}@example.com",
								"name":  "Test User",
							},
							TimeoutMs: 2000,
						},
						Expect: []ir.Expectation{
							{Type: ir.ExpectStatus, Target: "code", Value: 201},
							{Type: ir.ExpectJSONPath, Target: "$.email", Value: "qa+${uuid}@example.com"},
						},
					},
				},
				Teardown: []ir.Action{
					{
						Name: "cleanup",
						Request: &ir.Request{
							Method:    http.MethodPost,
							URL:       srv.URL + "/cleanup",
							TimeoutMs: 1000,
						},
					},
				},
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := executor.New().RunSuite(ctx, suite)
	if err != nil {
		t.Fatalf("RunSuite error: %v", err)
	}
	if !res.Passed {
		t.Fatalf("suite should pass, got %+v", res)
	}
	if got := atomic.LoadInt32(cleanupCount); got != 1 {
		t.Fatalf("cleanup count = %d, want 1", got)
	}
}

func TestExecutor_TeardownRunsOnFailure_AndIsolation(t *testing.T) {
	srv, cleanupCount := newShopServer()
	defer srv.Close()

	suite := &ir.TestSuite{
		Name: "Failure path still tears down",
		Scenarios: []ir.Scenario{
			{
				Name: "This one fails expectations",
				Steps: []ir.Step{
					{
						Request: ir.Request{
							Method:    http.MethodPost,
							URL:       srv.URL + "/fail",
							TimeoutMs: 1000,
						},
						Expect: []ir.Expectation{
							{Type: ir.ExpectStatus, Target: "code", Value: 418}, // will fail
						},
					},
				},
				Teardown: []ir.Action{
					{Request: &ir.Request{Method: http.MethodPost, URL: srv.URL + "/cleanup", TimeoutMs: 1000}},
				},
			},
			{
				Name: "This one passes and also tears down",
				Steps: []ir.Step{
					{
						Request: ir.Request{
							Method: http.MethodPost,
							URL:    srv.URL + "/register",
							Headers: map[string]string{
								"Content-Type": "application/json",
							},
							Body: map[string]any{
								"email": "qa+${uuid}@example.com",
								"name":  "Other",
							},
							TimeoutMs: 1000,
						},
						Expect: []ir.Expectation{
							{Type: ir.ExpectStatus, Target: "code", Value: 201},
							{Type: ir.ExpectJSONPath, Target: "$.email", Value: "qa+${uuid}@example.com"},
						},
					},
				},
				Teardown: []ir.Action{
					{Request: &ir.Request{Method: http.MethodPost, URL: srv.URL + "/cleanup", TimeoutMs: 1000}},
				},
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := executor.New().RunSuite(ctx, suite)
	if err != nil {
		t.Fatalf("RunSuite error: %v", err)
	}

	if res.Passed {
		t.Fatalf("suite should fail because one scenario fails: %+v", res)
	}

	// Both teardowns should have run (even the failing scenario)
	if got := atomic.LoadInt32(cleanupCount); got != 2 {
		t.Fatalf("cleanup count = %d, want 2", got)
	}

	// Ensure per-scenario results reflect one pass / one fail
	var passed, failed int
	for _, sc := range res.Scenarios {
		if sc.Passed {
			passed++
		} else {
			failed++
		}
	}
	if passed != 1 || failed != 1 {
		t.Fatalf("want 1 passed and 1 failed scenario, got passed=%d failed=%d", passed, failed)
	}
}

func TestExecutor_DataDriven_BindsRecordVars(t *testing.T) {
	srv, _ := newShopServer()
	defer srv.Close()

	mgr := partition.New(writeUsersCSV(t, 4), dataset.Options{}, partition.Config{SliceSize: 4})
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("load data: %v", err)
	}

	suite := &ir.TestSuite{
		Name: "Data-driven register",
		Data: &ir.DataSource{Source: "users.csv"},
		Scenarios: []ir.Scenario{
			{
				Name: "Register dataset user",
				Data: &ir.DataSpec{},
				Steps: []ir.Step{
					{
						Request: ir.Request{
							Method:    http.MethodPost,
							URL:       srv.URL + "/register",
							Headers:   map[string]string{"Content-Type": "application/json"},
							Body:      map[string]any{"email": "${data.email}", "name": "row ${dataIndex}"},
							TimeoutMs: 2000,
						},
						Expect: []ir.Expectation{
							{Type: ir.ExpectStatus, Target: "code", Value: 201},
							{Type: ir.ExpectJSONPath, Target: "$.email", Value: "${data.email}"},
						},
					},
				},
			},
		},
	}

	res, err := executor.New().WithData(mgr).RunSuite(context.Background(), suite)
	if err != nil {
		t.Fatalf("RunSuite: %v", err)
	}
	if !res.Passed {
		t.Fatalf("suite should pass: %+v", res)
	}
	sc := res.Scenarios[0]
	if sc.DataIndex != 0 {
		t.Fatalf("DataIndex = %d, want 0 (worker 0, offset 0)", sc.DataIndex)
	}
	if res.Data == nil || res.Data.Used != 1 || res.Data.Total != 4 {
		t.Fatalf("data usage = %+v, want 1/4", res.Data)
	}
}

func TestExecutor_DataDriven_SkipsOnExhaustion(t *testing.T) {
	srv, _ := newShopServer()
	defer srv.Close()

	// One row, slice of 2: the second data-driven scenario finds nothing.
	mgr := partition.New(writeUsersCSV(t, 1), dataset.Options{}, partition.Config{SliceSize: 2})
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("load data: %v", err)
	}

	step := ir.Step{
		Request: ir.Request{
			Method:    http.MethodPost,
			URL:       srv.URL + "/register",
			Headers:   map[string]string{"Content-Type": "application/json"},
			Body:      map[string]any{"email": "${data.email}", "name": "x"},
			TimeoutMs: 2000,
		},
		Expect: []ir.Expectation{{Type: ir.ExpectStatus, Target: "code", Value: 201}},
	}
	suite := &ir.TestSuite{
		Name: "Exhaustion skips",
		Scenarios: []ir.Scenario{
			{Name: "first", Data: &ir.DataSpec{}, Steps: []ir.Step{step}},
			{Name: "second", Data: &ir.DataSpec{}, Steps: []ir.Step{step}},
		},
	}

	res, err := executor.New().WithData(mgr).RunSuite(context.Background(), suite)
	if err != nil {
		t.Fatalf("RunSuite: %v", err)
	}
	// Exhaustion is a configuration limit, not a failure.
	if !res.Passed {
		t.Fatalf("suite should pass with a skip: %+v", res)
	}
	if res.Scenarios[0].Skipped {
		t.Fatal("first scenario should run")
	}
	if !res.Scenarios[1].Skipped {
		t.Fatal("second scenario should be skipped, not failed")
	}
	if res.Scenarios[1].SkipReason == "" {
		t.Fatal("skip reason should be set")
	}
}

func TestExecutor_DataDriven_WhereFilter(t *testing.T) {
	srv, _ := newShopServer()
	defer srv.Close()

	// Rows 0,2 active; 1,3 inactive.
	mgr := partition.New(writeUsersCSV(t, 4), dataset.Options{}, partition.Config{SliceSize: 4})
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("load data: %v", err)
	}

	suite := &ir.TestSuite{
		Name: "Filtered data",
		Scenarios: []ir.Scenario{
			{
				Name: "only active users",
				Data: &ir.DataSpec{Where: map[string]string{"status": "active"}},
				Steps: []ir.Step{
					{
						Request: ir.Request{
							Method:    http.MethodPost,
							URL:       srv.URL + "/register",
							Headers:   map[string]string{"Content-Type": "application/json"},
							Body:      map[string]any{"email": "${data.email}", "name": "a"},
							TimeoutMs: 2000,
						},
						Expect: []ir.Expectation{
							{Type: ir.ExpectStatus, Target: "code", Value: 201},
							{Type: ir.ExpectJSONPath, Target: "$.email", Value: "user0@example.com"},
						},
					},
				},
			},
		},
	}

	res, err := executor.New().WithData(mgr).RunSuite(context.Background(), suite)
	if err != nil {
		t.Fatalf("RunSuite: %v", err)
	}
	if !res.Passed {
		t.Fatalf("suite should pass: %+v", res)
	}
	if res.Scenarios[0].DataIndex != 0 {
		t.Fatalf("DataIndex = %d, want 0 (first active row)", res.Scenarios[0].DataIndex)
	}
	if res.Data.Used != 1 {
		t.Fatalf("Used = %d, want 1", res.Data.Used)
	}
}

func TestExecutor_OverlappingFiltersNeverShareARow(t *testing.T) {
	srv, _ := newShopServer()
	defer srv.Close()

	csv := "email,status,tier\n" +
		"a@example.com,active,silver\n" +
		"b@example.com,inactive,gold\n" +
		"c@example.com,active,gold\n" +
		"d@example.com,inactive,silver\n" +
		"e@example.com,active,silver\n"
	fp := filepath.Join(t.TempDir(), "users.csv")
	if err := os.WriteFile(fp, []byte(csv), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mgr := partition.New(fp, dataset.Options{}, partition.Config{SliceSize: 10})
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("load data: %v", err)
	}

	step := ir.Step{
		Request: ir.Request{
			Method:    http.MethodPost,
			URL:       srv.URL + "/register",
			Headers:   map[string]string{"Content-Type": "application/json"},
			Body:      map[string]any{"email": "${data.email}", "name": "x"},
			TimeoutMs: 2000,
		},
		Expect: []ir.Expectation{{Type: ir.ExpectStatus, Target: "code", Value: 201}},
	}
	// The gold filter's only match (row 2) is also the second match of the
	// broader active filter; the positional draw for the second scenario
	// lands on that already-used row and must shift to an unused one.
	suite := &ir.TestSuite{
		Name: "Overlapping filters",
		Scenarios: []ir.Scenario{
			{
				Name:  "active gold shopper",
				Data:  &ir.DataSpec{Where: map[string]string{"status": "active", "tier": "gold"}},
				Steps: []ir.Step{step},
			},
			{
				Name:  "any active shopper",
				Data:  &ir.DataSpec{Where: map[string]string{"status": "active"}},
				Steps: []ir.Step{step},
			},
		},
	}

	res, err := executor.New().WithData(mgr).RunSuite(context.Background(), suite)
	if err != nil {
		t.Fatalf("RunSuite: %v", err)
	}
	if !res.Passed {
		t.Fatalf("suite should pass: %+v", res)
	}
	first, second := res.Scenarios[0], res.Scenarios[1]
	if first.DataIndex != 2 {
		t.Fatalf("gold scenario DataIndex = %d, want 2", first.DataIndex)
	}
	if second.DataIndex == first.DataIndex {
		t.Fatalf("both scenarios got row %d", first.DataIndex)
	}
	if second.DataIndex != 0 {
		t.Fatalf("active scenario DataIndex = %d, want 0 (first unused match)", second.DataIndex)
	}
	if res.Data.Used != 2 {
		t.Fatalf("Used = %d, want 2", res.Data.Used)
	}
}

func TestExecutor_DataRequestedButNotConfigured_Fails(t *testing.T) {
	srv, _ := newShopServer()
	defer srv.Close()

	suite := &ir.TestSuite{
		Name: "No dataset",
		Scenarios: []ir.Scenario{
			{
				Name: "wants data",
				Data: &ir.DataSpec{},
				Steps: []ir.Step{
					{Request: ir.Request{Method: http.MethodPost, URL: srv.URL + "/register", TimeoutMs: 1000}},
				},
			},
		},
	}

	res, err := executor.New().RunSuite(context.Background(), suite)
	if err != nil {
		t.Fatalf("RunSuite: %v", err)
	}
	if res.Passed {
		t.Fatal("suite should fail: scenario requests data but none is configured")
	}
}
