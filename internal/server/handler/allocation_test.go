package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

func seedHolders(t *testing.T, f *fixture) {
	t.Helper()
	f.mint(t, "treasury", 1000)
	for target, amount := range map[string]int64{"alice": 300, "bob": 150, "carol": 50} {
		code, resp := f.do(t, http.MethodPost, "/api/v1/ser/transfer", f.token,
			gin.H{"source": "treasury", "target": target, "amount": amount})
		if code != http.StatusOK {
			t.Fatalf("seed transfer to %s: HTTP %d %v", target, code, resp)
		}
	}
}

func TestConcentration_ordersAndLimits(t *testing.T) {
	f := newFixture(t)
	seedHolders(t, f)

	code, resp := f.do(t, http.MethodGet, "/api/v1/ser/allocation/concentration?limit=2", "", nil)
	if code != http.StatusOK {
		t.Fatalf("HTTP %d", code)
	}
	holders := resp["holders"].([]any)
	if len(holders) != 2 {
		t.Fatalf("got %d holders, want 2", len(holders))
	}
	top := holders[0].(map[string]any)
	if top["account"] != "treasury" || top["amount"].(float64) != 500 {
		t.Errorf("top holder = %v", top)
	}
	if share := top["share"].(float64); share != 0.5 {
		t.Errorf("top share = %v, want 0.5", share)
	}
	if second := holders[1].(map[string]any); second["account"] != "alice" {
		t.Errorf("second holder = %v", second)
	}
	if resp["as_of"].(float64) != float64(f.ledger.Tail()) {
		t.Errorf("as_of = %v, want %d", resp["as_of"], f.ledger.Tail())
	}
}

func TestHealth_summarizesAsset(t *testing.T) {
	f := newFixture(t)
	seedHolders(t, f)

	code, resp := f.do(t, http.MethodGet, "/api/v1/ser/allocation/health", "", nil)
	if code != http.StatusOK {
		t.Fatalf("HTTP %d", code)
	}
	if resp["asset"] != "SER" || resp["supply"].(float64) != 1000 {
		t.Errorf("health = %v", resp)
	}
	if resp["holder_count"].(float64) != 4 {
		t.Errorf("holder_count = %v, want 4", resp["holder_count"])
	}
}

func TestPlan_explicitWeights(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, http.MethodPost, "/api/v1/ser/allocation/plan", "", gin.H{
		"total":   100,
		"weights": gin.H{"a": 3, "b": 3, "c": 1},
	})
	if code != http.StatusOK {
		t.Fatalf("HTTP %d: %v", code, resp)
	}
	plan := resp["plan"].([]any)
	if len(plan) != 3 {
		t.Fatalf("plan has %d lines, want 3", len(plan))
	}
	var sum float64
	for _, line := range plan {
		sum += line.(map[string]any)["amount"].(float64)
	}
	if sum != 100 {
		t.Errorf("plan total = %v, want exactly 100", sum)
	}
}

func TestPlan_defaultBucketsWhenWeightsOmitted(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, http.MethodPost, "/api/v1/ser/allocation/plan", "", gin.H{"total": 1000})
	if code != http.StatusOK {
		t.Fatalf("HTTP %d: %v", code, resp)
	}
	plan := resp["plan"].([]any)
	if len(plan) != 5 {
		t.Fatalf("plan has %d lines, want the 5 default buckets", len(plan))
	}
	byAccount := map[string]float64{}
	for _, line := range plan {
		l := line.(map[string]any)
		byAccount[l["account"].(string)] = l["amount"].(float64)
	}
	if byAccount["treasury"] != 400 || byAccount["risk_buffer"] != 100 {
		t.Errorf("default bucket plan = %v", byAccount)
	}
}

func TestPlan_rejectsNegativeTotal(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, http.MethodPost, "/api/v1/ser/allocation/plan", "",
		gin.H{"total": -5, "weights": gin.H{"a": 1}})
	if code != http.StatusBadRequest {
		t.Errorf("HTTP %d %v, want 400", code, resp)
	}
}
