package rulesetconfig

import "testing"

func TestParseDefaults(t *testing.T) {
	rs, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	d := Default()
	if rs.Enabled != d.Enabled || rs.SimilarityThreshold != d.SimilarityThreshold ||
		rs.NumHashFunctions != d.NumHashFunctions || rs.NumBands != d.NumBands || rs.Rules != nil {
		t.Fatalf("expected defaults, got %+v", rs)
	}
}

func TestParseOverrides(t *testing.T) {
	rs, err := Parse([]byte("enabled: false\nsimilarity_threshold: 0.8\nnum_hash_functions: 64\nnum_bands: 8\n"))
	if err != nil {
		t.Fatal(err)
	}
	if rs.Enabled || rs.SimilarityThreshold != 0.8 || rs.NumHashFunctions != 64 || rs.NumBands != 8 {
		t.Fatalf("unexpected ruleset: %+v", rs)
	}
}

func TestParseRulesIgnoredNotRejected(t *testing.T) {
	rs, err := Parse([]byte("rules:\n  some_future_key: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if rs.Rules["some_future_key"] != true {
		t.Fatalf("expected rules map to be preserved even though unused, got %+v", rs.Rules)
	}
}

func TestParseThresholdOutOfBounds(t *testing.T) {
	if _, err := Parse([]byte("similarity_threshold: 1.5\n")); err == nil {
		t.Fatal("expected error for out-of-bounds threshold")
	}
}

func TestParseBandsNotDivisor(t *testing.T) {
	if _, err := Parse([]byte("num_hash_functions: 100\nnum_bands: 7\n")); err == nil {
		t.Fatal("expected error for non-divisor bands")
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("not: [valid")); err == nil {
		t.Fatal("expected yaml parse error")
	}
}
