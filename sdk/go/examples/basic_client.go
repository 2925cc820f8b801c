package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	gatekeeper "github.com/chartly-platform/gatekeeper/sdk/go"
)

func main() {
	var (
		baseURL   = flag.String("base", "http://localhost:8088", "Gatekeeper base URL")
		tenant    = flag.String("tenant", "local", "Tenant id (header value)")
		apiID     = flag.String("api-id", "demo-api", "API id to check/index")
		specPath  = flag.String("spec", "", "Path to an OpenAPI spec file (json or yaml)")
		requestID = flag.String("request", "", "Request ID (optional)")
		timeout   = flag.Duration("timeout", 10*time.Second, "Request timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rid := *requestID
	if rid == "" {
		rid = "req_basic_client"
	}

	if *specPath == "" {
		fmt.Fprintln(os.Stderr, "missing required -spec flag")
		os.Exit(2)
	}
	specBytes, err := os.ReadFile(*specPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reading spec:", err)
		os.Exit(1)
	}

	c := gatekeeper.NewClient(*baseURL)

	fmt.Println("== Gatekeeper basic client ==")
	fmt.Println("base:", c.BaseURL)
	fmt.Println("tenant:", *tenant)
	fmt.Println("request:", rid)

	opts := []gatekeeper.RequestOption{
		gatekeeper.WithTenant(*tenant),
		gatekeeper.WithRequestID(rid),
	}

	result, err := c.Check(ctx, *tenant, *apiID, json.RawMessage(specBytes), 0, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "check error:", err)
		os.Exit(1)
	}
	fmt.Println("\ncheck_for_duplicates:")
	fmt.Printf("  is_duplicate=%t high_confidence=%t conflicts=%d\n", result.IsDuplicate, result.HighConfidence, len(result.ConflictReports))
	for _, cr := range result.ConflictReports {
		fmt.Printf("  - matched=%s score=%.4f %s\n", cr.MatchedAPIUUID, cr.SimilarityScore, cr.Message)
	}

	if result.IsDuplicate {
		fmt.Println("\nskipping index: spec flagged as a duplicate")
		return
	}

	sig, err := c.Index(ctx, *tenant, *apiID, json.RawMessage(specBytes), opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "index error:", err)
		os.Exit(1)
	}
	fmt.Println("\nindexed:")
	fmt.Printf("  api_uuid=%s features=%d shingles=%d\n", sig.APIUUID, sig.FeatureCount, sig.ShingleCount)
}
