// Package service orchestrates the Pruner, Shingler, MinHash Generator, LSH
// Index, and Signature Store into the public Signature Service contract
// (spec §4.6).
package service

import (
	"encoding/base64"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/minhash"
)

// SignatureDTO is the wire-stable result of generating a signature.
type SignatureDTO struct {
	APIUUID          string `json:"apiUuid"`
	Organization     string `json:"organization"`
	SignatureArray   []uint32 `json:"signatureArray"`
	SignatureBase64  string   `json:"signatureBase64"`
	NumHashFunctions int      `json:"numHashFunctions"`
	FeatureCount     int      `json:"featureCount"`
	ShingleCount     int      `json:"shingleCount"`

	// signature is kept for internal reuse (e.g. indexing) but is never
	// serialized: spec §6 explicitly excludes signatureBlob from the DTO.
	signature minhash.Signature
}

func newSignatureDTO(apiUUID, organization string, sig minhash.Signature, featureCount, shingleCount int) SignatureDTO {
	arr := make([]uint32, len(sig))
	copy(arr, sig)
	blob := minhash.ToBytes(sig)
	return SignatureDTO{
		APIUUID:          apiUUID,
		Organization:     organization,
		SignatureArray:   arr,
		SignatureBase64:  base64.StdEncoding.EncodeToString(blob),
		NumHashFunctions: len(sig),
		FeatureCount:     featureCount,
		ShingleCount:     shingleCount,
		signature:        sig,
	}
}

// ConflictReport describes one candidate match surfaced by a duplicate
// check (spec §6, stable wire contract).
type ConflictReport struct {
	MatchedAPIUUID     string  `json:"matchedApiUuid"`
	MatchedAPIName     string  `json:"matchedApiName,omitempty"`
	MatchedAPIVersion  string  `json:"matchedApiVersion,omitempty"`
	MatchedAPIContext  string  `json:"matchedApiContext,omitempty"`
	SimilarityScore    float64 `json:"similarityScore"`
	PathSimilarity     *float64 `json:"pathSimilarity,omitempty"`
	SchemaSimilarity   *float64 `json:"schemaSimilarity,omitempty"`
	MetadataSimilarity *float64 `json:"metadataSimilarity,omitempty"`
	Message            string  `json:"message"`
	Recommendation     string  `json:"recommendation"`
}

// DedupResult is the stable wire contract for check_for_duplicates.
type DedupResult struct {
	IsDuplicate     bool             `json:"is_duplicate"`
	HighConfidence  bool             `json:"high_confidence"`
	ConflictReports []ConflictReport `json:"conflict_reports"`
	QueryAPIUUID    string           `json:"query_api_uuid"`
	Organization    string           `json:"organization"`
	Threshold       float64          `json:"threshold"`
	Message         string           `json:"message"`
}
