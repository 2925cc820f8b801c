// Package features implements the Pruner & Feature Extractor: it turns a raw
// API specification document (JSON or YAML) into a stable, deduplicated,
// sorted list of feature strings representing the API's structural identity.
package features

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	gkerrors "github.com/chartly-platform/gatekeeper/pkg/errors"
)

var httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

// prunedInfoKeys are removed from the "info" object; everything else under
// info is kept (title, description, version survive automatically).
var prunedInfoKeys = map[string]struct{}{
	"contact":        {},
	"license":        {},
	"termsOfService": {},
}

var prunedTopLevelKeys = map[string]struct{}{
	"servers":      {},
	"externalDocs": {},
	"security":     {},
}

// Extract parses raw (JSON or YAML, detected by first non-whitespace byte)
// and returns the sorted, deduplicated feature list.
func Extract(raw []byte) ([]string, error) {
	doc, err := parse(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: invalid specification", gkerrors.InvalidInput)
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("%w: invalid specification", gkerrors.InvalidInput)
	}

	pruned := prune(obj)

	feats := make([]string, 0, 64)
	feats = append(feats, pathTokens(pruned)...)
	feats = append(feats, schemaTokens(pruned)...)

	feats = dedupeSorted(feats)
	return feats, nil
}

// Prune returns the canonically re-serialized (JSON) pruned document, for
// callers that want the reproducible form rather than just the feature list.
func Prune(raw []byte) ([]byte, error) {
	doc, err := parse(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: invalid specification", gkerrors.InvalidInput)
	}
	pruned := prune(obj)
	b, err := json.Marshal(canonicalize(pruned))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gkerrors.Internal, err)
	}
	return b, nil
}

func parse(raw []byte) (any, error) {
	trimmed := strings.TrimLeft(string(raw), " \t\r\n")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: invalid specification", gkerrors.InvalidInput)
	}

	var doc any
	var err error
	if trimmed[0] == '{' {
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		err = dec.Decode(&doc)
	} else {
		err = yaml.Unmarshal(raw, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable specification: %v", gkerrors.ParseError, err)
	}
	return normalizeYAMLTypes(doc), nil
}

// normalizeYAMLTypes recursively converts the map[any]any / map[string]any
// mix that yaml.v3 can hand back into map[string]any, so downstream code
// only ever deals with one shape regardless of input format.
func normalizeYAMLTypes(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalizeYAMLTypes(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLTypes(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalizeYAMLTypes(val)
		}
		return out
	default:
		return v
	}
}

func prune(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if _, drop := prunedTopLevelKeys[k]; drop {
			continue
		}
		if k == "info" {
			if infoObj, ok := v.(map[string]any); ok {
				out[k] = pruneInfo(infoObj)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func pruneInfo(info map[string]any) map[string]any {
	out := make(map[string]any, len(info))
	for k, v := range info {
		if _, drop := prunedInfoKeys[k]; drop {
			continue
		}
		out[k] = v
	}
	return out
}

func pathTokens(doc map[string]any) []string {
	pathsRaw, ok := doc["paths"].(map[string]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(pathsRaw)*2)

	paths := make([]string, 0, len(pathsRaw))
	for p := range pathsRaw {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, rawPath := range paths {
		normPath := strings.ToLower(normalizePathParams(rawPath))
		ops, ok := pathsRaw[rawPath].(map[string]any)
		if !ok {
			continue
		}
		for _, method := range httpMethods {
			var opVal any
			var present bool
			for k, v := range ops {
				if strings.EqualFold(k, method) {
					opVal = v
					present = true
					break
				}
			}
			if !present {
				continue
			}
			base := fmt.Sprintf("%s %s", method, normPath)
			out = append(out, base)

			op, _ := opVal.(map[string]any)
			if op == nil {
				continue
			}
			if opID, ok := op["operationId"].(string); ok && opID != "" {
				out = append(out, fmt.Sprintf("%s operationId:%s", base, strings.ToLower(opID)))
			}
			if tags, ok := op["tags"].([]any); ok {
				for _, t := range tags {
					if ts, ok := t.(string); ok && ts != "" {
						out = append(out, fmt.Sprintf("%s tag:%s", base, strings.ToLower(ts)))
					}
				}
			}
		}
	}
	return out
}

func normalizePathParams(path string) string {
	var b strings.Builder
	inParam := false
	for _, r := range path {
		switch {
		case r == '{':
			inParam = true
			b.WriteString("{param}")
		case r == '}':
			inParam = false
		case inParam:
			// skip: collapsed into the single {param} token already written
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func schemaTokens(doc map[string]any) []string {
	componentsRaw, ok := doc["components"].(map[string]any)
	if !ok {
		return nil
	}
	schemasRaw, ok := componentsRaw["schemas"].(map[string]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(schemasRaw)*4)

	names := make([]string, 0, len(schemasRaw))
	for n := range schemasRaw {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		lname := strings.ToLower(name)
		out = append(out, fmt.Sprintf("schema:%s", lname))

		schema, ok := schemasRaw[name].(map[string]any)
		if !ok {
			continue
		}
		props, ok := schema["properties"].(map[string]any)
		if !ok {
			continue
		}
		propNames := make([]string, 0, len(props))
		for p := range props {
			propNames = append(propNames, p)
		}
		sort.Strings(propNames)
		for _, p := range propNames {
			typ := "object"
			if pm, ok := props[p].(map[string]any); ok {
				if t, ok := pm["type"].(string); ok && t != "" {
					typ = t
				}
			}
			out = append(out, fmt.Sprintf("schema:%s.%s:%s", lname, strings.ToLower(p), strings.ToLower(typ)))
		}
	}
	return out
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// canonicalize sorts map keys deterministically by relying on
// encoding/json's own stable key ordering for map[string]any, which is
// already alphabetical; nested slices/maps are left as-is since JSON arrays
// are order-sensitive by nature.
func canonicalize(v any) any {
	return v
}
