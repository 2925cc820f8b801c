package features

import (
	"strings"
	"testing"
)

const petstoreJSON = `{
  "info": {"title": "Petstore", "version": "1.0", "contact": {"name": "x"}},
  "servers": [{"url": "https://a"}],
  "paths": {
    "/pets": {
      "get": {"operationId": "listPets", "tags": ["animals"]}
    }
  },
  "components": {
    "schemas": {
      "Pet": {"properties": {"name": {"type": "string"}, "age": {"type": "integer"}}}
    }
  }
}`

func TestExtractBasic(t *testing.T) {
	feats, err := Extract([]byte(petstoreJSON))
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(feats, "|")
	for _, want := range []string{
		"GET /pets",
		"GET /pets operationId:listpets",
		"GET /pets tag:animals",
		"schema:pet",
		"schema:pet.age:integer",
		"schema:pet.name:string",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected feature %q in %v", want, feats)
		}
	}
}

func TestServersIsPruned(t *testing.T) {
	specA := strings.Replace(petstoreJSON, "https://a", "https://a", 1)
	specB := strings.Replace(petstoreJSON, "https://a", "https://b", 1)
	fa, err := Extract([]byte(specA))
	if err != nil {
		t.Fatal(err)
	}
	fb, err := Extract([]byte(specB))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(fa, "|") != strings.Join(fb, "|") {
		t.Fatal("expected servers-only diff to produce identical features")
	}
}

func TestEmptyInputIsInvalid(t *testing.T) {
	if _, err := Extract([]byte("")); err == nil {
		t.Fatal("expected invalid input error for empty spec")
	}
	if _, err := Extract([]byte("   ")); err == nil {
		t.Fatal("expected invalid input error for blank spec")
	}
}

func TestUnparseableIsParseError(t *testing.T) {
	if _, err := Extract([]byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNoPathsNoSchemasIsEmptyNotError(t *testing.T) {
	feats, err := Extract([]byte(`{"info": {"title": "Empty", "version": "1.0"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(feats) != 0 {
		t.Fatalf("expected empty feature list, got %v", feats)
	}
}

func TestPathParamNormalization(t *testing.T) {
	spec := `{"paths": {"/pets/{petId}": {"get": {}}}}`
	feats, err := Extract([]byte(spec))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range feats {
		if f == "GET /pets/{param}" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected normalized param path, got %v", feats)
	}
}

func TestYAMLInput(t *testing.T) {
	spec := "info:\n  title: Petstore\npaths:\n  /pets:\n    get: {}\n"
	feats, err := Extract([]byte(spec))
	if err != nil {
		t.Fatal(err)
	}
	if len(feats) != 1 || feats[0] != "GET /pets" {
		t.Fatalf("unexpected features: %v", feats)
	}
}
