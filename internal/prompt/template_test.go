package prompt

import (
	"reflect"
	"testing"
)

func TestRender_SubstitutesAllVariables(t *testing.T) {
	t.Parallel()

	got, err := Render("hello {{name}}, you have {{count}} messages", map[string]string{
		"name":  "ava",
		"count": "3",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "hello ava, you have 3 messages"
	if got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestRender_MissingVariableIsAnError(t *testing.T) {
	t.Parallel()

	_, err := Render("hello {{name}}", map[string]string{})
	if err == nil {
		t.Fatal("expected an error for a missing variable")
	}
}

func TestRender_ExtraVarsAreIgnored(t *testing.T) {
	t.Parallel()

	got, err := Render("static text", map[string]string{"unused": "x"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got != "static text" {
		t.Fatalf("Render() = %q, want unchanged input", got)
	}
}

func TestExtractVariables_DedupsAndPreservesOrder(t *testing.T) {
	t.Parallel()

	got := ExtractVariables("{{a}} and {{b}} and {{a}} again")
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractVariables() = %v, want %v", got, want)
	}
}

func TestExtractVariables_NoPlaceholdersReturnsNil(t *testing.T) {
	t.Parallel()

	if got := ExtractVariables("nothing to see here"); got != nil {
		t.Fatalf("ExtractVariables() = %v, want nil", got)
	}
}
