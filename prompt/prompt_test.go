package prompt

import (
	"strings"
	"testing"

	"github.com/minios-linux/potr/placeholder"
)

func TestBuildEmbedsSourceVerbatim(t *testing.T) {
	src := "\n  Hello {name},\n<b>welcome</b>  \n"
	p := Builder{TargetLang: "German", SourceLang: "English"}.Build(Params{
		Source:       src,
		Context:      "greeting",
		Placeholders: placeholder.Extract(src),
	})

	if !strings.HasSuffix(p.Input, src) {
		t.Fatalf("input does not end with the verbatim source:\n%q", p.Input)
	}
	if !strings.Contains(p.Input, "Context: greeting\n") {
		t.Fatalf("context missing:\n%s", p.Input)
	}
	if !strings.Contains(p.Input, "Placeholders to keep unchanged: </b> <b> {name}\n") {
		t.Fatalf("placeholder list missing or unsorted:\n%s", p.Input)
	}
	if !strings.Contains(p.Instructions, "from English into German") {
		t.Fatalf("language names not substituted:\n%s", p.Instructions)
	}
	if strings.Contains(p.Instructions, "{{") {
		t.Fatalf("unreplaced template variable:\n%s", p.Instructions)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := Builder{TargetLang: "French"}
	params := Params{Source: "%d files", Placeholders: placeholder.Extract("%d files"), Plural: true, PluralIndex: 1}
	first := b.Build(params)
	for i := 0; i < 5; i++ {
		if got := b.Build(params); got != first {
			t.Fatalf("Build is not deterministic: %#v vs %#v", got, first)
		}
	}
	if !strings.Contains(first.Input, "msgstr[1]") {
		t.Fatalf("plural slot missing:\n%s", first.Input)
	}
}

func TestBuildWithoutOptionalParts(t *testing.T) {
	p := Builder{TargetLang: "Russian", Template: "Translate to {{targetLang}}."}.Build(Params{Source: "Open"})
	if p.Instructions != "Translate to Russian." {
		t.Fatalf("Instructions = %q", p.Instructions)
	}
	if p.Input != "Source text:\nOpen" {
		t.Fatalf("Input = %q", p.Input)
	}
}
