package automation

import "testing"

func TestNormalize(t *testing.T) {
	if got := Normalize("  Qual o PREÇO?\n"); got != "qual o preço?" {
		t.Fatalf("got %q", got)
	}
}

func TestIsGreeting(t *testing.T) {
	cases := map[string]bool{
		"oi":                true,
		"olá, tudo bem?":    true,
		"bom dia!":          true,
		"hi there":          true,
		"this is a test":    false,
		"boiada":            false,
		"quero comprar":     false,
		"ola":               true,
		"boa noite pessoal": true,
		"":                  false,
	}
	for in, want := range cases {
		if got := IsGreeting(in); got != want {
			t.Errorf("IsGreeting(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMatchTrigger_ExactBeatsSubstring(t *testing.T) {
	rules := []AutoResponse{
		{ID: 1, TriggerType: TriggerKeyword, TriggerValue: "menu", ResponseText: "contains", Active: true},
		{ID: 2, TriggerType: TriggerKeyword, TriggerValue: "menu completo", ResponseText: "exact", Active: true},
	}
	m := MatchTrigger(rules, "menu completo")
	if m.Kind != MatchAutoResponse || m.Rule.ID != 2 {
		t.Fatalf("expected exact rule 2, got %+v", m)
	}
}

func TestMatchTrigger_Substring(t *testing.T) {
	rules := []AutoResponse{
		{ID: 1, TriggerType: TriggerKeyword, TriggerValue: "Preço", ResponseText: "R$99", Active: true},
	}
	m := MatchTrigger(rules, Normalize("qual o preço?"))
	if m.Kind != MatchAutoResponse || m.Rule.ResponseText != "R$99" {
		t.Fatalf("unexpected match %+v", m)
	}
}

func TestMatchTrigger_PriorityAndInsertionOrder(t *testing.T) {
	rules := []AutoResponse{
		{ID: 1, TriggerType: TriggerKeyword, TriggerValue: "entrega", Priority: 1, Active: true},
		{ID: 2, TriggerType: TriggerKeyword, TriggerValue: "entrega", Priority: 5, Active: true},
		{ID: 3, TriggerType: TriggerKeyword, TriggerValue: "entrega", Priority: 5, Active: true},
	}
	m := MatchTrigger(rules, "entrega")
	if m.Rule == nil || m.Rule.ID != 2 {
		t.Fatalf("expected rule 2, got %+v", m.Rule)
	}
}

func TestMatchTrigger_SkipsInactiveAndEmpty(t *testing.T) {
	rules := []AutoResponse{
		{ID: 1, TriggerType: TriggerKeyword, TriggerValue: "horario", Active: false},
		{ID: 2, TriggerType: TriggerKeyword, TriggerValue: "  ", Active: true},
	}
	if m := MatchTrigger(rules, "qual o horario"); m.Kind != NoMatch {
		t.Fatalf("expected no match, got %+v", m)
	}
}

func TestMatchTrigger_Greeting(t *testing.T) {
	rules := []AutoResponse{
		{ID: 1, TriggerType: TriggerGreeting, TriggerValue: "eae, Salve ,fala", ResponseText: "E aí!", Active: true},
		{ID: 2, TriggerType: TriggerKeyword, TriggerValue: "pedido", Active: true},
	}
	m := MatchTrigger(rules, "salve galera")
	if m.Kind != MatchGreeting || m.Rule.ID != 1 {
		t.Fatalf("expected greeting, got %+v", m)
	}
	// keyword passes win over greeting
	m = MatchTrigger(rules, "salve, meu pedido")
	if m.Kind != MatchAutoResponse || m.Rule.ID != 2 {
		t.Fatalf("expected keyword, got %+v", m)
	}
}

func TestMatchFlow(t *testing.T) {
	flows := []Flow{
		{ID: 1, TriggerKeywords: []string{"Cadastro", "registro"}, Priority: 0, Active: true},
		{ID: 2, TriggerKeywords: []string{"cadastro"}, Priority: 3, Active: true},
		{ID: 3, TriggerKeywords: []string{"suporte"}, Active: false},
	}
	if f := MatchFlow(flows, "cadastro"); f == nil || f.ID != 2 {
		t.Fatalf("expected flow 2, got %+v", f)
	}
	if f := MatchFlow(flows, "registro"); f == nil || f.ID != 1 {
		t.Fatalf("expected flow 1, got %+v", f)
	}
	if f := MatchFlow(flows, "quero fazer cadastro"); f != nil {
		t.Fatalf("flow triggers are exact, got %+v", f)
	}
	if f := MatchFlow(flows, "suporte"); f != nil {
		t.Fatalf("inactive flow matched: %+v", f)
	}
}
