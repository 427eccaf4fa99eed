package subscription

import "testing"

func TestMatchesWildcards(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"sensors/+/temp", "sensors/a/temp", true},
		{"sensors/+/temp", "sensors/a/b/temp", false},
		{"sensors/#", "sensors/a/b/temp", true},
		{"sensors/#", "sensors", true},
		{"sensors", "sensors/a", false},
		{"+/+", "a/b", true},
		{"#", "a/b/c", true},
		{"#", "$SYS/a", false},
		{"$SYS/#", "$SYS/uptime", true},
	}
	for _, c := range cases {
		if got := Matches(c.filter, c.topic); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.filter, c.topic, got, c.want)
		}
	}
}

func TestParseFilterKinds(t *testing.T) {
	if p := Parse("sensors/temp"); p.Kind != KindNormal || p.Filter != "sensors/temp" {
		t.Fatalf("got %+v", p)
	}
	p := Parse("$share/workers/sensors/temp")
	if p.Kind != KindShared || p.Group != "workers" || p.Filter != "sensors/temp" {
		t.Fatalf("got %+v", p)
	}
	e := Parse("$exclusive/sensors/temp")
	if e.Kind != KindExclusive || e.Filter != "sensors/temp" {
		t.Fatalf("got %+v", e)
	}
}

func TestValidFilterRejectsMalformed(t *testing.T) {
	valid := []string{"a/b/c", "a/+/c", "a/#", "#", "+"}
	for _, f := range valid {
		if !ValidFilter(f) {
			t.Errorf("expected %q to be valid", f)
		}
	}
	invalid := []string{"", "a/#/b", "a/b#", "a/+b"}
	for _, f := range invalid {
		if ValidFilter(f) {
			t.Errorf("expected %q to be invalid", f)
		}
	}
}
