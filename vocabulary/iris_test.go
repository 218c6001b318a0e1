package vocabulary

import "testing"

func TestExpand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bao:BAO_0000190", NamespaceBAO + "BAO_0000190"},
		{"obo:CHEBI_15377", NamespaceOBO + "CHEBI_15377"},
		{NamespaceBAT + "Units", NamespaceBAT + "Units"},
		{"unknown:thing", "unknown:thing"},
		{"plain", "plain"},
		{"", ""},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := Expand(tc.in); got != tc.want {
				t.Errorf("Expand(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestAbbreviate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{NamespaceBAO + "BAO_0000190", "bao:BAO_0000190"},
		{NamespaceProvisional + "prov_0000001", "prov:prov_0000001"},
		{"http://example.org/x", "http://example.org/x"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := Abbreviate(tc.in); got != tc.want {
				t.Errorf("Abbreviate(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExpandAbbreviateRoundTrip(t *testing.T) {
	for abbrev := range Prefixes {
		short := abbrev + ":X_1"
		if got := Abbreviate(Expand(short)); got != short {
			t.Errorf("round trip of %q gave %q", short, got)
		}
	}
}

func TestIsProvisional(t *testing.T) {
	if !IsProvisional("prov:prov_0000001") {
		t.Error("expected abbreviated provisional URI to be provisional")
	}
	if IsProvisional("bao:BAO_0000001") {
		t.Error("expected BAO URI not to be provisional")
	}
}
