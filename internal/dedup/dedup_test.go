package dedup

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"jobalert/internal/model"
)

func TestIdentity(t *testing.T) {
	base := model.Posting{Title: "Python Developer", Company: "Acme", Location: "Amsterdam"}

	tests := []struct {
		name string
		p    model.Posting
		same bool
	}{
		{name: "identical", p: base, same: true},
		{name: "case and spacing", p: model.Posting{Title: "  python   DEVELOPER", Company: "acme ", Location: "AMSTERDAM"}, same: true},
		{name: "link ignored", p: model.Posting{Title: "Python Developer", Company: "Acme", Location: "Amsterdam", Link: "https://x"}, same: true},
		{name: "other title", p: model.Posting{Title: "Go Developer", Company: "Acme", Location: "Amsterdam"}},
		{name: "other location", p: model.Posting{Title: "Python Developer", Company: "Acme", Location: "Utrecht"}},
		{name: "field boundary", p: model.Posting{Title: "Python Developer|Acme", Company: "", Location: "Amsterdam"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Identity(tt.p) == Identity(base)
			if got != tt.same {
				t.Errorf("Identity equal = %v, want %v", got, tt.same)
			}
		})
	}

	if len(Identity(base)) != 32 {
		t.Errorf("identity length = %d, want 32", len(Identity(base)))
	}
}

func TestIdentityDiacritics(t *testing.T) {
	a := model.Posting{Title: "Café Manager", Company: "Zoë B.V.", Location: "Den Haag"}
	b := model.Posting{Title: "Cafe Manager", Company: "Zoe B.V.", Location: "Den Haag"}
	if Identity(a) != Identity(b) {
		t.Error("identities should ignore diacritics")
	}
}

func TestFilterNew(t *testing.T) {
	p1 := model.Posting{Title: "A", Company: "X", Location: "L"}
	p2 := model.Posting{Title: "B", Company: "X", Location: "L"}
	p3 := model.Posting{Title: "C", Company: "Y", Location: "L"}

	tests := []struct {
		name     string
		postings []model.Posting
		sent     []string
		want     []model.Posting
	}{
		{name: "nothing sent", postings: []model.Posting{p1, p2, p3}, want: []model.Posting{p1, p2, p3}},
		{name: "some sent", postings: []model.Posting{p1, p2, p3}, sent: []string{Identity(p2)}, want: []model.Posting{p1, p3}},
		{name: "all sent", postings: []model.Posting{p1, p2}, sent: []string{Identity(p1), Identity(p2)}},
		{name: "duplicate within batch", postings: []model.Posting{p3, p1, p3}, want: []model.Posting{p3, p1}},
		{name: "empty batch", sent: []string{Identity(p1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterNew(tt.postings, tt.sent)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FilterNew mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAppendIdempotent(t *testing.T) {
	p1 := model.Posting{Title: "A"}
	p2 := model.Posting{Title: "B"}

	once := Append([]string{"old"}, []model.Posting{p1, p2})
	twice := Append(once, []model.Posting{p1, p2})

	want := []string{"old", Identity(p1), Identity(p2)}
	if diff := cmp.Diff(want, once); diff != "" {
		t.Errorf("Append mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second Append changed the set (-want +got):\n%s", diff)
	}
}

func TestAppendDoesNotAlias(t *testing.T) {
	sent := make([]string, 1, 10)
	sent[0] = "old"
	out := Append(sent, []model.Posting{{Title: "A"}})
	out[0] = "changed"
	if sent[0] != "old" {
		t.Error("Append modified its input")
	}
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%032d", i)
	}
	return out
}

func TestBound(t *testing.T) {
	// Each 32-char identity encodes to 34 bytes plus a separator.
	tests := []struct {
		name     string
		in       []string
		retain   int
		maxBytes int
		want     []string
	}{
		{name: "under budget untouched", in: ids(5), retain: 2, maxBytes: 8192, want: ids(5)},
		{name: "over budget keeps last retain", in: ids(10), retain: 3, maxBytes: 300, want: ids(10)[7:]},
		{name: "retain still too big", in: ids(10), retain: 8, maxBytes: 110, want: ids(10)[7:]},
		{name: "nothing fits", in: ids(3), retain: 3, maxBytes: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bound(tt.in, tt.retain, tt.maxBytes)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Bound mismatch (-want +got):\n%s", diff)
			}
			if n := len(model.EncodeSentIDs(got)); n > tt.maxBytes && len(got) > 0 {
				t.Errorf("encoded size %d exceeds budget %d", n, tt.maxBytes)
			}
		})
	}
}

func TestBoundDefaultsKeepHundred(t *testing.T) {
	in := ids(300)
	got := Bound(in, 100, 8192)
	if len(got) != 100 {
		t.Fatalf("kept %d identities, want 100", len(got))
	}
	if got[0] != in[200] || got[99] != in[299] {
		t.Error("expected the most recently appended identities to survive")
	}
}
