package email

import "testing"

func addrs(s ...string) []Address {
	out := make([]Address, len(s))
	for i, a := range s {
		out[i] = Address{Addr: a}
	}
	return out
}

func TestDedup(t *testing.T) {
	in := addrs("a@x.com", "B@X.com", "a@x.com", "c@x.com")
	got := Dedup(in)
	want := addrs("a@x.com", "B@X.com", "c@x.com")
	if len(got) != len(want) {
		t.Fatalf("Dedup() = %v, want %v", got, want)
	}
	for i := range got {
		if !got[i].Equal(want[i]) {
			t.Errorf("Dedup()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDedupIdempotent(t *testing.T) {
	in := addrs("a@x.com", "a@x.com", "b@x.com")
	once := Dedup(in)
	twice := Dedup(once)
	if len(once) != len(twice) {
		t.Fatalf("Dedup(Dedup(x)) = %v, want %v", twice, once)
	}
}

func TestRemoveXrefs(t *testing.T) {
	a := addrs("a@x.com", "b@x.com")
	b := addrs("b@x.com", "c@x.com")
	got := RemoveXrefs(a, b)
	want := addrs("c@x.com")
	if len(got) != 1 || !got[0].Equal(want[0]) {
		t.Errorf("RemoveXrefs() = %v, want %v", got, want)
	}
}

func TestRemoveUser(t *testing.T) {
	self := addrs("me@x.com")
	tests := []struct {
		name      string
		list      []Address
		leaveOnly bool
		wantLen   int
	}{
		{"strips self", addrs("me@x.com", "bob@x.com"), false, 1},
		{"leaveOnly keeps self when list would be empty", addrs("me@x.com"), true, 1},
		{"leaveOnly no-op when others remain", addrs("me@x.com", "bob@x.com"), true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemoveUser(tt.list, self, tt.leaveOnly)
			if len(got) != tt.wantLen {
				t.Errorf("RemoveUser() = %v, want len %d", got, tt.wantLen)
			}
		})
	}
}

func TestContains(t *testing.T) {
	list := addrs("a@x.com", "b@x.com")
	if !Contains(list, Address{Addr: "A@X.com"}) {
		t.Error("Contains() = false, want true (case-insensitive)")
	}
	if Contains(list, Address{Addr: "c@x.com"}) {
		t.Error("Contains() = true, want false")
	}
}

func TestListPatternMatch(t *testing.T) {
	tests := []struct {
		pattern ListPattern
		addr    string
		want    bool
	}{
		{"list@example.com", "list@example.com", true},
		{"list@example.com", "List@Example.com", true},
		{"list@example.com", "other@example.com", false},
		{"*", "anything@example.com", true},
	}
	for _, tt := range tests {
		if got := tt.pattern.Match(tt.addr); got != tt.want {
			t.Errorf("ListPattern(%q).Match(%q) = %v, want %v", tt.pattern, tt.addr, got, tt.want)
		}
	}
}

func TestFindMailingLists(t *testing.T) {
	patterns := []ListPattern{"list@example.com"}
	to := append(addrs("list@example.com", "bob@example.com"), Address{Group: true})
	cc := addrs("carol@example.com")
	got := FindMailingLists(to, cc, patterns)
	if len(got) != 1 || got[0].Addr != "list@example.com" {
		t.Errorf("FindMailingLists() = %v, want [list@example.com]", got)
	}
}
