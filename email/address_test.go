package email

import "testing"

func TestAddressEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Address
		want bool
	}{
		{"same addr different case", Address{Addr: "Bob@Example.com"}, Address{Addr: "bob@example.com"}, true},
		{"different addr", Address{Addr: "bob@example.com"}, Address{Addr: "carol@example.com"}, false},
		{"name ignored", Address{Name: "Bob", Addr: "bob@example.com"}, Address{Name: "Robert", Addr: "bob@example.com"}, true},
		{"both group terminators", Address{Group: true}, Address{Group: true}, true},
		{"one group terminator", Address{Group: true}, Address{Addr: "bob@example.com"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddressDomain(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"bob@example.com", "example.com"},
		{"bob@sub.example.com", "sub.example.com"},
		{"no-at-sign", ""},
		{"", ""},
	}
	for _, tt := range tests {
		a := Address{Addr: tt.addr}
		if got := a.Domain(); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestAddressIsGroupTerminator(t *testing.T) {
	if (Address{Group: true}).IsGroupTerminator() != true {
		t.Error("IsGroupTerminator() = false for Group:true")
	}
	if (Address{Addr: "bob@example.com"}).IsGroupTerminator() != false {
		t.Error("IsGroupTerminator() = true for a real mailbox")
	}
}
