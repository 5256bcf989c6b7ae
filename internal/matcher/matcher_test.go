package matcher

import (
	"errors"
	"reflect"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		host    string
		want    bool
	}{
		{"exact match", "web1.example.com", "web1.example.com", true},
		{"exact match case insensitive", "Web1.Example.Com", "web1.example.com", true},
		{"exact mismatch", "web1.example.com", "web2.example.com", false},
		{"star matches prefix", "web*.example.com", "web12.example.com", true},
		{"star stops at slash", "web*", "web1/x", false},
		{"star does not match other domain", "web*.example.com", "web1.example.org", false},
		{"question mark matches single char", "db?.internal", "db1.internal", true},
		{"question mark needs a char", "db?.internal", "db.internal", false},
		{"character class", "app[12].example.com", "app2.example.com", true},
		{"character class miss", "app[12].example.com", "app3.example.com", false},
		{"bad pattern matches nothing", "app[", "app[", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.pattern, tt.host); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.host, got, tt.want)
			}
		})
	}
}

func TestAny(t *testing.T) {
	if !Any(nil, "anything") {
		t.Error("Any(nil) = false, want true")
	}
	if !Any([]string{"db1", "web*"}, "web3") {
		t.Error("Any() = false, want true for web3")
	}
	if Any([]string{"db1", "web*"}, "cache1") {
		t.Error("Any() = true, want false for cache1")
	}
}

func TestSelect(t *testing.T) {
	hosts := []string{"web1", "db1", "web2"}

	if got := Select("web*", hosts); !reflect.DeepEqual(got, []string{"web1", "web2"}) {
		t.Errorf("Select(web*) = %v", got)
	}
	if got := Select("cache*", hosts); got != nil {
		t.Errorf("Select(cache*) = %v, want nil", got)
	}
}

func TestValidate(t *testing.T) {
	for _, p := range []string{"web1.example.com", "web*.example.com", "app[12]"} {
		if err := Validate(p); err != nil {
			t.Errorf("Validate(%q) error = %v", p, err)
		}
	}
	for _, p := range []string{"", "app[", "web\\"} {
		if err := Validate(p); !errors.Is(err, ErrBadPattern) {
			t.Errorf("Validate(%q) error = %v, want %v", p, err, ErrBadPattern)
		}
	}
}
