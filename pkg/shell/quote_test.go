package shell

import "testing"

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"/opt/app/bin/server", "/opt/app/bin/server"},
		{"app@2.service", "app@2.service"},
		{"/srv/my app/run.sh", "'/srv/my app/run.sh'"},
		{"it's", `'it'"'"'s'`},
		{"$(reboot)", "'$(reboot)'"},
		{"a;b", "'a;b'"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Quote(tt.in); got != tt.want {
				t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
