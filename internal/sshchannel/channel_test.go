package sshchannel

import "testing"

func TestQuotePath(t *testing.T) {
	cases := map[string]string{
		"/tmp/plugins":             "'/tmp/plugins'",
		"/tmp/my plugins":          "'/tmp/my plugins'",
		"/tmp/it's":                `'/tmp/it'\''s'`,
		"plain":                    "'plain'",
		"":                         "''",
		"/tmp/$HOME/`cmd`/plugins": "'/tmp/$HOME/`cmd`/plugins'",
	}
	for in, want := range cases {
		if got := QuotePath(in); got != want {
			t.Errorf("QuotePath(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusUnknown:      "unknown",
		StatusChecking:     "checking",
		StatusConnected:    "connected",
		StatusDisconnected: "disconnected",
		Status(42):         "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}
