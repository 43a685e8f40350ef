package wallet

import "testing"

func TestNoOpLogger(t *testing.T) {
	var l Logger = &NoOpLogger{}

	// Must accept any call shape without panicking.
	l.Debug("debug")
	l.Info("info", "key", "value")
	l.Warn("warn", "key", 42, "odd-trailing-key")
	l.Error("error", "err", nil)
}

func TestStdLogger(t *testing.T) {
	l := NewStdLogger("test")

	l.Debug("debug message", "key", "value")
	l.Info("info message", "count", 3)
	l.Warn("warn message")
	l.Error("error message", "err", "boom")
}

func TestToString(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, "<nil>"},
		{"plain", "plain"},
		{42, "42"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := toString(tt.in); got != tt.want {
			t.Errorf("toString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
