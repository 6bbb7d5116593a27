package main

import "testing"

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "[░░░░]"},
		{0.5, "[██░░]"},
		{1, "[████]"},
		{1.7, "[████]"},
		{-1, "[░░░░]"},
	}
	for _, tt := range tests {
		if got := renderProgressBar(tt.value, 4); got != tt.want {
			t.Errorf("renderProgressBar(%v) = %q; want %q", tt.value, got, tt.want)
		}
	}
}

func TestOnOff(t *testing.T) {
	if onOff(true) != "on" || onOff(false) != "off" {
		t.Error("onOff() mismatch")
	}
}

func TestDaemonAddr_UsesConfiguredPort(t *testing.T) {
	t.Setenv("STUDYLOOP_HOME", t.TempDir())

	if got := daemonAddr(); got != "http://127.0.0.1:7433" {
		t.Errorf("daemonAddr() = %q; want default port", got)
	}
}
