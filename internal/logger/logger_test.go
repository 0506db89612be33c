package logger

import "testing"

func TestParseLevel(t *testing.T) {
	tests := map[string]level{
		"":      levelInfo,
		"info":  levelInfo,
		"debug": levelDebug,
		"trace": levelDebug,
		"warn":  levelWarn,
		"error": levelWarn,
		"bogus": levelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}
