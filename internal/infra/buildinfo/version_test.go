package buildinfo

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	tests := []struct {
		name  string
		value string
	}{
		{"Version", info.Version},
		{"Commit", info.Commit},
		{"BuildTime", info.BuildTime},
		{"GoVersion", info.GoVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" {
				t.Errorf("%s field should not be empty", tt.name)
			}
		})
	}

	if GoVersion == "unknown" && info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want runtime version %q", info.GoVersion, runtime.Version())
	}
}

func TestString(t *testing.T) {
	info := Get()
	expected := info.Version + " (" + info.Commit + ") built at " + info.BuildTime
	if s := String(); s != expected {
		t.Errorf("String() = %q, want %q", s, expected)
	}
}

func TestInfo_JSON(t *testing.T) {
	b, err := json.Marshal(Info{Version: "v1.2.0", Commit: "abc", BuildTime: "now", GoVersion: "go1.24"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"version":"v1.2.0","commit":"abc","build_time":"now","go_version":"go1.24"}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent("segmesh-cli")
	if !strings.HasPrefix(ua, "segmesh-cli/"+Version+" (") {
		t.Errorf("UserAgent() = %q", ua)
	}
	if !strings.Contains(ua, runtime.GOOS) {
		t.Errorf("UserAgent() = %q, missing GOOS", ua)
	}
}
