package docker

import "testing"

func TestParseState(t *testing.T) {
	cases := []struct {
		input string
		want  State
	}{
		{"running", StateRunning},
		{"RUNNING", StateRunning},
		{"exited", StateExited},
		{"created", StateCreated},
		{"paused", StatePaused},
		{"restarting", StateRestarting},
		{"removing", StateRemoving},
		{"dead", StateDead},
		{"stopped", StateUnknown},
		{"", StateUnknown},
	}

	for _, tc := range cases {
		if got := parseState(tc.input); got != tc.want {
			t.Errorf("parseState(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNew_DefaultLabel(t *testing.T) {
	t.Setenv("DOCKER_HOST", "tcp://127.0.0.1:2375")
	r, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()
	if r.label != DefaultLabel {
		t.Errorf("label = %q, want %q", r.label, DefaultLabel)
	}
}
