package version

import (
	"strings"
	"testing"
)

func TestStringShortensCommit(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })

	Version, GitCommit = "v1.2.0", "0123456789abcdef"
	got := String()
	if !strings.HasPrefix(got, "v1.2.0 (0123456, ") {
		t.Errorf("String() = %q", got)
	}
	if Get().IsDev() {
		t.Error("stamped build reported as dev")
	}
}
