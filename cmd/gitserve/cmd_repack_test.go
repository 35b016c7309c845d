package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRepackCmdPacksLooseObjects(t *testing.T) {
	r := seedRepo(t)

	var output bytes.Buffer
	cmd := newRepackCmd()
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs([]string{r.GitDir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("repack Execute: %v\noutput:\n%s", err, output.String())
	}
	if !strings.Contains(output.String(), "packed 3 objects into pack-") {
		t.Errorf("repack output = %q", output.String())
	}

	// Everything is packed now; a second run has nothing to do.
	output.Reset()
	cmd = newRepackCmd()
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs([]string{r.GitDir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("repack Execute 2: %v", err)
	}
	if !strings.Contains(output.String(), "nothing to pack") {
		t.Errorf("second repack output = %q", output.String())
	}
}
