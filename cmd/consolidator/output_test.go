package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Name", "Points"}, [][]string{{"planning", "12"}, {"short"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"Name", "Points", "planning", "12", "short"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("empty headers should render nothing")
	}
}

func TestIsTerminal(t *testing.T) {
	if isTerminal(&bytes.Buffer{}) {
		t.Fatal("buffer reported as terminal")
	}
}
