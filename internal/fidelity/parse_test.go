package fidelity

import (
	"reflect"
	"testing"
)

func TestExtractScore(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     float64
	}{
		{"plain", "Fidelity Score: 0.85\nViolations: None", 0.85},
		{"lowercase", "fidelity score: 0.5", 0.5},
		{"integer one", "Fidelity Score: 1\nViolations: None", 1.0},
		{"zero", "Fidelity Score: 0.0", 0.0},
		{"clamped high", "Fidelity Score: 3.5", 1.0},
		{"missing treated as perfect", "The answer looks fine to me.", 1.0},
		{"leading dot", "Fidelity Score: .9", 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractScore(tt.response); got != tt.want {
				t.Errorf("extractScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractViolations(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
	}{
		{
			"none",
			"Fidelity Score: 1.0\nViolations: None",
			nil,
		},
		{
			"none with period",
			"Fidelity Score: 1.0\nViolations: none.",
			nil,
		},
		{
			"numbered list",
			"Fidelity Score: 0.6\nViolations:\n1. Added the date 1905, absent from the transcript\n2. Corrected \"osmosis\" to \"diffusion\"",
			[]string{`Added the date 1905, absent from the transcript`, `Corrected "osmosis" to "diffusion"`},
		},
		{
			"bulleted list",
			"Fidelity Score: 0.7\nViolations:\n- introduced the term photosynthesis",
			[]string{"introduced the term photosynthesis"},
		},
		{
			"single prose line",
			"Fidelity Score: 0.9\nViolations: one new example was added",
			[]string{"one new example was added"},
		},
		{
			"missing section",
			"Fidelity Score: 1.0",
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractViolations(tt.response)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractViolations = %#v, want %#v", got, tt.want)
			}
		})
	}
}
