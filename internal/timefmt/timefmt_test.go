package timefmt

import (
	"fmt"
	"testing"
)

func TestHMS(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"00:00:00", 0},
		{"00:05:00", 300},
		{"01:02:03", 3723},
		{"12:00:00", 43200},
		{" 00:00:07 ", 7},
		{"-00:01:05", -65},
		{"--:--:--", 0},
		{"", 0},
		{"5:00", 0},
		{"aa:bb:cc", 0},
		{"01:xx:03", 0},
		{"1.5:00:00", 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.input), func(t *testing.T) {
			if got := HMS(tt.input); got != tt.want {
				t.Errorf("HMS(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestHMSWellFormedGrid(t *testing.T) {
	for h := 0; h < 24; h += 5 {
		for m := 0; m < 60; m += 13 {
			for s := 0; s < 60; s += 17 {
				input := fmt.Sprintf("%02d:%02d:%02d", h, m, s)
				want := h*3600 + m*60 + s
				if got := HMS(input); got != want {
					t.Fatalf("HMS(%q) = %d, want %d", input, got, want)
				}
			}
		}
	}
}

func TestClockTime(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{" 11:17 AM", 40620},
		{"12:05 PM", 43500},
		{"12:30 AM", 1800},
		{"1:00 PM", 46800},
		{"11:59 PM", 86340},
		{"junk", 0},
		{"11:17", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.input), func(t *testing.T) {
			if got := ClockTime(tt.input); got != tt.want {
				t.Errorf("ClockTime(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestClockTimeHalves(t *testing.T) {
	for h := 1; h <= 12; h++ {
		am := ClockTime(fmt.Sprintf("%d:15 AM", h))
		if am >= 12*3600 {
			t.Errorf("%d:15 AM = %d, want < 43200", h, am)
		}
		pm := ClockTime(fmt.Sprintf("%d:15 PM", h))
		if pm < 12*3600 {
			t.Errorf("%d:15 PM = %d, want >= 43200", h, pm)
		}
	}
}
