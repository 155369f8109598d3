package hoist

import "testing"

func TestIsHoistable(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		dep     string
		want    bool
	}{
		{"wildcard include, no exclude", []string{Wildcard}, nil, "left-pad", true},
		{"no include configured", nil, nil, "left-pad", false},
		{"excluded even with wildcard include", []string{Wildcard}, []string{"left-pad"}, "left-pad", false},
		{"glob include match", []string{"@babel*"}, nil, "@babel", true},
		{"glob include no match", []string{"@babel*"}, nil, "react", false},
		{"exclude glob", []string{Wildcard}, []string{"@babel*"}, "@babel", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.include, tt.exclude)
			if got := m.IsHoistable(tt.dep); got != tt.want {
				t.Errorf("IsHoistable(%q) = %v, want %v", tt.dep, got, tt.want)
			}
		})
	}
}
