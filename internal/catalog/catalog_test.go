package catalog

import "testing"

func TestDefaultCatalog(t *testing.T) {
	if Default.Len() != 12 {
		t.Fatalf("Len() = %d, want 12", Default.Len())
	}

	keys := Default.Keys()
	want := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "ß", "0", "i"}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], k)
		}
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		key      string
		wantName string
		found    bool
	}{
		{"7", "Barking", true},
		{"ß", "Gaze Right", true},
		{"i", "Stop All Sounds", true},
		{"I", "", false},
		{"ping", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			trig, ok := Default.Lookup(tt.key)
			if ok != tt.found {
				t.Fatalf("Lookup(%q) found = %v, want %v", tt.key, ok, tt.found)
			}
			if trig.Name != tt.wantName {
				t.Errorf("Lookup(%q).Name = %q, want %q", tt.key, trig.Name, tt.wantName)
			}
			if Default.Contains(tt.key) != tt.found {
				t.Errorf("Contains(%q) = %v, want %v", tt.key, !tt.found, tt.found)
			}
		})
	}
}

func TestName(t *testing.T) {
	if got := Default.Name("4"); got != "Happy" {
		t.Errorf("Name(4) = %q, want Happy", got)
	}
	if got := Default.Name("zz"); got != "zz" {
		t.Errorf("Name(zz) = %q, want zz", got)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		input   string
		wantKey string
		found   bool
	}{
		{"7", "7", true},
		{" 7 ", "7", true},
		{"barking", "7", true},
		{"Gaze Left", "0", true},
		{"nope", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			trig, ok := Default.Resolve(tt.input)
			if ok != tt.found || trig.Key != tt.wantKey {
				t.Errorf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.input, trig.Key, ok, tt.wantKey, tt.found)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		triggers []Trigger
		wantErr  bool
	}{
		{"valid", []Trigger{{Key: "a", Name: "A"}, {Key: "b", Name: "B"}}, false},
		{"empty key", []Trigger{{Key: "", Name: "A"}}, true},
		{"empty name", []Trigger{{Key: "a", Name: " "}}, true},
		{"duplicate key", []Trigger{{Key: "a", Name: "A"}, {Key: "a", Name: "B"}}, true},
		{"key too long", []Trigger{{Key: "abcdefghi", Name: "A"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.triggers)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAllReturnsCopy(t *testing.T) {
	all := Default.All()
	all[0].Name = "mutated"

	if Default.Name("1") != "Idle" {
		t.Error("All() exposed internal slice")
	}
}

func TestTriggerString(t *testing.T) {
	trig := Trigger{Key: "x", Name: "Thing"}
	if got := trig.String(); got != "[x] Thing" {
		t.Errorf("String() = %q", got)
	}
}
