package models

import "testing"

func TestValidateSku(t *testing.T) {
	valid := []string{"MOUSE01", "a1", "Keyboard042"}
	for _, sku := range valid {
		if err := ValidateSku(sku); err != nil {
			t.Fatalf("ValidateSku(%q): unexpected error %v", sku, err)
		}
	}

	invalid := []string{"", "MOUSE", "01MOUSE", "MO-USE01", "MOUSE01X", "123"}
	for _, sku := range invalid {
		if err := ValidateSku(sku); err == nil {
			t.Fatalf("ValidateSku(%q): expected error", sku)
		}
	}
}
