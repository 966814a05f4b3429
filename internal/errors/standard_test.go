package errors

import "testing"

func TestInvalidSizeMessage(t *testing.T) {
	err := InvalidSize(0, "smem.Create")

	if err.Category != CategoryValidation {
		t.Errorf("Category = %v, want %v", err.Category, CategoryValidation)
	}

	want := "[VALIDATION:INVALID_SIZE] Invalid size 0 in smem.Create (caller: github.com/orizon-lang/mempool/internal/errors.InvalidSize)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestInvalidOrderRange(t *testing.T) {
	err := InvalidOrderRange(5, 2)
	if err.Code != "INVALID_ORDER_RANGE" {
		t.Errorf("Code = %q, want INVALID_ORDER_RANGE", err.Code)
	}

	if err.Context["order_min"] != uint32(5) || err.Context["order_max"] != uint32(2) {
		t.Errorf("Context = %v, missing expected order fields", err.Context)
	}
}
