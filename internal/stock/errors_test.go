package stock

import (
	"errors"
	"fmt"
	"testing"
)

func TestRejectionClassification(t *testing.T) {
	if !Rejection(fmt.Errorf("%w: p1", ErrProductNotFound)) {
		t.Fatal("wrapped ErrProductNotFound should be a rejection")
	}
	if !Rejection(&InsufficientStockError{ProductID: "p1", Required: 3, Available: 1}) {
		t.Fatal("InsufficientStockError should be a rejection")
	}
	if Rejection(errors.New("connection refused")) {
		t.Fatal("infrastructure errors are not rejections")
	}
	if Rejection(nil) {
		t.Fatal("nil is not a rejection")
	}
}

func TestInsufficientStockErrorMessage(t *testing.T) {
	err := &InsufficientStockError{ProductID: "p9", Required: 7, Available: 6}
	want := "insufficient stock for product p9: required 7, available 6"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
