package services

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a Grocy request exceeds the API timeout
	ErrTimeout = errors.New("grocy request timed out")
	// ErrCommunication is returned when Grocy answered without a usable body or error message
	ErrCommunication = errors.New("Grocy Communication Error")
	// ErrNoProduct is returned by station actions when no product is shown
	ErrNoProduct = errors.New("no product selected")
	// ErrBusy is returned when an action is attempted while another one is in progress
	ErrBusy = errors.New("another operation is in progress")
	// ErrInvalidAllotment is returned when the requested amount cannot be taken from stock
	ErrInvalidAllotment = errors.New("requested amount is not available in stock")
	// ErrIndexOutOfRange is returned when a packaging unit or stock entry index does not exist
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrNothingToUndo is returned when the booking journal holds no undoable transaction
	ErrNothingToUndo = errors.New("nothing to undo")
)

// BackendError carries the error_message of a Grocy error envelope
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return e.Message
}

type ScanErrorKind int

const (
	ScanNotFound ScanErrorKind = iota
	ScanAmbiguous
)

// ScanError is returned when a barcode resolves to zero or several products
type ScanError struct {
	Kind    ScanErrorKind
	Barcode string
}

func (e *ScanError) Error() string {
	if e.Kind == ScanAmbiguous {
		return fmt.Sprintf("Multiple products with barcode %s found", e.Barcode)
	}
	return fmt.Sprintf("No product with barcode %s found", e.Barcode)
}

// ConversionMissingError is returned when a quantity unit has no usable factor to the stock unit
type ConversionMissingError struct {
	UnitID int
}

func (e *ConversionMissingError) Error() string {
	return fmt.Sprintf("no conversion from quantity unit %d to the stock unit", e.UnitID)
}

// IsTransient reports whether the error state for err should revert to waiting on its own.
// Plain-text failures (timeouts, server messages, unknown barcodes) revert; the rest stay until dismissed.
func IsTransient(err error) bool {
	var backendErr *BackendError
	var scanErr *ScanError
	switch {
	case errors.Is(err, ErrTimeout):
		return true
	case errors.As(err, &backendErr):
		return true
	case errors.As(err, &scanErr):
		return true
	}
	return false
}

// ErrorMessage renders err the way the kiosk shows it
func ErrorMessage(err error) string {
	if IsTransient(err) {
		var backendErr *BackendError
		if errors.As(err, &backendErr) {
			return backendErr.Message
		}
		var scanErr *ScanError
		if errors.As(err, &scanErr) {
			return scanErr.Error()
		}
	}
	return err.Error()
}
