package classifier

import (
	"context"
	"errors"
	"io"
)

// Labels of the binary retinopathy classifier, stored as their wire codes.
const (
	LabelNegative Label = 0
	LabelPositive Label = 1
)

// DecisionThreshold separates NEGATIVE from POSITIVE on the positive-class
// probability. The boundary itself is POSITIVE.
const DecisionThreshold = 0.5

var (
	// ErrDecode indicates the referenced image could not be decoded.
	ErrDecode = errors.New("image decode failed")
	// ErrInference indicates the model failed at runtime.
	ErrInference = errors.New("inference failed")
)

// Label is the binary classification outcome.
type Label int

func (l Label) String() string {
	if l == LabelPositive {
		return "POSITIVE"
	}
	return "NEGATIVE"
}

// Outcome is a single classification result: the decided label and the
// probability mass the model assigned to the positive class.
type Outcome struct {
	Label       Label
	Probability float64
}

// LabelFor applies the fixed decision threshold to a positive-class
// probability.
func LabelFor(probability float64) Label {
	if probability >= DecisionThreshold {
		return LabelPositive
	}
	return LabelNegative
}

// Classifier wraps the model's forward pass. Implementations load their
// weights once at construction and are safe for concurrent use; nothing
// mutates model state after load.
type Classifier interface {
	Classify(ctx context.Context, image io.Reader) (Outcome, error)
}
