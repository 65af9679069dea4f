package classifier

import (
	"context"
	"fmt"
	"io"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// ONNXClassifier runs the exported retinopathy model in-process through ONNX
// Runtime. The session is created once and never mutated afterwards, so
// concurrent Classify calls need no locking.
type ONNXClassifier struct {
	session   *ort.DynamicAdvancedSession
	inputSize int
	logger    *zap.Logger
}

// NewONNXClassifier initializes the ONNX runtime (once per process) and loads
// the model weights from modelPath. sharedLibrary may be empty to use the
// bindings' default library lookup.
func NewONNXClassifier(modelPath, sharedLibrary string, inputSize int, logger *zap.Logger) (*ONNXClassifier, error) {
	if sharedLibrary != "" {
		ort.SetSharedLibraryPath(sharedLibrary)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"output"}, nil)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", modelPath, err)
	}

	logger.Info("classifier model loaded",
		zap.String("model", modelPath),
		zap.Int("input_size", inputSize))
	return &ONNXClassifier{session: session, inputSize: inputSize, logger: logger.Named("classifier.onnx")}, nil
}

// Classify decodes the image, runs the forward pass and applies the fixed
// decision threshold to the positive-class probability.
func (c *ONNXClassifier) Classify(ctx context.Context, image io.Reader) (Outcome, error) {
	data, err := preprocess(image, c.inputSize)
	if err != nil {
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	inputShape := ort.NewShape(1, 3, int64(c.inputSize), int64(c.inputSize))
	input, err := ort.NewTensor(inputShape, data)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2))
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer output.Destroy()

	if err := c.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		c.logger.Error("model run failed", zap.Error(err))
		return Outcome{}, fmt.Errorf("%w: %v", ErrInference, err)
	}

	logits := output.GetData()
	if len(logits) != 2 {
		return Outcome{}, fmt.Errorf("%w: expected 2 logits, got %d", ErrInference, len(logits))
	}

	probability := positiveProbability(logits)
	return Outcome{Label: LabelFor(probability), Probability: probability}, nil
}

// Close releases the underlying session.
func (c *ONNXClassifier) Close() error {
	return c.session.Destroy()
}

// positiveProbability applies a softmax over the two logits and returns the
// mass of class 1, the "disease present" class.
func positiveProbability(logits []float32) float64 {
	neg := float64(logits[0])
	pos := float64(logits[1])
	max := math.Max(neg, pos)
	expNeg := math.Exp(neg - max)
	expPos := math.Exp(pos - max)
	return expPos / (expNeg + expPos)
}
