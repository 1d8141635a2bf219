package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXModel runs inference through a local ONNX session. Input and output
// tensors are allocated once and reused; Predict serializes access since the
// session is not safe for concurrent runs.
type ONNXModel struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// InputSize is the flattened length of the [1,224,224,3] input tensor.
const InputSize = 1 * 224 * 224 * 3

// NewONNXModel initializes the ONNX runtime and loads the model at path.
func NewONNXModel(path string) (*ONNXModel, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx environment: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 224, 224, 3))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, ModelClassCount))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXModel{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Predict runs one inference pass over the preprocessed input tensor.
func (m *ONNXModel) Predict(ctx context.Context, input []float32) ([]float32, error) {
	if len(input) != InputSize {
		return nil, fmt.Errorf("expected %d input values, got %d", InputSize, len(input))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.inputTensor.GetData(), input)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, ModelClassCount)
	copy(scores, m.outputTensor.GetData())
	return scores, nil
}

// Close releases the session and its tensors.
func (m *ONNXModel) Close() {
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
	}
	if m.session != nil {
		m.session.Destroy()
	}
	ort.DestroyEnvironment()
}
