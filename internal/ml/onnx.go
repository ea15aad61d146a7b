package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"loan-risk/internal/loan"

	"github.com/rs/zerolog/log"
)

// MetadataFile is the sidecar describing an ONNX model's inputs.
const MetadataFile = "model_metadata.json"

// ONNXOptions configures the ONNX backend.
type ONNXOptions struct {
	ModelPath  string
	PythonPath string // optional; discovered when empty
	Timeout    time.Duration
}

// ONNXClassifier runs an ONNX model through a Python onnxruntime
// subprocess, one process per prediction.
type ONNXClassifier struct {
	modelPath  string
	pythonPath string
	scriptPath string
	timeout    time.Duration
	meta       ModelMetadata
}

type onnxRequest struct {
	Features []float32 `json:"features"`
}

type onnxResponse struct {
	Probabilities []float64 `json:"probabilities"`
	Prediction    int       `json:"prediction"`
	Error         string    `json:"error,omitempty"`
}

// NewONNX loads an ONNX model. Unlike a best-effort predictor this fails
// closed: a missing model, runtime or metadata is a startup error.
func NewONNX(opts ONNXOptions) (*ONNXClassifier, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("onnx model not accessible: %w", err)
	}

	meta, err := loadModelMetadata(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx model metadata: %w", err)
	}
	meta.Kind = KindONNX
	if len(meta.Features) == 0 {
		return nil, fmt.Errorf("onnx model metadata declares no features")
	}

	pythonPath := opts.PythonPath
	if pythonPath == "" {
		if pythonPath, err = findPython(); err != nil {
			return nil, err
		}
	}

	scriptPath := filepath.Join(filepath.Dir(opts.ModelPath), "onnx_inference.py")
	if _, err := os.Stat(scriptPath); os.IsNotExist(err) {
		scriptPath = filepath.Join(os.TempDir(), "loan_risk_onnx_inference.py")
		if err := createInferenceScript(scriptPath); err != nil {
			return nil, fmt.Errorf("failed to create inference script: %w", err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := &ONNXClassifier{
		modelPath:  opts.ModelPath,
		pythonPath: pythonPath,
		scriptPath: scriptPath,
		timeout:    timeout,
		meta:       *meta,
	}

	if err := c.healthCheck(); err != nil {
		return nil, fmt.Errorf("onnx model health check failed: %w", err)
	}
	log.Info().
		Str("model_path", opts.ModelPath).
		Str("python_path", pythonPath).
		Str("version", meta.Version).
		Msg("ONNX model loaded successfully")

	return c, nil
}

func (c *ONNXClassifier) Metadata() ModelMetadata {
	m := c.meta
	m.Features = append([]string(nil), c.meta.Features...)
	return m
}

func (c *ONNXClassifier) Predict(ctx context.Context, f loan.Features) (loan.Label, error) {
	if f.IsRecord() {
		return 0, invocationErr("onnx model takes a numeric vector, got a typed record")
	}
	if err := checkNames(f.Names, c.meta.Features); err != nil {
		return 0, err
	}
	if len(f.Vector) != len(c.meta.Features) {
		return 0, invocationErr("model expects %d values, got %d", len(c.meta.Features), len(f.Vector))
	}

	resp, err := c.run(ctx, f.Vector)
	if err != nil {
		return 0, err
	}
	return loan.Label(resp.Prediction), nil
}

func (c *ONNXClassifier) run(ctx context.Context, vec []float64) (*onnxResponse, error) {
	in := make([]float32, len(vec))
	for i, v := range vec {
		in[i] = float32(v)
	}
	reqJSON, err := json.Marshal(onnxRequest{Features: in})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.pythonPath, c.scriptPath, c.modelPath)
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Error().
			Err(err).
			Str("python_path", c.pythonPath).
			Str("script_path", c.scriptPath).
			Str("stderr", stderr.String()).
			Dur("timeout", c.timeout).
			Bool("context_cancelled", ctx.Err() != nil).
			Msg("Python inference execution failed")

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &loan.ModelInvocationError{Reason: fmt.Sprintf("inference timed out after %v", c.timeout), Err: ctx.Err()}
		}
		// The script reports shape errors as JSON on stdout before exiting.
		var resp onnxResponse
		if json.Unmarshal(stdout.Bytes(), &resp) == nil && resp.Error != "" {
			return nil, &loan.ModelInvocationError{Reason: "onnx runtime rejected input", Err: errors.New(resp.Error)}
		}
		return nil, &loan.ModelInvocationError{Reason: "inference process failed", Err: err}
	}

	var resp onnxResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, &loan.ModelInvocationError{Reason: "unparseable inference output", Err: err}
	}
	if resp.Error != "" {
		return nil, &loan.ModelInvocationError{Reason: "onnx runtime rejected input", Err: errors.New(resp.Error)}
	}

	log.Debug().
		Floats64("probabilities", resp.Probabilities).
		Int("prediction", resp.Prediction).
		Msg("Prediction successful")

	return &resp, nil
}

func (c *ONNXClassifier) healthCheck() error {
	_, err := c.run(context.Background(), make([]float64, len(c.meta.Features)))
	return err
}

func loadModelMetadata(modelPath string) (*ModelMetadata, error) {
	path := filepath.Join(filepath.Dir(modelPath), MetadataFile)
	var md ModelMetadata
	if err := readJSON(path, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

func findPython() (string, error) {
	var candidates []string
	if venvPath := os.Getenv("VIRTUAL_ENV"); venvPath != "" {
		candidates = append(candidates,
			filepath.Join(venvPath, "bin", "python3"),
			filepath.Join(venvPath, "bin", "python"),
			filepath.Join(venvPath, "Scripts", "python.exe"),
		)
	}
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			candidates = append(candidates, path)
		}
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		cmd := exec.Command(candidate, "-c", "import sys, onnxruntime; print('Python', sys.version)")
		if output, err := cmd.Output(); err == nil && strings.Contains(string(output), "Python 3") {
			log.Info().Str("python_path", candidate).Msg("Using Python with onnxruntime")
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no Python 3 with onnxruntime found; install onnxruntime or set PYTHON_PATH")
}

func createInferenceScript(scriptPath string) error {
	script := `#!/usr/bin/env python3
import sys
import json
import numpy as np

try:
    import onnxruntime as ort
except ImportError:
    print(json.dumps({"error": "onnxruntime not installed"}))
    sys.exit(1)

def main():
    if len(sys.argv) != 2:
        print(json.dumps({"error": "usage: onnx_inference.py <model_path>"}))
        sys.exit(1)

    try:
        request = json.load(sys.stdin)
        features = np.array([request["features"]], dtype=np.float32)

        session = ort.InferenceSession(sys.argv[1])
        input_name = session.get_inputs()[0].name
        outputs = session.run(None, {input_name: features})

        prediction = int(np.asarray(outputs[0]).ravel()[0])
        probabilities = []
        if len(outputs) > 1:
            probs = outputs[1][0]
            if isinstance(probs, dict):
                probabilities = [float(probs[k]) for k in sorted(probs)]
            else:
                probabilities = [float(p) for p in np.asarray(probs).ravel()]

        print(json.dumps({"prediction": prediction, "probabilities": probabilities}))
    except Exception as e:
        print(json.dumps({"error": str(e)}))
        sys.exit(1)

if __name__ == "__main__":
    main()
`

	return os.WriteFile(scriptPath, []byte(script), 0o755)
}
