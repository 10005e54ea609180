// Package serve exposes a loaded network as an HTTP+JSON predict endpoint.
// A grpc/protobuf transport was the first candidate (muchq-MoonBase uses
// it), but generated .pb.go stubs depend on protoc-produced descriptor
// bytes that cannot be hand-authored without running the protobuf
// toolchain; net/http + encoding/json serves the same external predict-RPC
// concern without that dependency.
package serve

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/cnvrt/convnet/internal/tensor"
)

// Predictor is the capability set serve needs from a network.
// *sequential.Network satisfies it.
type Predictor interface {
	InputShape() tensor.Shape
	Predict(x *tensor.Tensor) (*tensor.Tensor, error)
}

// PredictRequest carries one batch of row-major input vectors, each
// expected to have length InputShape().CHW().
type PredictRequest struct {
	Inputs [][]float32 `json:"inputs"`
}

// PredictResponse carries one output row per input row.
type PredictResponse struct {
	Outputs [][]float32 `json:"outputs"`
}

// ErrorResponse is the JSON body returned for a malformed or
// shape-mismatched request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves POST /predict against a fixed Predictor.
type Handler struct {
	net Predictor
}

func NewHandler(net Predictor) *Handler {
	return &Handler{net: net}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("serve: method %s not allowed", r.Method))
		return
	}

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("serve: decode request: %w", err))
		return
	}
	if len(req.Inputs) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("serve: request has no inputs"))
		return
	}

	inShape := h.net.InputShape()
	features := inShape.CHW()
	for i, row := range req.Inputs {
		if len(row) != features {
			writeError(w, http.StatusBadRequest,
				fmt.Errorf("serve: input row %d has %d features, network expects %d", i, len(row), features))
			return
		}
	}

	x := tensor.New(tensor.Shape{N: len(req.Inputs), C: inShape.C, H: inShape.H, W: inShape.W}, tensor.Default)
	defer x.Free()
	data := x.Data()
	for i, row := range req.Inputs {
		copy(data[i*features:(i+1)*features], row)
	}

	y, err := h.net.Predict(x)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("serve: predict: %w", err))
		return
	}
	defer y.Free()

	outFeatures := y.Shape().CHW()
	outData := y.Data()
	resp := PredictResponse{Outputs: make([][]float32, len(req.Inputs))}
	for i := range req.Inputs {
		row := make([]float32, outFeatures)
		copy(row, outData[i*outFeatures:(i+1)*outFeatures])
		resp.Outputs[i] = row
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("serve: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()}); encErr != nil {
		log.Printf("serve: encode error response: %v", encErr)
	}
}
