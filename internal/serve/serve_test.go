package serve_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/cost"
	"github.com/cnvrt/convnet/internal/initializer"
	"github.com/cnvrt/convnet/internal/layer"
	"github.com/cnvrt/convnet/internal/sequential"
	"github.com/cnvrt/convnet/internal/serve"
	"github.com/cnvrt/convnet/internal/tensor"
)

func buildTestNetwork(t *testing.T) *sequential.Network {
	t.Helper()
	sigmoid, err := activation.ByName("Sigmoid")
	require.NoError(t, err)
	fc := layer.NewFullyConnected(2, 3, sigmoid, initializer.GlorotUniform{}, initializer.ZeroBias{})
	out, err := layer.NewOutput(3, 1, sigmoid, cost.CrossEntropy{}, initializer.GlorotUniform{}, initializer.ZeroBias{})
	require.NoError(t, err)
	net, err := sequential.New(tensor.Shape{C: 2, H: 1, W: 1}, fc, out)
	require.NoError(t, err)
	return net
}

func TestServeHTTPReturnsOneOutputRowPerInputRow(t *testing.T) {
	net := buildTestNetwork(t)
	h := serve.NewHandler(net)

	body, err := json.Marshal(serve.PredictRequest{Inputs: [][]float32{{0, 1}, {1, 0}}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp serve.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Outputs, 2)
	assert.Len(t, resp.Outputs[0], 1)
}

func TestServeHTTPRejectsWrongFeatureCount(t *testing.T) {
	net := buildTestNetwork(t)
	h := serve.NewHandler(net)

	body, err := json.Marshal(serve.PredictRequest{Inputs: [][]float32{{1, 2, 3}}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPRejectsEmptyInputs(t *testing.T) {
	net := buildTestNetwork(t)
	h := serve.NewHandler(net)

	body, err := json.Marshal(serve.PredictRequest{Inputs: nil})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPRejectsNonPostMethod(t *testing.T) {
	net := buildTestNetwork(t)
	h := serve.NewHandler(net)

	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeHTTPRejectsMalformedJSON(t *testing.T) {
	net := buildTestNetwork(t)
	h := serve.NewHandler(net)

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
