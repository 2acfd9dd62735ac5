package fakeserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/clients/triton"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/shm"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// HTTPHandler returns the KServe v2 REST endpoints of the server.
func (s *Server) HTTPHandler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(HTTPRecovery())

	router.GET("/health/self", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "true"})
	})
	router.GET("/v2/health/live", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/v2/health/ready", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/v2", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": ServerName, "version": ServerVersion})
	})
	router.POST("/v2/models/:model/infer", s.handleInfer)
	router.POST("/v2/models/:model/versions/:version/infer", s.handleInfer)
	router.POST("/v2/systemsharedmemory/region/:region/register", s.handleSystemRegister)
	router.POST("/v2/systemsharedmemory/region/:region/unregister", s.handleUnregister(shm.System))
	router.POST("/v2/systemsharedmemory/unregister", s.handleUnregister(shm.System))
	router.POST("/v2/cudasharedmemory/region/:region/register", s.handleCudaRegister)
	router.POST("/v2/cudasharedmemory/region/:region/unregister", s.handleUnregister(shm.Device))
	router.POST("/v2/cudasharedmemory/unregister", s.handleUnregister(shm.Device))
	return router
}

func HTTPRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Msgf("Panic occurred: %v\n%s", err, debug.Stack())
				c.JSON(http.StatusInternalServerError, triton.HTTPErrorBody{Error: fmt.Sprintf("%v", err)})
				c.Abort()
			}
		}()
		c.Next()
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(httpStatus(err), triton.HTTPErrorBody{Error: err.Error()})
}

func (s *Server) handleInfer(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, &RequestError{ErrorMsg: err.Error()})
		return
	}
	header, blob, err := triton.SplitHTTPBody(body, c.GetHeader(triton.InferenceHeaderContentLength))
	if err != nil {
		abortWithError(c, &RequestError{ErrorMsg: err.Error()})
		return
	}
	var hreq triton.HTTPInferRequest
	dec := json.NewDecoder(bytes.NewReader(header))
	dec.UseNumber()
	if err := dec.Decode(&hreq); err != nil {
		abortWithError(c, &RequestError{ErrorMsg: fmt.Sprintf("failed to parse the request JSON: %v", err)})
		return
	}

	req, binaryOutputs, err := requestFromHTTP(c.Param("model"), c.Param("version"), &hreq, blob)
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp, err := s.infer(req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	respHeader, blobs, err := responseToHTTP(resp, binaryOutputs)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if len(blobs) == 0 {
		c.Data(http.StatusOK, "application/json", respHeader)
		return
	}
	c.Header(triton.InferenceHeaderContentLength, strconv.Itoa(len(respHeader)))
	c.Data(http.StatusOK, "application/octet-stream", bytes.Join(append([][]byte{respHeader}, blobs...), nil))
}

// requestFromHTTP also returns, per requested output, whether it goes back as binary data.
func requestFromHTTP(modelName, version string, hreq *triton.HTTPInferRequest, blob []byte) (*triton.InferRequest, map[string]bool, error) {
	req := &triton.InferRequest{
		ModelName:    modelName,
		ModelVersion: version,
		ID:           hreq.ID,
	}
	if v, ok := triton.HTTPParamInt(hreq.Parameters, triton.ParamPriority); ok {
		req.Priority = uint64(v)
	}
	if v, ok := triton.HTTPParamInt(hreq.Parameters, triton.ParamTimeout); ok {
		req.TimeoutMicros = uint64(v)
	}
	if v, ok := triton.HTTPParamInt(hreq.Parameters, triton.ParamSequenceID); ok {
		req.SequenceID = uint64(v)
	}

	blobs := triton.NewBlobReader(blob)
	for _, ht := range hreq.Inputs {
		dt, err := datatype.Parse(ht.Datatype)
		if err != nil {
			return nil, nil, &RequestError{ErrorMsg: fmt.Sprintf("input %s: %v", ht.Name, err)}
		}
		in := &triton.InferInput{
			Name:         ht.Name,
			DataType:     dt,
			Shape:        ht.Shape,
			SharedMemory: triton.HTTPSharedMemoryParams(ht.Parameters),
		}
		if in.SharedMemory == nil {
			if in.Raw, err = httpInputBytes(ht, dt, blobs); err != nil {
				return nil, nil, &RequestError{ErrorMsg: fmt.Sprintf("input %s: %v", ht.Name, err)}
			}
		}
		req.Inputs = append(req.Inputs, in)
	}
	if blobs.Remaining() != 0 {
		return nil, nil, &RequestError{ErrorMsg: fmt.Sprintf("%d unclaimed binary bytes in request", blobs.Remaining())}
	}

	defaultBinary, _ := triton.HTTPParamBool(hreq.Parameters, triton.ParamBinaryDataOutput)
	binaryOutputs := make(map[string]bool, len(hreq.Outputs))
	for _, ho := range hreq.Outputs {
		ro := &triton.RequestedOutput{Name: ho.Name, SharedMemory: triton.HTTPSharedMemoryParams(ho.Parameters)}
		if k, ok := triton.HTTPParamInt(ho.Parameters, triton.ParamClassification); ok && k > 0 {
			ro.Classification = uint32(k)
		}
		binary := defaultBinary
		if b, ok := triton.HTTPParamBool(ho.Parameters, triton.ParamBinaryData); ok {
			binary = b
		}
		binaryOutputs[ho.Name] = binary
		req.Outputs = append(req.Outputs, ro)
	}
	return req, binaryOutputs, nil
}

func httpInputBytes(ht triton.HTTPTensor, dt datatype.DataType, blobs *triton.BlobReader) ([]byte, error) {
	if size, ok := triton.HTTPParamInt(ht.Parameters, triton.ParamBinaryDataSize); ok {
		return blobs.Next(ht.Name, size)
	}
	if ht.Data == nil && tensor.ElementCount(ht.Shape) == 0 {
		return []byte{}, nil
	}
	t, err := tensor.FromJSONData(dt, ht.Shape, ht.Data)
	if err != nil {
		return nil, err
	}
	return t.Encode(), nil
}

// responseToHTTP sends FP16 outputs as binary data even when JSON was asked for.
func responseToHTTP(resp *triton.InferResponse, binaryOutputs map[string]bool) ([]byte, [][]byte, error) {
	hresp := triton.HTTPInferResponse{
		ModelName:    resp.ModelName,
		ModelVersion: resp.ModelVersion,
		ID:           resp.ID,
		Outputs:      make([]triton.HTTPTensor, 0, len(resp.Outputs)),
	}
	var blobs [][]byte
	for _, o := range resp.Outputs {
		ht := triton.HTTPTensor{Name: o.Name, Shape: o.Shape, Datatype: o.DataType.String()}
		if ht.Shape == nil {
			ht.Shape = []int64{}
		}
		switch {
		case o.SharedMemory != nil:
			ht.Parameters = map[string]any{
				triton.ParamSharedMemoryRegion:   o.SharedMemory.Region,
				triton.ParamSharedMemoryByteSize: o.SharedMemory.ByteSize,
			}
			if o.SharedMemory.Offset != 0 {
				ht.Parameters[triton.ParamSharedMemoryOffset] = o.SharedMemory.Offset
			}
		case binaryOutputs[o.Name] || o.DataType == datatype.FP16:
			ht.Parameters = map[string]any{triton.ParamBinaryDataSize: len(o.Raw)}
			blobs = append(blobs, o.Raw)
		default:
			t, err := o.Tensor()
			if err != nil {
				return nil, nil, err
			}
			if ht.Data, err = t.JSONData(); err != nil {
				return nil, nil, err
			}
		}
		hresp.Outputs = append(hresp.Outputs, ht)
	}
	header, err := json.Marshal(hresp)
	if err != nil {
		return nil, nil, err
	}
	return header, blobs, nil
}

func (s *Server) handleSystemRegister(c *gin.Context) {
	var body triton.HTTPSystemRegisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, &RequestError{ErrorMsg: err.Error()})
		return
	}
	if err := s.regions.registerSystem(c.Param("region"), body.Key, body.Offset, body.ByteSize); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleCudaRegister(c *gin.Context) {
	var body triton.HTTPCudaRegisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, &RequestError{ErrorMsg: err.Error()})
		return
	}
	handle, err := base64.StdEncoding.DecodeString(body.RawHandle.B64)
	if err != nil {
		abortWithError(c, &RequestError{ErrorMsg: fmt.Sprintf("malformed raw_handle: %v", err)})
		return
	}
	if err := s.regions.registerDevice(c.Param("region"), handle, body.DeviceID, body.ByteSize); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleUnregister(kind shm.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.regions.unregister(kind, c.Param("region")); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusOK)
	}
}
