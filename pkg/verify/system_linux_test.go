//go:build linux

package verify

import (
	"context"
	"os"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/shm"
	"github.com/stretchr/testify/require"
)

func (s *VerifierTestSuite) TestInferExact_SystemSharedMemory() {
	New(s.binaryTransports(), WithSeed(17)).InferExact(context.Background(), s.T(), ExactOptions{
		Platform:     SavedModel,
		TensorShape:  []int64{16},
		BatchSize:    4,
		InputType:    datatype.Int16,
		Output0Type:  datatype.Int16,
		Output1Type:  datatype.FP32,
		SharedMemory: shm.System,
		RegionNames:  map[string]string{"input0": "in0", "output1": "out1"},
	})
	s.Zero(s.harness.Server.RegisteredRegions())
}

func (s *VerifierTestSuite) TestInferZero_SystemSharedMemory() {
	New(s.binaryTransports(), WithSeed(19)).InferZero(context.Background(), s.T(), ZeroOptions{
		Platform:     ONNXNoBatch,
		BatchSize:    1,
		DataType:     datatype.Int64,
		InputShapes:  [][]int64{{2, 2}, {0}},
		OutputShapes: [][]int64{{2, 2}, {0}},
		SharedMemory: shm.System,
		RegionPrefix: [2]string{"zin", "zout"},
	})
	s.Zero(s.harness.Server.RegisteredRegions())
}

func (s *VerifierTestSuite) TestInferShapeTensor_SystemSharedMemory() {
	New(s.binaryTransports(), WithSeed(23)).InferShapeTensor(context.Background(), s.T(), ShapeTensorOptions{
		Platform:         PlanNoBatch,
		BatchSize:        1,
		DataType:         datatype.Int32,
		ShapeValues:      [][]int32{{3, 1}},
		DummyInputShapes: [][]int64{{5}},
		SharedMemory:     shm.System,
		RegionSuffix:     "_sys",
	})
	s.Zero(s.harness.Server.RegisteredRegions())
}

func (s *VerifierTestSuite) assertNoSystemRegions() {
	s.Zero(s.harness.Server.RegisteredRegions())
	entries, err := os.ReadDir(shm.Dir)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *VerifierTestSuite) TestInferZero_SystemRegionsReleasedOnFailure() {
	var r Recorder
	failures := r.Run(func(t require.TestingT) {
		New(s.binaryTransports(), WithSeed(41)).InferZero(context.Background(), t, ZeroOptions{
			Platform:     GraphDef,
			BatchSize:    2,
			DataType:     datatype.Int32,
			InputShapes:  [][]int64{{6}},
			OutputShapes: [][]int64{{6}},
			SharedMemory: shm.System,
		})
	})
	s.Require().Len(failures, 1)
	s.Contains(failures[0], "shape")
	s.assertNoSystemRegions()
}

func (s *VerifierTestSuite) TestInferShapeTensor_SystemRegionsReleasedOnFailure() {
	var r Recorder
	failures := r.Run(func(t require.TestingT) {
		New(s.binaryTransports(), WithSeed(43)).InferShapeTensor(context.Background(), t, ShapeTensorOptions{
			Platform:         PlanNoBatch,
			BatchSize:        1,
			DataType:         datatype.Int8,
			ShapeValues:      [][]int32{{4, 1}},
			DummyInputShapes: [][]int64{{3}},
			SharedMemory:     shm.System,
		})
	})
	s.Require().Len(failures, 1)
	s.Contains(failures[0], "DUMMY_OUTPUT0 slot 0 shape")
	s.assertNoSystemRegions()
}

func (s *VerifierTestSuite) TestInferExact_JSONSystemSharedMemory() {
	for _, tr := range s.transports {
		if tr.Name != "http_json" {
			continue
		}
		New([]Transport{tr}, WithSeed(47)).InferExact(context.Background(), s.T(), ExactOptions{
			Platform:     ONNXNoBatch,
			TensorShape:  []int64{2, 2},
			BatchSize:    1,
			InputType:    datatype.Int32,
			Output0Type:  datatype.Int64,
			Output1Type:  datatype.Int32,
			SharedMemory: shm.System,
		})
	}
	s.assertNoSystemRegions()
}
