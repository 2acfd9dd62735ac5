package verify

import (
	"fmt"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/platform"
)

type Platform = platform.Platform

const (
	GraphDef          = platform.GraphDef
	GraphDefNoBatch   = platform.GraphDefNoBatch
	SavedModel        = platform.SavedModel
	SavedModelNoBatch = platform.SavedModelNoBatch
	NetDef            = platform.NetDef
	NetDefNoBatch     = platform.NetDefNoBatch
	ONNX              = platform.ONNX
	ONNXNoBatch       = platform.ONNXNoBatch
	LibTorch          = platform.LibTorch
	LibTorchNoBatch   = platform.LibTorchNoBatch
	Plan              = platform.Plan
	PlanNoBatch       = platform.PlanNoBatch
	Custom            = platform.Custom
	CustomNoBatch     = platform.CustomNoBatch
)

// AddSubModelName is {platform}_{input}_{output0}_{output1}.
func AddSubModelName(p Platform, input, output0, output1 datatype.DataType) string {
	return fmt.Sprintf("%s_%s_%s_%s", p, input.ModelName(), output0.ModelName(), output1.ModelName())
}

// ZeroModelName is {platform}_zero_{ioCount}_{dtype}.
func ZeroModelName(p Platform, ioCount int, dt datatype.DataType) string {
	return fmt.Sprintf("%s_zero_%d_%s", p, ioCount, dt.ModelName())
}
