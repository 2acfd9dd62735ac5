// Package platform holds the backend tags models are named after and the tensor
// naming and batching rules that follow from them. Clients and servers resolve
// tensor names here so both sides agree.
package platform

import (
	"fmt"
	"strings"
)

// Platform is the backend tag models are named after, e.g. "graphdef" or
// "libtorch_nobatch".
type Platform string

const (
	GraphDef          Platform = "graphdef"
	GraphDefNoBatch   Platform = "graphdef_nobatch"
	SavedModel        Platform = "savedmodel"
	SavedModelNoBatch Platform = "savedmodel_nobatch"
	NetDef            Platform = "netdef"
	NetDefNoBatch     Platform = "netdef_nobatch"
	ONNX              Platform = "onnx"
	ONNXNoBatch       Platform = "onnx_nobatch"
	LibTorch          Platform = "libtorch"
	LibTorchNoBatch   Platform = "libtorch_nobatch"
	Plan              Platform = "plan"
	PlanNoBatch       Platform = "plan_nobatch"
	Custom            Platform = "custom"
	CustomNoBatch     Platform = "custom_nobatch"
)

const noBatchSuffix = "_nobatch"

// Naming is how a platform names its input and output tensors.
type Naming uint8

const (
	// PlainNaming is INPUT0 / OUTPUT0.
	PlainNaming Naming = iota
	// IndexedNaming is INPUT__0 / OUTPUT__0.
	IndexedNaming
)

var platformNaming = map[Platform]Naming{
	LibTorch:        IndexedNaming,
	LibTorchNoBatch: IndexedNaming,
}

var shapeTensorPlatforms = map[Platform]bool{
	Plan:        true,
	PlanNoBatch: true,
}

func (p Platform) Naming() Naming {
	return platformNaming[p]
}

// Batching reports whether models of this platform take a leading batch dimension.
func (p Platform) Batching() bool {
	return !strings.HasSuffix(string(p), noBatchSuffix)
}

func (p Platform) InputName(n int) string {
	if p.Naming() == IndexedNaming {
		return fmt.Sprintf("INPUT__%d", n)
	}
	return fmt.Sprintf("INPUT%d", n)
}

func (p Platform) OutputName(n int) string {
	if p.Naming() == IndexedNaming {
		return fmt.Sprintf("OUTPUT__%d", n)
	}
	return fmt.Sprintf("OUTPUT%d", n)
}

// SupportsShapeTensors reports whether shape tensor models exist for p.
func (p Platform) SupportsShapeTensors() bool {
	return shapeTensorPlatforms[p]
}
