package fakeserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/platform"
)

type modelKind uint8

const (
	addSubModel modelKind = iota
	identityModel
)

// model is what the server knows about a model from its name alone.
type model struct {
	name     string
	platform platform.Platform
	kind     modelKind
	batched  bool
	swap     bool

	// addsub
	input   datatype.DataType
	output0 datatype.DataType
	output1 datatype.DataType

	// identity and shape tensor
	ioCount  int
	dataType datatype.DataType
}

// resolveModel maps {platform}_{in}_{out0}_{out1} to an addsub model and
// {platform}_zero_{n}_{dtype} to an identity model. Shape tensor models share the
// identity naming and are told apart by their inputs.
func resolveModel(name string, swapped map[string]bool) (*model, error) {
	parts := strings.Split(name, "_")
	if len(parts) >= 4 && parts[len(parts)-3] == "zero" {
		n, err := strconv.Atoi(parts[len(parts)-2])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("unknown model %s", name)
		}
		dt, err := parseModelType(parts[len(parts)-1])
		if err != nil {
			return nil, fmt.Errorf("unknown model %s: %w", name, err)
		}
		pf := platform.Platform(strings.Join(parts[:len(parts)-3], "_"))
		return &model{
			name:     name,
			platform: pf,
			kind:     identityModel,
			batched:  pf.Batching(),
			ioCount:  n,
			dataType: dt,
		}, nil
	}
	if len(parts) < 4 {
		return nil, fmt.Errorf("unknown model %s", name)
	}
	var dts [3]datatype.DataType
	for i := range dts {
		dt, err := parseModelType(parts[len(parts)-3+i])
		if err != nil {
			return nil, fmt.Errorf("unknown model %s: %w", name, err)
		}
		dts[i] = dt
	}
	pf := platform.Platform(strings.Join(parts[:len(parts)-3], "_"))
	return &model{
		name:     name,
		platform: pf,
		kind:     addSubModel,
		batched:  pf.Batching(),
		swap:     swapped[name],
		input:    dts[0],
		output0:  dts[1],
		output1:  dts[2],
	}, nil
}

// model type names only; wire names are not used in model names
func parseModelType(s string) (datatype.DataType, error) {
	if s != strings.ToLower(s) {
		return datatype.Invalid, fmt.Errorf("unknown model type %q", s)
	}
	return datatype.Parse(s)
}

func (m *model) inputName(n int) string {
	return m.platform.InputName(n)
}

func (m *model) outputName(n int) string {
	return m.platform.OutputName(n)
}

// labelled reports whether output carries class labels.
func (m *model) labelled(output string) bool {
	return m.kind == addSubModel && output == m.outputName(0)
}
