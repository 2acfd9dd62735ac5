// Package suite loads verification cases from YAML files and runs them against a
// verifier.
package suite

import (
	"fmt"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/shm"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/verify"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
)

const (
	ContractExact       = "exact"
	ContractZero        = "zero"
	ContractShapeTensor = "shape_tensor"

	configDelimiter = "."
)

var defaultTransports = []string{TransportHTTP, TransportHTTPJSON, TransportGRPC, TransportGRPCStream}

type Suite struct {
	Name         string   `koanf:"name"`
	Seed         uint64   `koanf:"seed"`
	Transports   []string `koanf:"transports"`
	SharedMemory string   `koanf:"shared_memory"`
	Cases        []Case   `koanf:"cases"`
}

// Case is one verification. Fields not used by its contract are ignored.
type Case struct {
	Name         string `koanf:"name"`
	Contract     string `koanf:"contract"`
	Platform     string `koanf:"platform"`
	BatchSize    int    `koanf:"batch_size"`
	ModelVersion string `koanf:"model_version"`
	// SharedMemory overrides the suite setting for this case.
	SharedMemory string `koanf:"shared_memory"`

	Shape        []int64  `koanf:"shape"`
	Input        string   `koanf:"input"`
	Output0      string   `koanf:"output0"`
	Output1      string   `koanf:"output1"`
	Output0Class bool     `koanf:"output0_class"`
	Output1Class bool     `koanf:"output1_class"`
	Swap         bool     `koanf:"swap"`
	Outputs      []string `koanf:"outputs"`

	DataType         string    `koanf:"datatype"`
	InputShapes      [][]int64 `koanf:"input_shapes"`
	OutputShapes     [][]int64 `koanf:"output_shapes"`
	ShapeValues      [][]int32 `koanf:"shape_values"`
	DummyInputShapes [][]int64 `koanf:"dummy_input_shapes"`
}

// Load reads a suite file.
func Load(path string) (*Suite, error) {
	k, err := newKoanf()
	if err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error loading suite file %s: %w", path, err)
	}
	return unmarshal(k)
}

// Parse reads a suite from YAML bytes.
func Parse(b []byte) (*Suite, error) {
	k, err := newKoanf()
	if err != nil {
		return nil, err
	}
	if err := k.Load(rawbytes.Provider(b), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error parsing suite: %w", err)
	}
	return unmarshal(k)
}

func newKoanf() (*koanf.Koanf, error) {
	k := koanf.New(configDelimiter)
	err := k.Load(confmap.Provider(map[string]interface{}{
		"name":          "default",
		"shared_memory": "none",
	}, configDelimiter), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading suite defaults: %w", err)
	}
	return k, nil
}

func unmarshal(k *koanf.Koanf) (*Suite, error) {
	var s Suite
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("error decoding suite: %w", err)
	}
	if len(s.Transports) == 0 {
		s.Transports = defaultTransports
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Suite) Validate() error {
	if len(s.Cases) == 0 {
		return fmt.Errorf("suite %s has no cases", s.Name)
	}
	if _, err := shm.ParseKind(s.SharedMemory); err != nil {
		return fmt.Errorf("suite %s: %w", s.Name, err)
	}
	for _, name := range s.Transports {
		if !knownTransport(name) {
			return fmt.Errorf("suite %s: unknown transport %s", s.Name, name)
		}
	}
	for i := range s.Cases {
		c := &s.Cases[i]
		if c.Name == "" {
			c.Name = fmt.Sprintf("case-%d", i)
		}
		if c.BatchSize == 0 {
			c.BatchSize = 1
		}
		switch c.Contract {
		case ContractExact, ContractZero, ContractShapeTensor:
		default:
			return fmt.Errorf("case %s: unknown contract %q", c.Name, c.Contract)
		}
		if c.Platform == "" {
			return fmt.Errorf("case %s: platform is required", c.Name)
		}
	}
	return nil
}

func (c *Case) sharedMemory(suiteKind string) (shm.Kind, error) {
	if c.SharedMemory != "" {
		return shm.ParseKind(c.SharedMemory)
	}
	return shm.ParseKind(suiteKind)
}

// ExactOptions converts an exact case. Output types default to the input type.
func (c *Case) ExactOptions(suiteKind string) (verify.ExactOptions, error) {
	kind, err := c.sharedMemory(suiteKind)
	if err != nil {
		return verify.ExactOptions{}, err
	}
	in, err := datatype.Parse(c.Input)
	if err != nil {
		return verify.ExactOptions{}, fmt.Errorf("case %s input: %w", c.Name, err)
	}
	out0, out1 := in, in
	if c.Output0 != "" {
		if out0, err = datatype.Parse(c.Output0); err != nil {
			return verify.ExactOptions{}, fmt.Errorf("case %s output0: %w", c.Name, err)
		}
	}
	if c.Output1 != "" {
		if out1, err = datatype.Parse(c.Output1); err != nil {
			return verify.ExactOptions{}, fmt.Errorf("case %s output1: %w", c.Name, err)
		}
	}
	return verify.ExactOptions{
		Platform:     verify.Platform(c.Platform),
		TensorShape:  c.Shape,
		BatchSize:    c.BatchSize,
		InputType:    in,
		Output0Type:  out0,
		Output1Type:  out1,
		Output0Class: c.Output0Class,
		Output1Class: c.Output1Class,
		ModelVersion: c.ModelVersion,
		Swap:         c.Swap,
		Outputs:      c.Outputs,
		SharedMemory: kind,
	}, nil
}

// ZeroOptions converts a zero case. Output shapes default to the input shapes.
func (c *Case) ZeroOptions(suiteKind string) (verify.ZeroOptions, error) {
	kind, err := c.sharedMemory(suiteKind)
	if err != nil {
		return verify.ZeroOptions{}, err
	}
	dt, err := datatype.Parse(c.DataType)
	if err != nil {
		return verify.ZeroOptions{}, fmt.Errorf("case %s datatype: %w", c.Name, err)
	}
	outShapes := c.OutputShapes
	if len(outShapes) == 0 {
		outShapes = c.InputShapes
	}
	return verify.ZeroOptions{
		Platform:     verify.Platform(c.Platform),
		BatchSize:    c.BatchSize,
		DataType:     dt,
		InputShapes:  c.InputShapes,
		OutputShapes: outShapes,
		ModelVersion: c.ModelVersion,
		SharedMemory: kind,
	}, nil
}

func (c *Case) ShapeTensorOptions(suiteKind string) (verify.ShapeTensorOptions, error) {
	kind, err := c.sharedMemory(suiteKind)
	if err != nil {
		return verify.ShapeTensorOptions{}, err
	}
	dt, err := datatype.Parse(c.DataType)
	if err != nil {
		return verify.ShapeTensorOptions{}, fmt.Errorf("case %s datatype: %w", c.Name, err)
	}
	return verify.ShapeTensorOptions{
		Platform:         verify.Platform(c.Platform),
		BatchSize:        c.BatchSize,
		DataType:         dt,
		ShapeValues:      c.ShapeValues,
		DummyInputShapes: c.DummyInputShapes,
		ModelVersion:     c.ModelVersion,
		SharedMemory:     kind,
	}, nil
}
