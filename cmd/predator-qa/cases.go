package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/suite"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/verify"
	"github.com/spf13/cobra"
)

// caseFlags are the flags every single-case command takes.
type caseFlags struct {
	commonFlags
	platform     string
	batchSize    int
	modelVersion string
	systemShm    bool
	deviceShm    bool
}

func (f *caseFlags) register(cmd *cobra.Command, platform verify.Platform) {
	f.commonFlags.register(cmd)
	cmd.Flags().StringVar(&f.platform, "platform", string(platform), "model platform, e.g. graphdef or libtorch_nobatch")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 1, "batch size")
	cmd.Flags().StringVar(&f.modelVersion, "model-version", "", "model version, empty for the server default")
	cmd.Flags().BoolVar(&f.systemShm, "system-shm", false, "stage tensors in system shared memory")
	cmd.Flags().BoolVar(&f.deviceShm, "device-shm", false, "stage tensors in device shared memory")
}

func (f *caseFlags) baseCase(name, contract string) (suite.Case, error) {
	kind, err := verify.SharedMemoryFromFlags(f.systemShm, f.deviceShm)
	if err != nil {
		return suite.Case{}, err
	}
	return suite.Case{
		Name:         name,
		Contract:     contract,
		Platform:     f.platform,
		BatchSize:    f.batchSize,
		ModelVersion: f.modelVersion,
		SharedMemory: kind.String(),
	}, nil
}

func newExactCmd() *cobra.Command {
	var (
		flags                      caseFlags
		shape                      []int64
		input, output0, output1    string
		output0Class, output1Class bool
		swap                       bool
		outputs                    []string
	)
	cmd := &cobra.Command{
		Use:   "exact",
		Short: "Verify one addsub model",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.baseCase("exact", suite.ContractExact)
			if err != nil {
				return err
			}
			c.Shape, c.Input, c.Output0, c.Output1 = shape, input, output0, output1
			c.Output0Class, c.Output1Class, c.Swap, c.Outputs = output0Class, output1Class, swap, outputs
			return runSingle(cmd.Context(), &flags.commonFlags, c)
		},
	}
	flags.register(cmd, verify.GraphDef)
	cmd.Flags().Int64SliceVar(&shape, "shape", []int64{16}, "tensor shape without the batch dimension")
	cmd.Flags().StringVar(&input, "input", "int32", "input data type")
	cmd.Flags().StringVar(&output0, "output0", "", "OUTPUT0 data type, defaults to the input type")
	cmd.Flags().StringVar(&output1, "output1", "", "OUTPUT1 data type, defaults to the input type")
	cmd.Flags().BoolVar(&output0Class, "output0-class", false, "request OUTPUT0 as classification")
	cmd.Flags().BoolVar(&output1Class, "output1-class", false, "request OUTPUT1 as classification")
	cmd.Flags().BoolVar(&swap, "swap", false, "expect OUTPUT0 to hold the difference and OUTPUT1 the sum")
	cmd.Flags().StringSliceVar(&outputs, "outputs", nil, "outputs to request, OUTPUT0 and/or OUTPUT1")
	return cmd
}

func newZeroCmd() *cobra.Command {
	var (
		flags        caseFlags
		dataType     string
		inputShapes  []string
		outputShapes []string
	)
	cmd := &cobra.Command{
		Use:   "zero",
		Short: "Verify one identity model, zero-sized tensors included",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.baseCase("zero", suite.ContractZero)
			if err != nil {
				return err
			}
			c.DataType = dataType
			if c.InputShapes, err = parseShapes(inputShapes); err != nil {
				return err
			}
			if c.OutputShapes, err = parseShapes(outputShapes); err != nil {
				return err
			}
			return runSingle(cmd.Context(), &flags.commonFlags, c)
		},
	}
	flags.register(cmd, verify.GraphDef)
	cmd.Flags().StringVar(&dataType, "datatype", "int32", "tensor data type")
	cmd.Flags().StringArrayVar(&inputShapes, "input-shape", []string{"0"}, "shape of one input, e.g. 2,0,3; repeat per input")
	cmd.Flags().StringArrayVar(&outputShapes, "output-shape", nil, "shape of one output, defaults to the input shapes")
	return cmd
}

func newShapeCmd() *cobra.Command {
	var (
		flags       caseFlags
		dataType    string
		shapeValues []string
		dummyShapes []string
	)
	cmd := &cobra.Command{
		Use:   "shape",
		Short: "Verify one shape tensor model",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.baseCase("shape", suite.ContractShapeTensor)
			if err != nil {
				return err
			}
			c.DataType = dataType
			values, err := parseShapes(shapeValues)
			if err != nil {
				return err
			}
			for _, v := range values {
				row := make([]int32, len(v))
				for i, d := range v {
					row[i] = int32(d)
				}
				c.ShapeValues = append(c.ShapeValues, row)
			}
			if c.DummyInputShapes, err = parseShapes(dummyShapes); err != nil {
				return err
			}
			return runSingle(cmd.Context(), &flags.commonFlags, c)
		},
	}
	flags.register(cmd, verify.Plan)
	cmd.Flags().StringVar(&dataType, "datatype", "int32", "dummy tensor data type")
	cmd.Flags().StringArrayVar(&shapeValues, "shape-values", []string{"1,2"}, "values of one shape tensor; repeat per input")
	cmd.Flags().StringArrayVar(&dummyShapes, "dummy-shape", []string{"4"}, "shape of one dummy input; repeat per input")
	return cmd
}

// parseShapes parses "2,0,3" style shapes. An empty string is a scalar.
func parseShapes(values []string) ([][]int64, error) {
	shapes := make([][]int64, 0, len(values))
	for _, raw := range values {
		shape := []int64{}
		if raw = strings.TrimSpace(raw); raw != "" {
			for _, dim := range strings.Split(raw, ",") {
				d, err := strconv.ParseInt(strings.TrimSpace(dim), 10, 64)
				if err != nil || d < 0 {
					return nil, fmt.Errorf("invalid shape %q", raw)
				}
				shape = append(shape, d)
			}
		}
		shapes = append(shapes, shape)
	}
	return shapes, nil
}
