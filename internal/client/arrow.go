package client

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-kernels/internal/tensor"
)

// TensorSchema holds one named tensor per row.
var TensorSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "shape", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
		{Name: "data", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	},
	nil,
)

// ErrMissingTensor is returned by Lookup when a required row is absent.
var ErrMissingTensor = errors.New("missing tensor")

// Named pairs a tensor with its row name.
type Named struct {
	Name   string
	Tensor *tensor.Tensor
}

// RecordBatchBuilder creates Arrow RecordBatches from tensors.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch encodes tensors as rows of TensorSchema, in order. An
// empty input yields a nil batch.
func (b *RecordBatchBuilder) BuildRecordBatch(tensors []Named) (arrow.RecordBatch, error) {
	if len(tensors) == 0 {
		return nil, nil
	}

	nameBuilder := array.NewStringBuilder(b.mem)
	defer nameBuilder.Release()

	shapeBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Int64)
	defer shapeBuilder.Release()
	dimBuilder := shapeBuilder.ValueBuilder().(*array.Int64Builder)

	dataBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Float64)
	defer dataBuilder.Release()
	valueBuilder := dataBuilder.ValueBuilder().(*array.Float64Builder)

	for _, nt := range tensors {
		if nt.Tensor == nil {
			return nil, fmt.Errorf("tensor %q is nil", nt.Name)
		}
		nameBuilder.Append(nt.Name)

		shapeBuilder.Append(true)
		for _, d := range nt.Tensor.Shape() {
			dimBuilder.Append(int64(d))
		}

		dataBuilder.Append(true)
		valueBuilder.AppendValues(nt.Tensor.Data(), nil)
	}

	cols := []arrow.Array{nameBuilder.NewArray(), shapeBuilder.NewArray(), dataBuilder.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecordBatch(TensorSchema, cols, int64(len(tensors))), nil
}

// DecodeRecordBatch reads every row of a TensorSchema batch back into tensors,
// validating each row's data length against its shape.
func DecodeRecordBatch(rec arrow.RecordBatch) ([]Named, error) {
	if !rec.Schema().Equal(TensorSchema) {
		return nil, fmt.Errorf("unexpected tensor schema: %s", rec.Schema())
	}

	names, ok1 := rec.Column(0).(*array.String)
	shapes, ok2 := rec.Column(1).(*array.List)
	data, ok3 := rec.Column(2).(*array.List)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("unexpected tensor column types")
	}
	dims := shapes.ListValues().(*array.Int64).Int64Values()
	values := data.ListValues().(*array.Float64).Float64Values()

	out := make([]Named, 0, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		name := names.Value(i)

		start, end := shapes.ValueOffsets(i)
		rowDims := make([]int, end-start)
		for j := range rowDims {
			rowDims[j] = int(dims[int(start)+j])
		}

		start, end = data.ValueOffsets(i)
		rowData := make([]float64, end-start)
		copy(rowData, values[start:end])

		t, err := tensor.FromFlat(rowData, rowDims...)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		out = append(out, Named{Name: name, Tensor: t})
	}
	return out, nil
}

// Lookup returns the tensors named in names, in that order.
func Lookup(tensors []Named, names ...string) ([]*tensor.Tensor, error) {
	byName := make(map[string]*tensor.Tensor, len(tensors))
	for _, nt := range tensors {
		byName[nt.Name] = nt.Tensor
	}
	out := make([]*tensor.Tensor, len(names))
	for i, n := range names {
		t, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingTensor, n)
		}
		out[i] = t
	}
	return out, nil
}
