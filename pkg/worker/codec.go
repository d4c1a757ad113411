package worker

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kunal/batch-runner/pkg/runner"
)

// Wire field names. A request is {request_id, args: [...], kwargs: {...}};
// a reply is {request_id, worker_id, result, latency_ns}. Tensors travel as
// {"tensor": {"shape": [...], "data": [...]}}.
const (
	fieldRequestID = "request_id"
	fieldWorkerID  = "worker_id"
	fieldArgs      = "args"
	fieldKwargs    = "kwargs"
	fieldResult    = "result"
	fieldLatencyNs = "latency_ns"
	fieldTensor    = "tensor"
	fieldShape     = "shape"
	fieldData      = "data"
)

// maxTensorSpan bounds the product of the non-zero dimensions a request may
// declare for one tensor, so that splitting it cannot demand an unbounded
// number of pieces.
const maxTensorSpan = 1 << 26

var errDecode = errors.New("malformed request")

// encodeParams builds the request message for p.
func encodeParams(requestID string, p runner.Params) (*structpb.Struct, error) {
	args := make([]*structpb.Value, 0, p.NumArgs())
	for i, a := range p.Args() {
		v, err := encodeValue(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, v)
	}
	kwargs := &structpb.Struct{Fields: make(map[string]*structpb.Value, p.NumNamed())}
	for _, kv := range p.Named() {
		v, err := encodeValue(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", kv.Name, err)
		}
		kwargs.Fields[kv.Name] = v
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldRequestID: structpb.NewStringValue(requestID),
		fieldArgs:      structpb.NewListValue(&structpb.ListValue{Values: args}),
		fieldKwargs:    structpb.NewStructValue(kwargs),
	}}, nil
}

// decodeParams is the inverse of encodeParams. Named arguments are ordered
// by key since protobuf maps carry no order.
func decodeParams(req *structpb.Struct) (runner.Params, error) {
	fields := req.GetFields()

	var args []any
	if v, ok := fields[fieldArgs]; ok {
		list := v.GetListValue()
		if list == nil {
			return runner.Params{}, fmt.Errorf("%w: %s must be a list", errDecode, fieldArgs)
		}
		for i, a := range list.GetValues() {
			d, err := decodeValue(a)
			if err != nil {
				return runner.Params{}, fmt.Errorf("argument %d: %w", i, err)
			}
			args = append(args, d)
		}
	}

	var named []runner.NamedArg
	if v, ok := fields[fieldKwargs]; ok {
		s := v.GetStructValue()
		if s == nil {
			return runner.Params{}, fmt.Errorf("%w: %s must be an object", errDecode, fieldKwargs)
		}
		keys := make([]string, 0, len(s.GetFields()))
		for k := range s.GetFields() {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			d, err := decodeValue(s.GetFields()[k])
			if err != nil {
				return runner.Params{}, fmt.Errorf("argument %q: %w", k, err)
			}
			named = append(named, runner.Named(k, d))
		}
	}
	return runner.NewParams(args, named...), nil
}

// encodeValue converts a runner value to a protobuf Value. Lazy values are
// materialized first.
func encodeValue(v any) (*structpb.Value, error) {
	v, err := runner.Materialize(v)
	if err != nil {
		return nil, err
	}

	switch x := v.(type) {
	case runner.Tensor:
		shape := make([]any, len(x.Shape))
		for i, d := range x.Shape {
			shape[i] = d
		}
		data := make([]any, len(x.Data))
		for i, f := range x.Data {
			data[i] = f
		}
		inner, err := structpb.NewStruct(map[string]any{fieldShape: shape, fieldData: data})
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			fieldTensor: structpb.NewStructValue(inner),
		}}), nil
	case []byte, string, nil:
		return structpb.NewValue(x)
	case map[string]any:
		s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(x))}
		for k, e := range x {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			s.Fields[k] = ev
		}
		return structpb.NewStructValue(s), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		list := &structpb.ListValue{Values: make([]*structpb.Value, rv.Len())}
		for i := range list.Values {
			ev, err := encodeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			list.Values[i] = ev
		}
		return structpb.NewListValue(list), nil
	}
	return structpb.NewValue(v)
}

// decodeValue converts a protobuf Value back to plain Go values: float64,
// string, bool, nil, []any, map[string]any or runner.Tensor.
func decodeValue(v *structpb.Value) (any, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, e := range vals {
			d, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case *structpb.Value_StructValue:
		fields := k.StructValue.GetFields()
		if t, ok := fields[fieldTensor]; ok && len(fields) == 1 {
			return decodeTensor(t)
		}
		out := make(map[string]any, len(fields))
		for name, e := range fields {
			d, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out[name] = d
		}
		return out, nil
	default:
		return v.AsInterface(), nil
	}
}

func decodeTensor(v *structpb.Value) (runner.Tensor, error) {
	fields := v.GetStructValue().GetFields()
	shapeList := fields[fieldShape].GetListValue()
	dataList := fields[fieldData].GetListValue()
	if shapeList == nil || dataList == nil {
		return runner.Tensor{}, fmt.Errorf("%w: tensor needs %s and %s lists", errDecode, fieldShape, fieldData)
	}

	shape := make([]int, len(shapeList.GetValues()))
	span := 1.0
	for i, d := range shapeList.GetValues() {
		f := d.GetNumberValue()
		if f < 0 || f != math.Trunc(f) {
			return runner.Tensor{}, fmt.Errorf("%w: tensor dimension %v is not a non-negative integer", errDecode, f)
		}
		if f > 0 {
			span *= f
		}
		if span > maxTensorSpan {
			return runner.Tensor{}, fmt.Errorf("%w: tensor shape exceeds %d elements", errDecode, maxTensorSpan)
		}
		shape[i] = int(f)
	}
	data := make([]float64, len(dataList.GetValues()))
	for i, d := range dataList.GetValues() {
		data[i] = d.GetNumberValue()
	}

	t, err := runner.NewTensor(shape, data)
	if err != nil {
		return runner.Tensor{}, fmt.Errorf("%w: %w", errDecode, err)
	}
	return t, nil
}
