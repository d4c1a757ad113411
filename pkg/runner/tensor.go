package runner

import (
	"fmt"
	"math"
	"slices"
)

// Tensor is a dense row-major float64 array.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor validates that data holds exactly prod(shape) elements.
func NewTensor(shape []int, data []float64) (Tensor, error) {
	t := Tensor{Shape: shape, Data: data}
	if err := t.validate(); err != nil {
		return Tensor{}, err
	}
	return Tensor{Shape: slices.Clone(shape), Data: slices.Clone(data)}, nil
}

// validate checks what NewTensor guarantees, for tensors built as literals.
func (t Tensor) validate() error {
	n, err := numElements(t.Shape)
	if err != nil {
		return err
	}
	if n != len(t.Data) {
		return fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShapeMismatch, t.Shape, n, len(t.Data))
	}
	return nil
}

// Scalar returns a rank-0 tensor.
func Scalar(v float64) Tensor {
	return Tensor{Shape: []int{}, Data: []float64{v}}
}

// Rank returns the number of dimensions.
func (t Tensor) Rank() int { return len(t.Shape) }

// Equal reports whether both tensors have the same shape and data.
func (t Tensor) Equal(o Tensor) bool {
	return slices.Equal(t.Shape, o.Shape) && slices.Equal(t.Data, o.Data)
}

func (t Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, data=%v)", t.Shape, t.Data)
}

// Stack joins tensors of identical shape along a new dimension inserted at
// axis. Stacking n tensors of shape s at axis k gives shape
// s[:k] + [n] + s[k:].
func Stack(ts []Tensor, axis int) (Tensor, error) {
	if len(ts) == 0 {
		return Tensor{}, fmt.Errorf("%w: cannot stack zero tensors", ErrShapeMismatch)
	}
	shape := ts[0].Shape
	if axis < 0 || axis > len(shape) {
		return Tensor{}, fmt.Errorf("%w: axis %d for rank %d", ErrInvalidAxis, axis, len(shape))
	}
	for i, t := range ts {
		if !slices.Equal(t.Shape, shape) {
			return Tensor{}, fmt.Errorf("%w: tensor %d has shape %v, want %v", ErrShapeMismatch, i, t.Shape, shape)
		}
		if err := t.validate(); err != nil {
			return Tensor{}, fmt.Errorf("tensor %d: %w", i, err)
		}
	}

	n := len(ts)
	size, err := numElements(append([]int{n}, shape...))
	if err != nil {
		return Tensor{}, err
	}
	outer, _ := numElements(shape[:axis])
	inner, _ := numElements(shape[axis:])

	out := Tensor{
		Shape: make([]int, 0, len(shape)+1),
		Data:  make([]float64, size),
	}
	out.Shape = append(out.Shape, shape[:axis]...)
	out.Shape = append(out.Shape, n)
	out.Shape = append(out.Shape, shape[axis:]...)

	for o := 0; o < outer; o++ {
		for i, t := range ts {
			copy(out.Data[(o*n+i)*inner:], t.Data[o*inner:(o+1)*inner])
		}
	}
	return out, nil
}

// Split is the inverse of Stack: it slices t along axis and drops that
// dimension from every piece.
func (t Tensor) Split(axis int) ([]Tensor, error) {
	if axis < 0 || axis >= len(t.Shape) {
		return nil, fmt.Errorf("%w: axis %d for rank %d", ErrInvalidAxis, axis, len(t.Shape))
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	n := t.Shape[axis]
	outer, _ := numElements(t.Shape[:axis])
	inner, _ := numElements(t.Shape[axis+1:])

	pieceShape := make([]int, 0, len(t.Shape)-1)
	pieceShape = append(pieceShape, t.Shape[:axis]...)
	pieceShape = append(pieceShape, t.Shape[axis+1:]...)

	pieces := make([]Tensor, n)
	for i := range pieces {
		pieces[i] = Tensor{Shape: slices.Clone(pieceShape), Data: make([]float64, outer*inner)}
	}
	for o := 0; o < outer; o++ {
		for i := range pieces {
			src := (o*n + i) * inner
			copy(pieces[i].Data[o*inner:], t.Data[src:src+inner])
		}
	}
	return pieces, nil
}

// numElements returns prod(shape). It rejects negative dimensions and
// shapes whose product, or the product of their non-zero dimensions, does
// not fit in an int.
func numElements(shape []int) (int, error) {
	n, span := 1, 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in shape %v", ErrShapeMismatch, shape)
		}
		if d == 0 {
			n = 0
			continue
		}
		if span > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v is too large", ErrShapeMismatch, shape)
		}
		span *= d
		n *= d
	}
	return n, nil
}
