package deepq

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// Huber returns the Huber loss of the error e with a threshold of 1:
// 0.5e² if |e| <= 1 and |e| - 0.5 otherwise.
func Huber(e float64) float64 {
	a := math.Abs(e)
	if a <= 1 {
		return 0.5 * a * a
	}
	return a - 0.5
}

// HuberLoss adds the elementwise Huber loss of the errors e to the
// graph of e.
//
// The quadratic region is clamped at 1 using the identity
// min(a, 1) = (a + 1 - |a - 1|) / 2, which keeps every operation in
// the loss differentiable by Gorgonia. The linear remainder a - min(a, 1)
// is then added on.
func HuberLoss(e *G.Node) (*G.Node, error) {
	one := G.NewConstant(1.0)
	two := G.NewConstant(2.0)
	half := G.NewConstant(0.5)

	a, err := G.Abs(e)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}

	// quad = min(|e|, 1)
	aMinusOne, err := G.Sub(a, one)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	absAMinusOne, err := G.Abs(aMinusOne)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	quad, err := G.Add(a, one)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	quad, err = G.Sub(quad, absAMinusOne)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	quad, err = G.Div(quad, two)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}

	// lin = |e| - min(|e|, 1)
	lin, err := G.Sub(a, quad)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}

	loss, err := G.Square(quad)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	loss, err = G.Mul(loss, half)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	return G.Add(loss, lin)
}
