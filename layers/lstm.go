package layers

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LSTMLayer is one recurrent layer. Gates are packed in the order
// input, forget, cell candidate, output along the rows of the weights.
type LSTMLayer struct {
	InputSize  int
	HiddenSize int

	WeightIH *Parameter // [4H, in]
	WeightHH *Parameter // [4H, H]
	BiasIH   *Parameter // [4H]
	BiasHH   *Parameter // [4H]

	cache []lstmStepCache
}

// lstmStepCache keeps what BPTT needs from one forward time step.
type lstmStepCache struct {
	x     *mat.Dense
	hPrev *mat.Dense
	cPrev []float64
	i     []float64
	f     []float64
	g     []float64
	o     []float64
	cTanh []float64
}

func newLSTMLayer(prefix string, index, inputSize, hiddenSize int, rng *rand.Rand) *LSTMLayer {
	l := &LSTMLayer{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		WeightIH:   newParameter(fmt.Sprintf("%s.weight_ih_l%d", prefix, index), []int{4 * hiddenSize, inputSize}),
		WeightHH:   newParameter(fmt.Sprintf("%s.weight_hh_l%d", prefix, index), []int{4 * hiddenSize, hiddenSize}),
		BiasIH:     newParameter(fmt.Sprintf("%s.bias_ih_l%d", prefix, index), []int{4 * hiddenSize}),
		BiasHH:     newParameter(fmt.Sprintf("%s.bias_hh_l%d", prefix, index), []int{4 * hiddenSize}),
	}

	bound := 1.0 / math.Sqrt(float64(hiddenSize))
	for _, p := range l.Parameters() {
		p.initUniform(rng, bound)
	}
	return l
}

// Parameters returns the layer's trainable parameters.
func (l *LSTMLayer) Parameters() []*Parameter {
	return []*Parameter{l.WeightIH, l.WeightHH, l.BiasIH, l.BiasHH}
}

// Forward runs the layer over a sequence of (batch, in) matrices and
// returns the hidden state at every step. When train is false nothing is
// cached and Backward must not be called.
func (l *LSTMLayer) Forward(xs []*mat.Dense, train bool) []*mat.Dense {
	batch, _ := xs[0].Dims()
	H := l.HiddenSize

	bias := make([]float64, 4*H)
	bih, bhh := l.BiasIH.Data(), l.BiasHH.Data()
	for j := range bias {
		bias[j] = bih[j] + bhh[j]
	}

	h := mat.NewDense(batch, H, nil)
	c := make([]float64, batch*H)
	gates := mat.NewDense(batch, 4*H, nil)
	rec := mat.NewDense(batch, 4*H, nil)

	if train {
		l.cache = make([]lstmStepCache, len(xs))
	} else {
		l.cache = nil
	}

	outs := make([]*mat.Dense, len(xs))
	for t, x := range xs {
		gates.Mul(x, l.WeightIH.Value.T())
		rec.Mul(h, l.WeightHH.Value.T())
		gates.Add(gates, rec)
		gd := gates.RawMatrix().Data

		hNext := mat.NewDense(batch, H, nil)
		hd := hNext.RawMatrix().Data
		cNext := make([]float64, batch*H)
		step := lstmStepCache{
			i:     make([]float64, batch*H),
			f:     make([]float64, batch*H),
			g:     make([]float64, batch*H),
			o:     make([]float64, batch*H),
			cTanh: make([]float64, batch*H),
		}

		for b := 0; b < batch; b++ {
			row := b * 4 * H
			for j := 0; j < H; j++ {
				k := b*H + j
				ig := Sigmoid(gd[row+j] + bias[j])
				fg := Sigmoid(gd[row+H+j] + bias[H+j])
				gg := math.Tanh(gd[row+2*H+j] + bias[2*H+j])
				og := Sigmoid(gd[row+3*H+j] + bias[3*H+j])

				cv := fg*c[k] + ig*gg
				ct := math.Tanh(cv)
				cNext[k] = cv
				hd[k] = og * ct

				step.i[k], step.f[k], step.g[k], step.o[k], step.cTanh[k] = ig, fg, gg, og, ct
			}
		}

		if train {
			step.x = x
			step.hPrev = h
			step.cPrev = c
			l.cache[t] = step
		}

		h, c = hNext, cNext
		outs[t] = hNext
	}
	return outs
}

// Backward back-propagates through time. dhs holds the loss gradient with
// respect to each output hidden state; gradients are accumulated into the
// parameters and the gradient with respect to each input step is returned.
func (l *LSTMLayer) Backward(dhs []*mat.Dense) ([]*mat.Dense, error) {
	if len(l.cache) == 0 {
		return nil, fmt.Errorf("LSTM backward called without a training forward pass")
	}
	if len(dhs) != len(l.cache) {
		return nil, fmt.Errorf("LSTM backward got %d gradient steps, expected %d", len(dhs), len(l.cache))
	}

	batch, _ := l.cache[0].x.Dims()
	H := l.HiddenSize

	dhNext := make([]float64, batch*H)
	dcNext := make([]float64, batch*H)
	dA := mat.NewDense(batch, 4*H, nil)
	dAd := dA.RawMatrix().Data
	gradIH := mat.NewDense(4*H, l.InputSize, nil)
	gradHH := mat.NewDense(4*H, H, nil)
	gbih, gbhh := l.BiasIH.GradData(), l.BiasHH.GradData()

	dxs := make([]*mat.Dense, len(l.cache))
	for t := len(l.cache) - 1; t >= 0; t-- {
		step := l.cache[t]
		dh := contiguous(dhs[t])

		for b := 0; b < batch; b++ {
			row := b * 4 * H
			for j := 0; j < H; j++ {
				k := b*H + j
				ig, fg, gg, og, ct := step.i[k], step.f[k], step.g[k], step.o[k], step.cTanh[k]

				dhv := dh[k] + dhNext[k]
				dc := dcNext[k] + dhv*og*(1-ct*ct)

				dAd[row+j] = dc * gg * ig * (1 - ig)
				dAd[row+H+j] = dc * step.cPrev[k] * fg * (1 - fg)
				dAd[row+2*H+j] = dc * ig * (1 - gg*gg)
				dAd[row+3*H+j] = dhv * ct * og * (1 - og)

				dcNext[k] = dc * fg
			}
		}

		gradIH.Mul(dA.T(), step.x)
		l.WeightIH.Grad.Add(l.WeightIH.Grad, gradIH)
		gradHH.Mul(dA.T(), step.hPrev)
		l.WeightHH.Grad.Add(l.WeightHH.Grad, gradHH)
		for b := 0; b < batch; b++ {
			for j := 0; j < 4*H; j++ {
				gbih[j] += dAd[b*4*H+j]
				gbhh[j] += dAd[b*4*H+j]
			}
		}

		dx := mat.NewDense(batch, l.InputSize, nil)
		dx.Mul(dA, l.WeightIH.Value)
		dxs[t] = dx

		dhPrev := mat.NewDense(batch, H, nil)
		dhPrev.Mul(dA, l.WeightHH.Value)
		dhNext = dhPrev.RawMatrix().Data
	}

	l.cache = nil
	return dxs, nil
}

// LSTMStack is a multi-layer LSTM with dropout on the outputs of every
// layer except the last, active only in training mode.
type LSTMStack struct {
	Layers      []*LSTMLayer
	DropoutRate float64

	dropouts []*dropout
	rng      *rand.Rand
}

// NewLSTMStack builds numLayers recurrent layers. Parameter names use
// prefix, e.g. "lstm.weight_ih_l0".
func NewLSTMStack(prefix string, inputSize, hiddenSize, numLayers int, dropoutRate float64, rng *rand.Rand) (*LSTMStack, error) {
	if inputSize <= 0 || hiddenSize <= 0 || numLayers <= 0 {
		return nil, fmt.Errorf("invalid LSTM dimensions: input=%d hidden=%d layers=%d", inputSize, hiddenSize, numLayers)
	}
	if dropoutRate < 0 || dropoutRate >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0, 1), got %g", dropoutRate)
	}

	s := &LSTMStack{DropoutRate: dropoutRate, rng: rng}
	in := inputSize
	for i := 0; i < numLayers; i++ {
		s.Layers = append(s.Layers, newLSTMLayer(prefix, i, in, hiddenSize, rng))
		if i < numLayers-1 {
			s.dropouts = append(s.dropouts, &dropout{rate: dropoutRate})
		}
		in = hiddenSize
	}
	return s, nil
}

// Parameters returns all recurrent parameters in layer order.
func (s *LSTMStack) Parameters() []*Parameter {
	var params []*Parameter
	for _, l := range s.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// Forward runs the whole stack and returns the top layer's hidden states.
func (s *LSTMStack) Forward(xs []*mat.Dense, train bool) ([]*mat.Dense, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("LSTM input has no time steps")
	}
	if _, c := xs[0].Dims(); c != s.Layers[0].InputSize {
		return nil, fmt.Errorf("LSTM expects %d input features, got %d", s.Layers[0].InputSize, c)
	}

	out := xs
	for i, l := range s.Layers {
		out = l.Forward(out, train)
		if i < len(s.dropouts) {
			out = s.dropouts[i].forward(out, train, s.rng)
		}
	}
	return out, nil
}

// Backward propagates top-layer hidden state gradients down the stack.
func (s *LSTMStack) Backward(dhs []*mat.Dense) ([]*mat.Dense, error) {
	grad := dhs
	for i := len(s.Layers) - 1; i >= 0; i-- {
		if i < len(s.dropouts) {
			grad = s.dropouts[i].backward(grad)
		}
		var err error
		grad, err = s.Layers[i].Backward(grad)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return grad, nil
}

// contiguous returns the row-major data of m, copying when m is a view.
func contiguous(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	if raw.Stride == raw.Cols {
		return raw.Data[:raw.Rows*raw.Cols]
	}
	return mat.DenseCopyOf(m).RawMatrix().Data
}
