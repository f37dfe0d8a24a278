package envelope

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// replay simulates RepaintOnLast as of every bar t = 0..n-1.
//
// Commit order: frames are committed in strictly increasing t and later
// frames overwrite earlier ones, so position p ends up holding the frame of
// the largest t whose window covers p, i.e. min(n-1, p+W-1).
func replay(src []float64, p Params) Result {
	n := len(src)
	res := newResult(n, RepaintFullHistory, p)
	w := kernelWeights(res.Window, p.Bandwidth)

	local := make([]float64, res.Window)
	for t := 0; t < n; t++ {
		l := min(res.Window, t+1)
		mae := windowFrame(src, t, l, w, p.ErrorMultiplier, local[:l])
		commitFrame(&res, t, local[:l], mae)
	}

	res.Upper, res.Lower = Bands(res.Mid, res.MAE)
	return res
}

// ReplayParallel is RepaintFullHistory with frames computed on up to workers
// goroutines. Each position records the largest t committed to it and a
// frame only overwrites positions stamped with a smaller t, so the output is
// bit-identical to the sequential replay. workers <= 1 runs sequentially.
func ReplayParallel(prices []float64, p Params, workers int) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if len(prices) == 0 {
		return Result{}, ErrEmptyInput
	}
	if workers <= 1 {
		return replay(prices, p), nil
	}

	n := len(prices)
	res := newResult(n, RepaintFullHistory, p)
	w := kernelWeights(res.Window, p.Bandwidth)

	stamp := make([]int, n)
	for i := range stamp {
		stamp[i] = -1
	}
	var mu sync.Mutex

	frames := sync.Pool{New: func() any { return make([]float64, res.Window) }}

	var g errgroup.Group
	g.SetLimit(workers)
	for t := 0; t < n; t++ {
		t := t
		g.Go(func() error {
			l := min(res.Window, t+1)
			buf := frames.Get().([]float64)
			local := buf[:l]
			mae := windowFrame(prices, t, l, w, p.ErrorMultiplier, local)

			mu.Lock()
			for i, v := range local {
				pos := t - i
				if t > stamp[pos] {
					res.Mid[pos] = v
					res.MAE[pos] = mae
					stamp[pos] = t
				}
			}
			mu.Unlock()

			frames.Put(buf)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res.Upper, res.Lower = Bands(res.Mid, res.MAE)
	return res, nil
}
