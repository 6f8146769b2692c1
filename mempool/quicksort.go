package mempool

// quicksort sorts records [low, high] of the portion in place by derived
// key. Lomuto partition with the rightmost element as pivot; records whose
// key is strictly less than the pivot's move below the boundary. The
// explicit range stack produces the permutation of the textbook recursive
// definition without growing the goroutine stack on adversarial input.
func quicksort(p *Portion, mask Mask, scratch []byte, low, high int) {
	if low >= high {
		return
	}

	type span struct{ low, high int }
	stack := make([]span, 0, 32)
	stack = append(stack, span{low, high})

	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s.low >= s.high {
			continue
		}

		mid := partition(p, mask, scratch, s.low, s.high)

		// Push in reverse so the left span is processed first, matching
		// the recursion order.
		stack = append(stack, span{mid + 1, s.high})
		stack = append(stack, span{s.low, mid - 1})
	}
}

// partition arranges [low, high] around the pivot at high and returns the
// pivot's final position.
func partition(p *Portion, mask Mask, scratch []byte, low, high int) int {
	pivot := p.Key(high, mask)

	firstHigh := low
	for i := low; i < high; i++ {
		if p.Key(i, mask) < pivot {
			p.Swap(i, firstHigh, scratch)
			firstHigh++
		}
	}

	p.Swap(high, firstHigh, scratch)
	return firstHigh
}
