package parser

// Plan is the phase 1/2 work split: for every category, exactly n buckets
// of near-equal item count whose concatenation is the category's lines in
// document order.
type Plan struct {
	Buckets [NumCategories][][]LineSpan
	Totals  [NumCategories]int
}

// Workers returns the number of buckets per category.
func (p *Plan) Workers() int {
	return len(p.Buckets[Position])
}

// bucketSizes splits total items into n sizes that differ by at most one.
// The first total%n buckets take the extra item.
func bucketSizes(total, n int) []int {
	sizes := make([]int, n)
	base, extra := total/n, total%n
	for i := range sizes {
		sizes[i] = base
		if i < extra {
			sizes[i]++
		}
	}
	return sizes
}

// Rebalance merges per-chunk classifications, given in worker id order,
// into a Plan of n buckets per category. Buckets are filled by one
// left-to-right scan: a bucket takes items until it holds its target size,
// then the next bucket opens.
func Rebalance(chunks []ClassifiedSpans, n int) *Plan {
	if n < 1 {
		n = 1
	}
	plan := &Plan{}
	for cat := Category(0); cat < NumCategories; cat++ {
		total := 0
		for i := range chunks {
			total += chunks[i].Len(cat)
		}
		plan.Totals[cat] = total

		sizes := bucketSizes(total, n)
		buckets := make([][]LineSpan, n)
		cur := 0
		for i := range chunks {
			for _, s := range chunks[i].Lines[cat] {
				for len(buckets[cur]) == sizes[cur] {
					cur++
				}
				if buckets[cur] == nil {
					buckets[cur] = make([]LineSpan, 0, sizes[cur])
				}
				buckets[cur] = append(buckets[cur], s)
			}
		}
		plan.Buckets[cat] = buckets
	}
	return plan
}
