package engine

// maskURL 隐藏 URL 中间部分（通常是 API key）
func maskURL(url string) string {
	if len(url) > 20 {
		return url[:10] + "..." + url[len(url)-10:]
	}
	return url
}

// chunksOf splits items into consecutive slices of at most size elements.
func chunksOf[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// blockSpan is the inclusive length of [from, to], saturating at MaxUint64.
func blockSpan(from, to uint64) uint64 {
	if to < from {
		return 0
	}
	span := to - from
	if span == ^uint64(0) {
		return span
	}
	return span + 1
}

// saturatingSub returns a-b, floored at zero.
func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
