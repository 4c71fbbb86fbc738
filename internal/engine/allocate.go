package engine

// AllocateImages shares a flat image pool across n chapters in order: each of
// the first n-1 chapters gets floor(len(images)/n) images and the last chapter
// takes the remainder. Returns nil when n is 0. Every image is assigned exactly
// once and the result only depends on n and the pool order.
func AllocateImages(n int, images []string) [][]string {
	if n <= 0 {
		return nil
	}

	per := len(images) / n
	out := make([][]string, n)
	for i := 0; i < n-1; i++ {
		out[i] = append([]string(nil), images[i*per:(i+1)*per]...)
	}
	out[n-1] = append([]string(nil), images[(n-1)*per:]...)
	return out
}
