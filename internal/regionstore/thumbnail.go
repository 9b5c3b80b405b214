package regionstore

// calculateThumbnailDownsample computes the single canonical downsample
// used for a server's thumbnail: clamp(1, maxDim/maxThumbnailSize,
// minDim/minThumbnailSize), falling back to 1 once the image is already
// too small to downsample further.
func calculateThumbnailDownsample(width, height, maxThumbnailSize, minThumbnailSize int) float64 {
	maxDim := float64(max(width, height))
	minDim := float64(min(width, height))
	if minDim > float64(minThumbnailSize) {
		maxDownsample := minDim / float64(minThumbnailSize)
		d := maxDim / float64(maxThumbnailSize)
		if d > maxDownsample {
			d = maxDownsample
		}
		if d < 1 {
			d = 1
		}
		return d
	}
	return 1
}

// ThumbnailRequest builds the RegionRequest covering the full image at
// the computed thumbnail downsample for (server, z, t). A server reporting
// a single resolution level (non-pyramidal) is thumbnailed at native
// resolution.
func ThumbnailRequest[T any](server ImageServer[T], zPosition, tPosition, maxThumbnailSize, minThumbnailSize int) RegionRequest {
	width, height := server.Width(), server.Height()
	downsample := 1.0
	if server.NResolutions() > 1 {
		downsample = calculateThumbnailDownsample(width, height, maxThumbnailSize, minThumbnailSize)
	}
	if downsample < 1 {
		downsample = 1
	}
	return NewRegionRequest(server.Path(), downsample, 0, 0, width, height, zPosition, tPosition)
}
