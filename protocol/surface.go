package protocol

// Surface ids the orchestrator renders into.
const (
	SurfaceOrder      = "order"
	SurfaceClarify    = "clarify"
	SurfaceCandidates = "candidates"
	SurfaceResult     = "result"
	SurfaceAmbient    = "ambient"
	SurfacePocket     = "pocket"
	SurfaceNotice     = "notice"
)
