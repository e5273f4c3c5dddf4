package venues

// RouteClass partitions swap requests by which venues may serve them.
type RouteClass string

const (
	// RouteSameNetwork: per-network AMM venues in fixed priority order, with
	// the bridge aggregator as fallback for networks no AMM covers.
	RouteSameNetwork RouteClass = "same_network"
	// RouteCrossNetwork stays inside one settlement family but changes
	// network; only the bridge aggregator can serve it.
	RouteCrossNetwork RouteClass = "cross_network"
	// RouteCrossFamily crosses settlement families. AMM venues are local to
	// one family, so only the bridge aggregator applies.
	RouteCrossFamily RouteClass = "cross_family"
)

func Classify(req QuoteRequest) RouteClass {
	if req.FromNetwork.Family() != req.ToNetwork.Family() {
		return RouteCrossFamily
	}
	if !req.FromNetwork.Equal(req.ToNetwork) {
		return RouteCrossNetwork
	}
	return RouteSameNetwork
}
