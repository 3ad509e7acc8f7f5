package connectivity

import "iter"

// ServiceInfo is a point-in-time view of one routed service. The router
// may reload between taking the snapshot and the caller reading it.
type ServiceInfo struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
	Endpoint string `json:"endpoint"`
	HasLocal bool   `json:"has_local"`
}

// ListServices iterates every service the router can dispatch: remote
// routes loaded from SQLite plus local-only handlers such as the
// dombind_* services. The bridge's /api/services endpoint drains this.
func (r *Router) ListServices() iter.Seq[ServiceInfo] {
	return func(yield func(ServiceInfo) bool) {
		r.mu.RLock()
		defer r.mu.RUnlock()

		routed := make(map[string]bool, len(r.routeSnap))
		for name, rt := range r.routeSnap {
			routed[name] = true
			_, hasLocal := r.localHandlers[name]
			if !yield(ServiceInfo{
				Name:     name,
				Strategy: rt.Strategy,
				Endpoint: rt.Endpoint,
				HasLocal: hasLocal,
			}) {
				return
			}
		}
		for name := range r.localHandlers {
			if routed[name] {
				continue
			}
			if !yield(ServiceInfo{Name: name, Strategy: "local", HasLocal: true}) {
				return
			}
		}
	}
}

// Inspect describes a single service. ok is false when the name has
// neither a route nor a local handler.
func (r *Router) Inspect(service string) (info ServiceInfo, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, hasRoute := r.routeSnap[service]
	_, hasLocal := r.localHandlers[service]
	if !hasRoute && !hasLocal {
		return ServiceInfo{}, false
	}

	info = ServiceInfo{Name: service, Strategy: "local", HasLocal: hasLocal}
	if hasRoute {
		info.Strategy = rt.Strategy
		info.Endpoint = rt.Endpoint
	}
	return info, true
}
