package stage

// Health summarizes the readiness of an enrichment step.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Disabled reports a step that is switched off by configuration. It counts as
// ready because the workflow skips it.
func Disabled(name string) Health {
	return Health{Name: name, Ready: true, Detail: "disabled"}
}
