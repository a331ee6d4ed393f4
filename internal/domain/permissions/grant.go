package permissions

// Grant is a set of capabilities an operator approved for a plugin.
type Grant []Capability

// NewGrant creates an empty Grant.
func NewGrant() Grant {
	return make(Grant, 0)
}

// Add adds a capability if it is not already present.
func (g *Grant) Add(c Capability) {
	if g.Contains(c) {
		return
	}
	*g = append(*g, c)
}

// Contains checks if the grant holds c.
func (g Grant) Contains(c Capability) bool {
	for _, existing := range g {
		if existing.Equals(c) {
			return true
		}
	}
	return false
}

// Remove removes c from the grant.
func (g *Grant) Remove(c Capability) {
	for i, existing := range *g {
		if existing.Equals(c) {
			*g = append((*g)[:i], (*g)[i+1:]...)
			return
		}
	}
}

// Missing returns the capabilities in required that g does not hold.
func (g Grant) Missing(required Grant) Grant {
	missing := NewGrant()
	for _, c := range required {
		if !g.Contains(c) {
			missing.Add(c)
		}
	}
	return missing
}
