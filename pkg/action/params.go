package action

// Params holds the named parameters of an action request.
// Order keeps the first-seen order of names; a repeated name keeps its
// original position and takes the latest value.
type Params struct {
	Values map[string]string `json:"values"`
	Order  []string          `json:"order"`
}

// NewParams creates an empty parameter set.
func NewParams() Params {
	return Params{Values: make(map[string]string)}
}

// Set assigns name=value.
func (p *Params) Set(name, value string) {
	if p.Values == nil {
		p.Values = make(map[string]string)
	}
	if _, exists := p.Values[name]; !exists {
		p.Order = append(p.Order, name)
	}
	p.Values[name] = value
}

// Get returns the value of name.
func (p Params) Get(name string) (string, bool) {
	v, ok := p.Values[name]
	return v, ok
}

// Len returns the number of distinct names.
func (p Params) Len() int {
	return len(p.Order)
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	out := Params{
		Values: make(map[string]string, len(p.Values)),
		Order:  append([]string(nil), p.Order...),
	}
	for k, v := range p.Values {
		out.Values[k] = v
	}
	return out
}

// Map returns the values as a map[string]interface{} for schema validation.
func (p Params) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Values))
	for k, v := range p.Values {
		out[k] = v
	}
	return out
}
