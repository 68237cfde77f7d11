package model

// InputType tells the client which input affordance to render.
type InputType string

// Input affordances.
const (
	InputText    InputType = "text"
	InputOptions InputType = "options"
)

// Option is one selectable choice offered with a response.
type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Response is what the conversation engine produces for one turn.
type Response struct {
	Message     string    `json:"message"`
	Options     []Option  `json:"options"`
	InputType   InputType `json:"inputType"`
	Example     string    `json:"example,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
}

// OptionIDs returns the ids of the offered options in order.
func (r Response) OptionIDs() []string {
	ids := make([]string, len(r.Options))
	for i, o := range r.Options {
		ids[i] = o.ID
	}
	return ids
}
