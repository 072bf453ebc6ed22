package negotiate

import "context"

// Title and field labels used for interactive credential prompts.
const (
	promptTitle   = "HTTP proxy authentication"
	usernameLabel = "Proxy username"
	passwordLabel = "Proxy password"
)

// PromptField describes one field of an interactive credential prompt.
type PromptField struct {
	// Label is the human-readable name of the field.
	Label string

	// Masked indicates the input must not be echoed back to the user.
	Masked bool
}

// PromptRequest asks an interactive party for credential fields.
type PromptRequest struct {
	// Title names the overall interaction.
	Title string

	// Fields lists the values requested, in order.
	Fields []PromptField
}

// PromptResponse carries the answers to a PromptRequest, indexed
// identically to its Fields. The negotiator takes ownership of the
// value buffers and zeroes them once their contents are copied in.
type PromptResponse struct {
	Values [][]byte
}

// Prompter obtains credential fields from an interactive party. It may
// block; implementations return ErrAborted (or a context error) when
// the user declines to answer.
//
// The Negotiator itself never calls a Prompter. It only exposes the
// pending request through PendingPrompt; drivers such as the tunnel
// dialer connect the two.
type Prompter interface {
	Prompt(ctx context.Context, req *PromptRequest) (*PromptResponse, error)
}
