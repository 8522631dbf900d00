package types

// ProviderResult is the normalized output of one successful provider call.
type ProviderResult struct {
	Content     string         `json:"content"`
	Usage       TokenUsage     `json:"usage"`
	Model       string         `json:"model"`
	ProviderID  string         `json:"provider"`
	RawMetadata map[string]any `json:"raw_metadata,omitempty"`
}

type TokenUsage struct {
	Input  int `json:"input_tokens"`
	Output int `json:"output_tokens"`
	Total  int `json:"total_tokens"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *ProviderResult) Clone() *ProviderResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.RawMetadata != nil {
		out.RawMetadata = make(map[string]any, len(r.RawMetadata))
		for k, v := range r.RawMetadata {
			out.RawMetadata[k] = v
		}
	}
	return &out
}
