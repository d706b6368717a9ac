package response

// Response is the envelope every API handler writes. Results carries the
// payload on success, Detail carries a human-readable message (error detail
// or a short confirmation).
type Response struct {
	Results interface{} `json:"results,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}
