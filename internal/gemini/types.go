// ABOUTME: Wire types for the Gemini generateContent REST API
// ABOUTME: Request/response JSON shapes, kept to the subset parley uses

package gemini

// Request is the generateContent request body
type Request struct {
	Contents          []Content `json:"contents"`
	SystemInstruction *Content  `json:"systemInstruction,omitempty"`
	Tools             []Tool    `json:"tools,omitempty"`
}

// Content is a role-tagged sequence of parts
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part carries a single text fragment
type Part struct {
	Text string `json:"text"`
}

// Tool enables a built-in capability on the request
type Tool struct {
	GoogleSearch *GoogleSearch `json:"google_search,omitempty"`
}

// GoogleSearch enables web-grounded generation
type GoogleSearch struct{}

// Response is the generateContent response body
type Response struct {
	Candidates []Candidate `json:"candidates"`
	Error      *APIError   `json:"error,omitempty"`
}

// Candidate is one completion alternative
type Candidate struct {
	Content Content `json:"content"`
}

// APIError is the error object embedded in non-2xx response bodies
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
