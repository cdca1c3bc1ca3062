package plugin

// ValidationError is one problem a plugin reported for a configuration key.
// Key is empty for errors that apply to the whole configuration.
type ValidationError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ValidationResult is a plugin's verdict on a configuration.
type ValidationResult struct {
	Errors []ValidationError `json:"errors,omitempty"`
}

// IsSuccessful reports whether no errors were reported.
func (r *ValidationResult) IsSuccessful() bool {
	return r == nil || len(r.Errors) == 0
}

// AddError appends an error.
func (r *ValidationResult) AddError(key, message string) {
	r.Errors = append(r.Errors, ValidationError{Key: key, Message: message})
}

// ErrorsFor returns the messages reported against key.
func (r *ValidationResult) ErrorsFor(key string) []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, e := range r.Errors {
		if e.Key == key {
			out = append(out, e.Message)
		}
	}
	return out
}

// Result is the outcome of a plugin action such as a connection check.
type Result struct {
	Successful bool     `json:"successful"`
	Messages   []string `json:"messages"`
}

// Success returns a successful result.
func Success(messages ...string) *Result {
	return &Result{Successful: true, Messages: nonNil(messages)}
}

// Failure returns a failed result.
func Failure(messages ...string) *Result {
	return &Result{Successful: false, Messages: nonNil(messages)}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Image is a plugin icon.
type Image struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

// DataURI renders the icon for inline use.
func (i *Image) DataURI() string {
	if i == nil {
		return ""
	}
	return "data:" + i.ContentType + ";base64," + i.Data
}
